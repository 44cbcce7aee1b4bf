package output

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// policyRequest maps a startup or shutdown policy to a switch request.
// ok is false when the policy leaves the output alone.
func policyRequest(cfg types.Output, policy types.Policy, value float64) (req SwitchRequest, ok bool) {
	req = SwitchRequest{OutputID: cfg.ID, State: types.StateOff}

	switch policy {
	case types.PolicyOff:
	case types.PolicyOn:
		req.State = types.StateOn
		if cfg.Capability == types.CapabilityPWM {
			req.DutyCycle = 100
		}
	case types.PolicyRestoreLast:
		if cfg.Capability == types.CapabilityPWM && cfg.LastDutyCycle > 0 {
			req.State = types.StateOn
			req.DutyCycle = cfg.LastDutyCycle
		}
	case types.PolicySetValue:
		switch cfg.Capability {
		case types.CapabilityPWM:
			if value > 0 {
				req.State = types.StateOn
				req.DutyCycle = value
			}
		case types.CapabilityVolume, types.CapabilityValue:
			req.State = types.StateOn
			req.Amount = value
		default:
			if value > 0 {
				req.State = types.StateOn
			}
		}
	default:
		return req, false
	}

	return req, true
}

func (c *Controller) applyStartupPolicy(ctx context.Context, id string) {
	rt, ok := c.lookup(id)
	if !ok || !rt.ready() {
		return
	}

	cfg := rt.config()
	req, ok := policyRequest(cfg, cfg.StartupPolicy, cfg.StartupValue)
	if !ok {
		return
	}
	req.SkipTriggers = !cfg.TriggerAtStartup

	if _, err := c.Switch(ctx, req); err != nil {
		c.logger.Warn("Startup policy failed",
			zap.String("output_id", id),
			zap.String("policy", string(cfg.StartupPolicy)),
			zap.Error(err))
	}
}

// Shutdown stops the scheduling loop, applies every shutdown policy without
// firing triggers and shuts all drivers down. Driver failures are logged per
// output. The task pool is drained by its owner afterwards.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopLoop()

	for _, rt := range c.snapshot() {
		c.shutdownOutput(ctx, rt)
	}

	c.logger.Info("Output controller stopped")
	return nil
}

func (c *Controller) shutdownOutput(ctx context.Context, rt *runtime) {
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	cfg := rt.config()

	if req, ok := policyRequest(cfg, cfg.ShutdownPolicy, cfg.ShutdownValue); ok && rt.ready() {
		req.SkipTriggers = true
		_, tr, err := c.switchLocked(ctx, rt, req)
		switch {
		case err == nil:
			c.publish(ctx, tr, true)
		case errors.Is(err, ErrAlreadyOn):
		default:
			c.logger.Warn("Shutdown policy failed",
				zap.String("output_id", cfg.ID),
				zap.String("policy", string(cfg.ShutdownPolicy)),
				zap.Error(err))
		}
	}

	driver := rt.currentDriver()
	if driver == nil {
		return
	}
	if err := driver.Shutdown(ctx); err != nil {
		c.driverError(cfg, "shutdown", err)
	}
}
