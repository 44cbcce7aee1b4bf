package output

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// SetupAction is an out-of-band configuration change.
type SetupAction string

const (
	ActionAdd    SetupAction = "add"
	ActionModify SetupAction = "modify"
	ActionDelete SetupAction = "delete"
)

// Start loads every output, sets up its driver, applies the startup policies
// and starts the scheduling loop. A driver that cannot be set up disables only
// its own output.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.ReloadSettings(ctx); err != nil {
		return err
	}

	outputs, err := c.store.LoadOutputs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load outputs: %w", err)
	}

	c.setupMu.Lock()
	for _, cfg := range outputs {
		c.install(ctx, cfg)
	}
	c.setupMu.Unlock()

	for _, cfg := range outputs {
		c.applyStartupPolicy(ctx, cfg.ID)
	}

	c.startLoop()

	c.logger.Info("Output controller started",
		zap.Int("outputs", len(outputs)),
		zap.Float64("max_amps", c.arbiter.Max()))

	return nil
}

// ReloadSettings re-reads the system wide amp limit.
func (c *Controller) ReloadSettings(ctx context.Context) error {
	maxAmps, err := c.store.MaxAmps(ctx)
	if err != nil {
		return fmt.Errorf("failed to load max amps: %w", err)
	}
	c.arbiter.SetMax(maxAmps)
	return nil
}

// OutputSetup applies an add, modify or delete that already happened in the
// configuration store. It waits for any switch in flight on the same output.
func (c *Controller) OutputSetup(ctx context.Context, action SetupAction, id string) error {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	switch action {
	case ActionAdd, ActionModify:
		return c.addOrModify(ctx, id)
	case ActionDelete:
		return c.deleteOutput(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

func (c *Controller) addOrModify(ctx context.Context, id string) error {
	cfg, err := c.store.GetOutput(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load output %s: %w", id, err)
	}

	if err := c.ReloadSettings(ctx); err != nil {
		c.logger.Warn("Keeping previous amp limit", zap.Error(err))
	}

	rt, ok := c.lookup(id)
	if !ok {
		c.install(ctx, cfg)
		c.logger.Info("Output added", zap.String("output_id", id))
		return nil
	}

	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	cfg = normalize(cfg)
	old := rt.config()

	if !driverChanged(old, cfg) {
		rt.stateMu.Lock()
		cfg.LastDutyCycle = rt.cfg.LastDutyCycle
		cfg.OffUntil = rt.cfg.OffUntil
		rt.cfg = cfg
		rt.stateMu.Unlock()

		c.logger.Info("Output modified", zap.String("output_id", id))
		return nil
	}

	// The driver has to be rebuilt, which ends whatever the output was doing.
	c.detach(ctx, rt)

	rt.stateMu.Lock()
	rt.cfg = cfg
	rt.stateMu.Unlock()

	c.attachDriver(ctx, rt, cfg)

	c.logger.Info("Output modified, driver rebuilt",
		zap.String("output_id", id),
		zap.String("device_type", cfg.DeviceType))
	return nil
}

func (c *Controller) deleteOutput(ctx context.Context, id string) error {
	rt, ok := c.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOutput, id)
	}

	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	c.detach(ctx, rt)

	rt.stateMu.Lock()
	rt.removed = true
	rt.stateMu.Unlock()

	c.mu.Lock()
	if c.outputs[id] == rt {
		delete(c.outputs, id)
	}
	c.mu.Unlock()

	c.logger.Info("Output deleted", zap.String("output_id", id))
	return nil
}

// install builds the runtime and driver for cfg and registers it.
func (c *Controller) install(ctx context.Context, cfg types.Output) {
	cfg = normalize(cfg)
	rt := newRuntime(cfg)
	c.attachDriver(ctx, rt, cfg)

	c.mu.Lock()
	c.outputs[cfg.ID] = rt
	c.mu.Unlock()
}

func (c *Controller) attachDriver(ctx context.Context, rt *runtime, cfg types.Output) {
	driver, err := c.factory(cfg)
	if err != nil {
		c.logger.Error("Driver creation failed",
			zap.String("output_id", cfg.ID),
			zap.String("device_type", cfg.DeviceType),
			zap.Error(err))
		return
	}

	if err := driver.Setup(ctx); err != nil {
		c.driverError(cfg, "setup", err)
		return
	}

	rt.stateMu.Lock()
	rt.driver = driver
	rt.stateMu.Unlock()

	c.logger.Info("Output loaded",
		zap.String("output_id", cfg.ID),
		zap.String("name", cfg.Name),
		zap.String("device_type", cfg.DeviceType),
		zap.String("capability", string(cfg.Capability)))
}

// detach records any open on period, shuts the driver down and clears the
// runtime state. Caller holds rt.opMu.
func (c *Controller) detach(ctx context.Context, rt *runtime) {
	now := c.clock.Now()

	rt.stateMu.Lock()
	cfg := rt.cfg
	driver := rt.driver
	secs, start, ok := rt.elapsedOn(now)
	rt.clearTimers()
	rt.clearPWM()
	rt.driver = nil
	rt.stateMu.Unlock()

	if ok {
		c.recorder.RecordDuration(cfg, secs, start)
	}
	if driver != nil {
		if err := driver.Shutdown(ctx); err != nil {
			c.driverError(cfg, "shutdown", err)
		}
	}
}

// Outputs returns the configuration of every registered output ordered by id.
func (c *Controller) Outputs() []types.Output {
	rts := c.snapshot()
	out := make([]types.Output, 0, len(rts))
	for _, rt := range rts {
		out = append(out, rt.config())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Output returns the configuration of one output.
func (c *Controller) Output(id string) (types.Output, bool) {
	rt, ok := c.lookup(id)
	if !ok {
		return types.Output{}, false
	}
	return rt.config(), true
}

func normalize(cfg types.Output) types.Output {
	if cfg.Capability == "" {
		cfg.Capability = types.CapabilityOnOff
	}
	if cfg.ShutdownPolicy == "" {
		cfg.ShutdownPolicy = types.PolicyOff
	}
	return cfg
}

func driverChanged(old, cfg types.Output) bool {
	return old.DeviceType != cfg.DeviceType ||
		old.Capability != cfg.Capability ||
		old.Channel != cfg.Channel ||
		old.PWMHertz != cfg.PWMHertz ||
		old.PWMInvert != cfg.PWMInvert ||
		!reflect.DeepEqual(old.Options, cfg.Options)
}
