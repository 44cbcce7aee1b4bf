package output

import (
	"context"
	"fmt"
	"strconv"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// OutputState is the reported state of an output. PWM outputs report their
// duty cycle instead of on/off.
type OutputState struct {
	State     types.State `json:"state"`
	DutyCycle float64     `json:"duty_cycle,omitempty"`
	PWM       bool        `json:"pwm,omitempty"`
}

func (s OutputState) String() string {
	if s.PWM {
		return strconv.FormatFloat(s.DutyCycle, 'f', -1, 64)
	}
	return string(s.State)
}

// IsOn reports whether the output is on. Self tracking drivers and
// volume/value outputs are asked directly, everything else is derived from
// the tracked timers.
func (c *Controller) IsOn(ctx context.Context, id string) (bool, error) {
	rt, ok := c.lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownOutput, id)
	}
	return c.isOn(ctx, rt)
}

func (c *Controller) isOn(ctx context.Context, rt *runtime) (bool, error) {
	rt.stateMu.RLock()
	capability := rt.cfg.Capability
	driver := rt.driver
	tracked := rt.trackedOn()
	rt.stateMu.RUnlock()

	if driver == nil {
		return tracked, nil
	}
	if capability == types.CapabilityVolume || capability == types.CapabilityValue || tracksState(driver) {
		return driver.IsOn(ctx)
	}
	return tracked, nil
}

// OutputState returns "on"/"off" or the current duty cycle of one output.
func (c *Controller) OutputState(ctx context.Context, id string) (OutputState, error) {
	rt, ok := c.lookup(id)
	if !ok {
		return OutputState{}, fmt.Errorf("%w: %s", ErrUnknownOutput, id)
	}
	return c.outputState(ctx, rt)
}

func (c *Controller) outputState(ctx context.Context, rt *runtime) (OutputState, error) {
	on, err := c.isOn(ctx, rt)
	if err != nil {
		return OutputState{}, err
	}

	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()

	st := OutputState{State: types.StateOff}
	if on {
		st.State = types.StateOn
	}
	if rt.cfg.Capability == types.CapabilityPWM {
		st.PWM = true
		st.DutyCycle = rt.duty
	}
	return st, nil
}

// OutputStatesAll returns the state of every output. Outputs whose driver
// cannot report a state are left out.
func (c *Controller) OutputStatesAll(ctx context.Context) map[string]OutputState {
	states := make(map[string]OutputState)
	for _, rt := range c.snapshot() {
		st, err := c.outputState(ctx, rt)
		if err != nil {
			continue
		}
		states[rt.config().ID] = st
	}
	return states
}

// CurrentAmpLoad is the summed amp draw of every output that is on.
func (c *Controller) CurrentAmpLoad(ctx context.Context) float64 {
	load, _ := c.onLoad(ctx, nil)
	return load
}

// onLoad sums the amps of every output that is on, leaving out skip. An
// output whose driver cannot report its state counts as on.
func (c *Controller) onLoad(ctx context.Context, skip *runtime) (float64, int) {
	var (
		load float64
		n    int
	)
	for _, rt := range c.snapshot() {
		if rt == skip {
			continue
		}
		on, err := c.isOn(ctx, rt)
		if err != nil {
			c.logger.Warn("Counting output as on, state unknown",
				zap.String("output_id", rt.config().ID),
				zap.Error(err))
			on = true
		}
		if !on {
			continue
		}
		load += rt.config().Amps
		n++
	}
	return load, n
}

// SecondsCurrentlyOn is how long the output has been on in its current
// cycle, 0 when off.
func (c *Controller) SecondsCurrentlyOn(id string) (float64, error) {
	rt, ok := c.lookup(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOutput, id)
	}

	now := c.clock.Now()
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	return rt.secondsOn(now), nil
}

// MaxAmps is the configured amp limit.
func (c *Controller) MaxAmps() float64 {
	return c.arbiter.Max()
}
