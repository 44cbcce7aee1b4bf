package output

import (
	"context"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
)

// Command is what the controller asks a driver to do. Amount is a signed
// duration in seconds for on/off drivers and a volume or value for
// dispensing drivers. DutyCycle is already inverted when the output is
// configured with PWMInvert.
type Command struct {
	State     types.State
	Amount    float64
	DutyCycle float64
}

// Driver controls one physical output. Any method may fail; a failing Setup
// disables only the output it belongs to.
type Driver interface {
	Setup(ctx context.Context) error
	Switch(ctx context.Context, cmd Command) error
	IsOn(ctx context.Context) (bool, error)
	IsSetup() bool
	Shutdown(ctx context.Context) error
}

// StateTracker is implemented by drivers that know their own on/off state
// (e.g. a relay read back over the bus). The controller asks those drivers
// instead of deriving the state from its timers.
type StateTracker interface {
	TracksState() bool
}

// DriverFactory builds the driver for an output configuration.
type DriverFactory func(out types.Output) (Driver, error)

func tracksState(d Driver) bool {
	st, ok := d.(StateTracker)
	return ok && st.TracksState()
}
