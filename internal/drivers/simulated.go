package drivers

import (
	"context"
	"errors"
	"sync"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
)

var errSimulatedSetup = errors.New("simulated setup failure")

type simulatedOptions struct {
	TracksState bool `json:"tracks_state"`
	FailSetup   bool `json:"fail_setup"`
}

// Simulated keeps its state in memory. It backs outputs without hardware
// and the development seed configuration.
type Simulated struct {
	mu    sync.Mutex
	opts  simulatedOptions
	setup bool
	last  output.Command
}

func newSimulated(options map[string]any) (*Simulated, error) {
	s := &Simulated{}
	if err := decodeOptions(options, &s.opts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulated) Setup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.FailSetup {
		return errSimulatedSetup
	}
	s.setup = true
	s.last = output.Command{State: types.StateOff}
	return nil
}

func (s *Simulated) Switch(ctx context.Context, cmd output.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.setup {
		return ErrNotSetup
	}
	s.last = cmd
	return nil
}

func (s *Simulated) IsOn(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.State == types.StateOn, nil
}

func (s *Simulated) IsSetup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setup
}

func (s *Simulated) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setup = false
	return nil
}

func (s *Simulated) TracksState() bool {
	return s.opts.TracksState
}

// Last returns the last command the driver received.
func (s *Simulated) Last() output.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
