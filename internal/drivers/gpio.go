package drivers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

type gpioOptions struct {
	Chip      string `json:"chip"`
	Line      int    `json:"line"`
	ActiveLow bool   `json:"active_low"`
}

// gpioLine is a requested output line.
type gpioLine interface {
	SetValue(value int) error
	Value() (int, error)
	Close() error
}

// GPIORelay switches a relay wired to a GPIO line. The line value is read
// back for the state.
type GPIORelay struct {
	mu     sync.Mutex
	opts   gpioOptions
	line   gpioLine
	open   func(opts gpioOptions) (gpioLine, error)
	logger *zap.Logger
}

func newGPIORelay(defaultChip string, options map[string]any, logger *zap.Logger) (*GPIORelay, error) {
	var opts gpioOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if opts.Chip == "" {
		opts.Chip = defaultChip
	}
	return &GPIORelay{
		opts:   opts,
		open:   openLine,
		logger: logger,
	}, nil
}

func (g *GPIORelay) Setup(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	line, err := g.open(g.opts)
	if err != nil {
		return fmt.Errorf("request line %d on %s: %w", g.opts.Line, g.opts.Chip, err)
	}
	g.line = line

	g.logger.Info("GPIO line requested",
		zap.String("chip", g.opts.Chip),
		zap.Int("line", g.opts.Line),
		zap.Bool("active_low", g.opts.ActiveLow))
	return nil
}

func (g *GPIORelay) Switch(ctx context.Context, cmd output.Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return ErrNotSetup
	}

	value := 0
	if cmd.State == types.StateOn {
		value = 1
	}
	if err := g.line.SetValue(value); err != nil {
		return fmt.Errorf("set line %d: %w", g.opts.Line, err)
	}
	return nil
}

func (g *GPIORelay) IsOn(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return false, ErrNotSetup
	}

	value, err := g.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line %d: %w", g.opts.Line, err)
	}
	return value == 1, nil
}

func (g *GPIORelay) IsSetup() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.line != nil
}

// Shutdown drives the line low and releases it.
func (g *GPIORelay) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return nil
	}

	var errs []error
	if err := g.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("reset line %d: %w", g.opts.Line, err))
	}
	if err := g.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line %d: %w", g.opts.Line, err))
	}
	g.line = nil

	return errors.Join(errs...)
}

func (g *GPIORelay) TracksState() bool { return true }
