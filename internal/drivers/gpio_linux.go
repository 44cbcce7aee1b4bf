//go:build linux

package drivers

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// chipLine owns the chip handle alongside the requested line.
type chipLine struct {
	chip *gpiocdev.Chip
	*gpiocdev.Line
}

func (l *chipLine) Close() error {
	lineErr := l.Line.Close()
	chipErr := l.chip.Close()
	if lineErr != nil {
		return lineErr
	}
	return chipErr
}

func openLine(opts gpioOptions) (gpioLine, error) {
	chip, err := gpiocdev.NewChip(opts.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	reqOpts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if opts.ActiveLow {
		reqOpts = append(reqOpts, gpiocdev.AsActiveLow)
	}

	line, err := chip.RequestLine(opts.Line, reqOpts...)
	if err != nil {
		chip.Close()
		return nil, err
	}

	return &chipLine{chip: chip, Line: line}, nil
}
