//go:build !linux

package drivers

import "errors"

// openLine is not available on non-Linux platforms.
func openLine(opts gpioOptions) (gpioLine, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}
