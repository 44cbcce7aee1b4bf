package output

import (
	"time"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithPollInterval sets how often timed cycles are checked for expiry.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTriggerEvaluator sets the evaluator invoked after committed switches.
func WithTriggerEvaluator(ev TriggerEvaluator) Option {
	return func(c *Controller) {
		c.evaluator = ev
	}
}

// WithListener adds a listener for committed transitions.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}
