package output

import (
	"fmt"
	"sync"
)

// Arbiter serializes every decision that energizes an output. The projected
// load is computed from the outputs that are actually on, inside the same
// critical section as the driver call, so two activations can never both pass
// the check against the same headroom.
type Arbiter struct {
	mu sync.Mutex

	maxMu   sync.RWMutex
	maxAmps float64
}

func NewArbiter(maxAmps float64) *Arbiter {
	return &Arbiter{maxAmps: maxAmps}
}

func (a *Arbiter) SetMax(maxAmps float64) {
	a.maxMu.Lock()
	a.maxAmps = maxAmps
	a.maxMu.Unlock()
}

func (a *Arbiter) Max() float64 {
	a.maxMu.RLock()
	defer a.maxMu.RUnlock()
	return a.maxAmps
}

// Admit runs commit when load() plus amps stays within the maximum. load must
// report the draw of every other output that is on. Nothing else can energize
// an output until commit returns.
func (a *Arbiter) Admit(amps float64, load func() float64, commit func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	maxAmps := a.Max()
	projected := load() + amps
	if projected > maxAmps {
		return fmt.Errorf("%w: %.2f A projected, %.2f A allowed", ErrAmpBudget, projected, maxAmps)
	}
	return commit()
}

// Hold runs fn inside the critical section without a budget check. It is
// used by activations the budget does not gate, so they cannot slip between
// another output's check and its commit.
func (a *Arbiter) Hold(fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn()
}
