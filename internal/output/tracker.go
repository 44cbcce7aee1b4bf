package output

import (
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
)

// runtime is the controller owned state of one output. opMu serializes
// mutating operations (switch, modify, delete, scheduled off) on the id and
// is held across driver calls. stateMu only guards the fields below so
// queries never wait on a slow driver.
type runtime struct {
	opMu sync.Mutex

	stateMu sync.RWMutex
	cfg     types.Output
	driver  Driver
	removed bool

	// timed cycle
	timed        bool
	onUntil      time.Time
	lastAmount   float64
	offTriggered bool

	turnedOnAt time.Time

	duty       float64
	pwmOnSince time.Time

	offUntil time.Time
}

func newRuntime(cfg types.Output) *runtime {
	rt := &runtime{cfg: cfg}
	if cfg.OffUntil != nil {
		rt.offUntil = *cfg.OffUntil
	}
	return rt
}

// config returns a copy of the output configuration.
func (rt *runtime) config() types.Output {
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	return rt.cfg
}

func (rt *runtime) currentDriver() Driver {
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	return rt.driver
}

func (rt *runtime) ready() bool {
	d := rt.currentDriver()
	return d != nil && d.IsSetup()
}

// trackedOn derives on/off from the timer fields. Caller holds stateMu.
func (rt *runtime) trackedOn() bool {
	if rt.cfg.Capability == types.CapabilityPWM {
		return !rt.pwmOnSince.IsZero()
	}
	return !rt.turnedOnAt.IsZero() || rt.timed
}

// cycleStart is when the current timed cycle began. Caller holds stateMu.
func (rt *runtime) cycleStart() time.Time {
	return rt.onUntil.Add(-secondsToDuration(math.Abs(rt.lastAmount)))
}

// startCycle begins a timed cycle of |amount| seconds from now. Caller holds
// stateMu.
func (rt *runtime) startCycle(now time.Time, amount float64) {
	rt.timed = true
	rt.lastAmount = amount
	rt.onUntil = now.Add(secondsToDuration(math.Abs(amount)))
	rt.offTriggered = false
}

// elapsedOn returns the signed on time of the open timed cycle or plain on
// period and when it started. ok is false when nothing is open or no time
// has passed. Caller holds stateMu.
func (rt *runtime) elapsedOn(now time.Time) (seconds float64, start time.Time, ok bool) {
	switch {
	case rt.timed:
		start = rt.cycleStart()
		elapsed := now.Sub(start).Seconds()
		if elapsed <= 0 {
			return 0, start, false
		}
		if rt.lastAmount < 0 {
			elapsed = -elapsed
		}
		return elapsed, start, true
	case !rt.turnedOnAt.IsZero():
		start = rt.turnedOnAt
		elapsed := now.Sub(start).Seconds()
		if elapsed <= 0 {
			return 0, start, false
		}
		return elapsed, start, true
	}
	return 0, time.Time{}, false
}

// clearTimers resets every timer field. The minimum off window survives.
// Caller holds stateMu.
func (rt *runtime) clearTimers() {
	rt.timed = false
	rt.onUntil = time.Time{}
	rt.lastAmount = 0
	rt.offTriggered = false
	rt.turnedOnAt = time.Time{}
}

func (rt *runtime) clearPWM() {
	rt.duty = 0
	rt.pwmOnSince = time.Time{}
}

// secondsOn is the unsigned time the output has been on so far.
// Caller holds stateMu.
func (rt *runtime) secondsOn(now time.Time) float64 {
	switch {
	case rt.cfg.Capability == types.CapabilityPWM:
		if rt.pwmOnSince.IsZero() {
			return 0
		}
		return math.Max(0, now.Sub(rt.pwmOnSince).Seconds())
	case rt.timed:
		remaining := rt.onUntil.Sub(now).Seconds()
		return math.Max(0, math.Abs(rt.lastAmount)-remaining)
	case !rt.turnedOnAt.IsZero():
		return math.Max(0, now.Sub(rt.turnedOnAt).Seconds())
	}
	return 0
}

// dueOff reports whether the timed cycle has run out and still needs its
// off transition. Caller holds stateMu.
func (rt *runtime) dueOff(now time.Time) bool {
	return rt.timed && !rt.offTriggered && !now.Before(rt.onUntil)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// driverDuty applies the invert transform between logical and driver duty.
func driverDuty(cfg types.Output, duty float64) float64 {
	if cfg.PWMInvert {
		return 100 - duty
	}
	return duty
}
