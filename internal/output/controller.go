// Package output owns every physical output at runtime: it tracks logical
// on/off and duty cycle state, arbitrates the shared amp budget, runs timed
// cycles and records each transition.
package output

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/metrics"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

// ConfigStore is the persisted output configuration.
type ConfigStore interface {
	LoadOutputs(ctx context.Context) ([]types.Output, error)
	GetOutput(ctx context.Context, id string) (types.Output, error)
	MaxAmps(ctx context.Context) (float64, error)
	SetOffUntil(ctx context.Context, id string, until *time.Time) error
	SetLastDutyCycle(ctx context.Context, id string, duty float64) error
}

// Transition describes a committed state change.
type Transition struct {
	Output    types.Output
	State     types.State
	Amount    float64
	DutyCycle float64
	At        time.Time
}

// TriggerEvaluator reacts to committed transitions. Evaluate must not block
// on the actions it fires.
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, tr Transition)
}

// Listener is notified of every committed transition.
type Listener interface {
	OutputChanged(tr Transition)
}

// SwitchRequest asks for a state change. Amount is a signed duration in
// seconds for on/off outputs and a volume or value for dispensing outputs.
// MinOff only applies to timed on requests.
type SwitchRequest struct {
	OutputID     string      `json:"output_id"`
	State        types.State `json:"state"`
	Amount       float64     `json:"amount"`
	MinOff       float64     `json:"min_off"`
	DutyCycle    float64     `json:"duty_cycle"`
	SkipTriggers bool        `json:"skip_triggers"`
}

type Controller struct {
	store     ConfigStore
	factory   DriverFactory
	recorder  *Recorder
	pool      *tasks.Pool
	arbiter   *Arbiter
	evaluator TriggerEvaluator
	clock     Clock
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.RWMutex
	outputs   map[string]*runtime
	listeners []Listener

	// serializes add/modify/delete against each other
	setupMu sync.Mutex

	loopMu   sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewController(
	store ConfigStore,
	factory DriverFactory,
	writer MeasurementWriter,
	pool *tasks.Pool,
	logger *zap.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		store:    store,
		factory:  factory,
		recorder: NewRecorder(writer, pool, logger),
		pool:     pool,
		arbiter:  NewArbiter(0),
		clock:    realClock{},
		interval: time.Second,
		logger:   logger,
		outputs:  make(map[string]*runtime),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers l for committed transitions.
func (c *Controller) AddListener(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Switch changes the state of one output. A nil error means the request was
// applied; the returned message describes what happened. Rejections leave
// the output untouched and can be classified with errors.Is.
func (c *Controller) Switch(ctx context.Context, req SwitchRequest) (string, error) {
	rt, ok := c.lookup(req.OutputID)
	if !ok {
		metrics.ObserveSwitch(string(req.State), metrics.ResultRejected)
		return "", fmt.Errorf("%w: %s", ErrUnknownOutput, req.OutputID)
	}

	rt.opMu.Lock()
	msg, tr, err := c.switchLocked(ctx, rt, req)
	rt.opMu.Unlock()

	if err != nil {
		metrics.ObserveSwitch(string(req.State), resultLabel(err))
		c.logger.Info("Switch rejected",
			zap.String("output_id", req.OutputID),
			zap.String("state", string(req.State)),
			zap.Float64("amount", req.Amount),
			zap.Error(err))
		return "", err
	}

	metrics.ObserveSwitch(string(req.State), metrics.ResultSuccess)
	c.logger.Debug("Output switched",
		zap.String("output_id", req.OutputID),
		zap.String("message", msg))

	c.publish(ctx, tr, req.SkipTriggers)
	return msg, nil
}

// switchLocked runs the guards and the state machine. Caller holds rt.opMu.
func (c *Controller) switchLocked(ctx context.Context, rt *runtime, req SwitchRequest) (string, Transition, error) {
	if !req.State.Valid() {
		return "", Transition{}, fmt.Errorf("%w: %q", ErrInvalidState, req.State)
	}

	rt.stateMu.RLock()
	removed := rt.removed
	cfg := rt.cfg
	driver := rt.driver
	rt.stateMu.RUnlock()

	if removed {
		return "", Transition{}, fmt.Errorf("%w: %s", ErrUnknownOutput, req.OutputID)
	}
	if driver == nil || !driver.IsSetup() {
		return "", Transition{}, fmt.Errorf("%w: %s", ErrNotSetup, cfg.ID)
	}

	now := c.clock.Now()

	switch cfg.Capability {
	case types.CapabilityVolume, types.CapabilityValue:
		return c.switchForward(ctx, cfg, driver, req, now)

	case types.CapabilityPWM:
		if req.DutyCycle < 0 || req.DutyCycle > 100 {
			return "", Transition{}, fmt.Errorf("%w: %g", ErrInvalidDutyCycle, req.DutyCycle)
		}
		if req.State == types.StateOn && req.DutyCycle > 0 {
			return c.switchPWM(ctx, rt, cfg, driver, req.DutyCycle, now)
		}
		return c.switchOff(ctx, rt, cfg, driver, now)
	}

	if req.State == types.StateOff {
		return c.switchOff(ctx, rt, cfg, driver, now)
	}

	wasOn, err := c.isOn(ctx, rt)
	if err != nil {
		return "", Transition{}, fmt.Errorf("%w: failed to read state of %s: %v", ErrDriver, cfg.ID, err)
	}

	if wasOn {
		if err := c.checkMinOff(rt, cfg, now); err != nil {
			return "", Transition{}, err
		}
		return c.switchOn(ctx, rt, cfg, driver, req, true, now)
	}

	var (
		msg string
		tr  Transition
	)
	err = c.arbiter.Admit(cfg.Amps,
		func() float64 {
			load, _ := c.onLoad(ctx, rt)
			return load
		},
		func() error {
			if err := c.checkMinOff(rt, cfg, now); err != nil {
				return err
			}
			var err error
			msg, tr, err = c.switchOn(ctx, rt, cfg, driver, req, false, now)
			return err
		})
	return msg, tr, err
}

// checkMinOff rejects an on request inside the minimum off window.
func (c *Controller) checkMinOff(rt *runtime, cfg types.Output, now time.Time) error {
	rt.stateMu.RLock()
	offUntil := rt.offUntil
	rt.stateMu.RUnlock()

	if now.Before(offUntil) {
		return fmt.Errorf("%w: %s off for another %.1f s",
			ErrMinOffActive, cfg.ID, offUntil.Sub(now).Seconds())
	}
	return nil
}

func (c *Controller) switchOn(
	ctx context.Context,
	rt *runtime,
	cfg types.Output,
	driver Driver,
	req SwitchRequest,
	wasOn bool,
	now time.Time,
) (string, Transition, error) {
	if req.Amount != 0 {
		return c.switchTimed(ctx, rt, cfg, driver, req, wasOn, now)
	}
	return c.switchPlain(ctx, rt, cfg, driver, wasOn, now)
}

func (c *Controller) switchTimed(
	ctx context.Context,
	rt *runtime,
	cfg types.Output,
	driver Driver,
	req SwitchRequest,
	wasOn bool,
	now time.Time,
) (string, Transition, error) {
	rt.stateMu.RLock()
	timed := rt.timed
	rt.stateMu.RUnlock()

	msg := fmt.Sprintf("%s on for %g seconds", label(cfg), req.Amount)

	switch {
	case wasOn && timed:
		rt.stateMu.Lock()
		secs, start, ok := rt.elapsedOn(now)
		rt.startCycle(now, req.Amount)
		rt.stateMu.Unlock()
		if ok {
			c.recorder.RecordDuration(cfg, secs, start)
		}
		msg += " (refreshed)"

	case wasOn:
		// Already energized without a timer: keep it on and start the clock.
		rt.stateMu.Lock()
		secs, start, ok := rt.elapsedOn(now)
		rt.turnedOnAt = time.Time{}
		rt.startCycle(now, req.Amount)
		rt.stateMu.Unlock()
		if ok {
			c.recorder.RecordDuration(cfg, secs, start)
		}

	default:
		if err := driver.Switch(ctx, Command{State: types.StateOn, Amount: req.Amount}); err != nil {
			return "", Transition{}, c.driverError(cfg, "switch", err)
		}
		// A self tracking driver may have dropped out mid cycle; close
		// whatever was still open before the new cycle starts.
		rt.stateMu.Lock()
		secs, start, ok := rt.elapsedOn(now)
		rt.clearTimers()
		rt.startCycle(now, req.Amount)
		rt.stateMu.Unlock()
		if ok {
			c.recorder.RecordDuration(cfg, secs, start)
		}
	}

	if req.MinOff > 0 {
		until := now.Add(secondsToDuration(math.Abs(req.Amount) + req.MinOff))
		c.persistOffUntil(ctx, rt, cfg.ID, until)
	}

	return msg, Transition{Output: cfg, State: types.StateOn, Amount: req.Amount, At: now}, nil
}

func (c *Controller) switchPlain(
	ctx context.Context,
	rt *runtime,
	cfg types.Output,
	driver Driver,
	wasOn bool,
	now time.Time,
) (string, Transition, error) {
	if wasOn && !cfg.ForceCommand {
		return "", Transition{}, fmt.Errorf("%w: %s", ErrAlreadyOn, cfg.ID)
	}

	if err := driver.Switch(ctx, Command{State: types.StateOn}); err != nil {
		return "", Transition{}, c.driverError(cfg, "switch", err)
	}

	rt.stateMu.Lock()
	var (
		secs  float64
		start time.Time
		ok    bool
	)
	switch {
	case !wasOn:
		// Anything still open belongs to a period the driver already ended.
		secs, start, ok = rt.elapsedOn(now)
		rt.clearTimers()
	case rt.timed:
		// A plain on ends the running timed cycle.
		secs, start, ok = rt.elapsedOn(now)
		rt.timed = false
		rt.onUntil = time.Time{}
		rt.lastAmount = 0
		rt.offTriggered = false
	}
	if rt.turnedOnAt.IsZero() {
		rt.turnedOnAt = now
	}
	rt.stateMu.Unlock()

	if ok {
		c.recorder.RecordDuration(cfg, secs, start)
	}

	return label(cfg) + " on", Transition{Output: cfg, State: types.StateOn, At: now}, nil
}

func (c *Controller) switchPWM(
	ctx context.Context,
	rt *runtime,
	cfg types.Output,
	driver Driver,
	duty float64,
	now time.Time,
) (string, Transition, error) {
	out := driverDuty(cfg, duty)
	err := c.arbiter.Hold(func() error {
		if err := driver.Switch(ctx, Command{State: types.StateOn, DutyCycle: out}); err != nil {
			return c.driverError(cfg, "switch", err)
		}
		rt.stateMu.Lock()
		rt.duty = duty
		if rt.pwmOnSince.IsZero() {
			rt.pwmOnSince = now
		}
		rt.cfg.LastDutyCycle = duty
		rt.stateMu.Unlock()
		return nil
	})
	if err != nil {
		return "", Transition{}, err
	}

	c.recorder.RecordDutyCycle(cfg, out, now)
	c.persistLastDutyCycle(cfg.ID, duty)

	msg := fmt.Sprintf("%s duty cycle %g%%", label(cfg), duty)
	return msg, Transition{Output: cfg, State: types.StateOn, DutyCycle: duty, At: now}, nil
}

func (c *Controller) switchOff(
	ctx context.Context,
	rt *runtime,
	cfg types.Output,
	driver Driver,
	now time.Time,
) (string, Transition, error) {
	cmd := Command{State: types.StateOff}
	pwm := cfg.Capability == types.CapabilityPWM
	if pwm {
		cmd.DutyCycle = driverDuty(cfg, 0)
	}
	if err := driver.Switch(ctx, cmd); err != nil {
		return "", Transition{}, c.driverError(cfg, "switch", err)
	}

	rt.stateMu.Lock()
	secs, start, ok := rt.elapsedOn(now)
	rt.clearTimers()
	rt.clearPWM()
	rt.stateMu.Unlock()

	if pwm {
		c.recorder.RecordDutyCycle(cfg, cmd.DutyCycle, now)
	}
	if ok {
		c.recorder.RecordDuration(cfg, secs, start)
	}

	return label(cfg) + " off", Transition{Output: cfg, State: types.StateOff, At: now}, nil
}

// switchForward hands volume and value requests straight to the driver.
func (c *Controller) switchForward(
	ctx context.Context,
	cfg types.Output,
	driver Driver,
	req SwitchRequest,
	now time.Time,
) (string, Transition, error) {
	forward := func() error {
		if err := driver.Switch(ctx, Command{State: req.State, Amount: req.Amount}); err != nil {
			return c.driverError(cfg, "switch", err)
		}
		return nil
	}

	var err error
	if req.State == types.StateOn {
		err = c.arbiter.Hold(forward)
	} else {
		err = forward()
	}
	if err != nil {
		return "", Transition{}, err
	}

	msg := fmt.Sprintf("%s %s", label(cfg), req.State)
	if req.Amount != 0 {
		msg = fmt.Sprintf("%s (%g)", msg, req.Amount)
	}
	return msg, Transition{Output: cfg, State: req.State, Amount: req.Amount, At: now}, nil
}

func (c *Controller) publish(ctx context.Context, tr Transition, skipTriggers bool) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()

	for _, l := range listeners {
		l.OutputChanged(tr)
	}

	metrics.SetLoad(c.onLoad(ctx, nil))

	if !skipTriggers && c.evaluator != nil {
		c.evaluator.Evaluate(ctx, tr)
	}
}

// persistOffUntil stores the minimum off window. The runtime copy is
// authoritative, a failed write only loses it across a restart.
func (c *Controller) persistOffUntil(ctx context.Context, rt *runtime, id string, until time.Time) {
	rt.stateMu.Lock()
	rt.offUntil = until
	rt.stateMu.Unlock()

	if err := c.store.SetOffUntil(ctx, id, &until); err != nil {
		c.logger.Warn("Failed to persist off-until",
			zap.String("output_id", id),
			zap.Time("off_until", until),
			zap.Error(err))
	}
}

func (c *Controller) persistLastDutyCycle(id string, duty float64) {
	err := c.pool.TrySubmit(tasks.Task{
		Name: "last-duty:" + id,
		Run: func(ctx context.Context) error {
			if err := c.store.SetLastDutyCycle(ctx, id, duty); err != nil {
				return fmt.Errorf("failed to persist last duty cycle of %s: %w", id, err)
			}
			return nil
		},
	})
	if err != nil {
		c.logger.Warn("Last duty cycle not persisted",
			zap.String("output_id", id),
			zap.Error(err))
	}
}

func (c *Controller) driverError(cfg types.Output, op string, err error) error {
	metrics.IncDriverError(op)
	c.logger.Error("Driver call failed",
		zap.String("output_id", cfg.ID),
		zap.String("device_type", cfg.DeviceType),
		zap.String("operation", op),
		zap.Error(err))
	return fmt.Errorf("%w: %s %s: %v", ErrDriver, cfg.ID, op, err)
}

func (c *Controller) lookup(id string) (*runtime, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.outputs[id]
	return rt, ok
}

func (c *Controller) snapshot() []*runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*runtime, 0, len(c.outputs))
	for _, rt := range c.outputs {
		out = append(out, rt)
	}
	return out
}

func label(cfg types.Output) string {
	if cfg.Name == "" {
		return "Output " + cfg.ID
	}
	return fmt.Sprintf("Output %s (%s)", cfg.ID, cfg.Name)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAmpBudget), errors.Is(err, ErrMinOffActive), errors.Is(err, ErrAlreadyOn):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
