package output

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDriver struct {
	mu        sync.Mutex
	setupErr  error
	switchErr error
	tracks    bool
	setup     bool
	on        bool
	commands  []Command
	shutdowns int
}

func (d *fakeDriver) Setup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setupErr != nil {
		return d.setupErr
	}
	d.setup = true
	return nil
}

func (d *fakeDriver) Switch(ctx context.Context, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.switchErr != nil {
		return d.switchErr
	}
	d.commands = append(d.commands, cmd)
	d.on = cmd.State == types.StateOn
	return nil
}

func (d *fakeDriver) IsOn(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on, nil
}

func (d *fakeDriver) IsSetup() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setup
}

func (d *fakeDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdowns++
	return nil
}

func (d *fakeDriver) TracksState() bool { return d.tracks }

func (d *fakeDriver) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

func (d *fakeDriver) Shutdowns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdowns
}

type memStore struct {
	mu       sync.Mutex
	outputs  map[string]types.Output
	maxAmps  float64
	offUntil map[string]time.Time
	lastDuty map[string]float64
}

func newMemStore(maxAmps float64, outs ...types.Output) *memStore {
	s := &memStore{
		outputs:  make(map[string]types.Output),
		maxAmps:  maxAmps,
		offUntil: make(map[string]time.Time),
		lastDuty: make(map[string]float64),
	}
	for _, o := range outs {
		s.outputs[o.ID] = o
	}
	return s
}

func (s *memStore) LoadOutputs(ctx context.Context) ([]types.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Output, 0, len(s.outputs))
	for _, o := range s.outputs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetOutput(ctx context.Context, id string) (types.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outputs[id]
	if !ok {
		return types.Output{}, errors.New("not found")
	}
	return o, nil
}

func (s *memStore) MaxAmps(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxAmps, nil
}

func (s *memStore) SetOffUntil(ctx context.Context, id string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until == nil {
		delete(s.offUntil, id)
		return nil
	}
	s.offUntil[id] = *until
	return nil
}

func (s *memStore) SetLastDutyCycle(ctx context.Context, id string, duty float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDuty[id] = duty
	return nil
}

func (s *memStore) put(o types.Output) {
	s.mu.Lock()
	s.outputs[o.ID] = o
	s.mu.Unlock()
}

func (s *memStore) remove(id string) {
	s.mu.Lock()
	delete(s.outputs, id)
	s.mu.Unlock()
}

func (s *memStore) duty(id string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lastDuty[id]
	return d, ok
}

type memWriter struct {
	mu sync.Mutex
	ms []types.Measurement
}

func (w *memWriter) WriteMeasurement(ctx context.Context, m types.Measurement) error {
	w.mu.Lock()
	w.ms = append(w.ms, m)
	w.mu.Unlock()
	return nil
}

func (w *memWriter) ofKind(kind types.MeasurementKind) []types.Measurement {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Measurement
	for _, m := range w.ms {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type recordingEvaluator struct {
	mu  sync.Mutex
	trs []Transition
}

func (e *recordingEvaluator) Evaluate(ctx context.Context, tr Transition) {
	e.mu.Lock()
	e.trs = append(e.trs, tr)
	e.mu.Unlock()
}

func (e *recordingEvaluator) OutputChanged(tr Transition) {
	e.Evaluate(context.Background(), tr)
}

func (e *recordingEvaluator) transitions() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Transition(nil), e.trs...)
}

type harness struct {
	ctrl      *Controller
	store     *memStore
	clock     *fakeClock
	writer    *memWriter
	evaluator *recordingEvaluator
	pool      *tasks.Pool
	logger    *zap.Logger

	mu      sync.Mutex
	drivers map[string]*fakeDriver
	prepare map[string]func(*fakeDriver)
}

type harnessOption func(*harness)

// withDriver customizes the driver built for id.
func withDriver(id string, fn func(*fakeDriver)) harnessOption {
	return func(h *harness) {
		h.prepare[id] = fn
	}
}

func withLogger(logger *zap.Logger) harnessOption {
	return func(h *harness) {
		h.logger = logger
	}
}

func newHarness(t *testing.T, maxAmps float64, outs []types.Output, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		store:     newMemStore(maxAmps, outs...),
		clock:     newFakeClock(),
		writer:    &memWriter{},
		evaluator: &recordingEvaluator{},
		pool:      tasks.NewPool(1, 64, zap.NewNop()),
		logger:    zap.NewNop(),
		drivers:   make(map[string]*fakeDriver),
		prepare:   make(map[string]func(*fakeDriver)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pool.Start()

	h.ctrl = NewController(h.store, h.factory, h.writer, h.pool, h.logger,
		WithClock(h.clock),
		WithPollInterval(time.Hour),
		WithTriggerEvaluator(h.evaluator),
	)
	require.NoError(t, h.ctrl.Start(context.Background()))

	t.Cleanup(func() {
		_ = h.ctrl.Shutdown(context.Background())
		_ = h.pool.Stop(context.Background())
	})
	return h
}

func (h *harness) factory(out types.Output) (Driver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := &fakeDriver{}
	if fn, ok := h.prepare[out.ID]; ok {
		fn(d)
	}
	h.drivers[out.ID] = d
	return d, nil
}

func (h *harness) driver(id string) *fakeDriver {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drivers[id]
}

func (h *harness) waitMeasurements(t *testing.T, kind types.MeasurementKind, n int) []types.Measurement {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.writer.ofKind(kind)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return h.writer.ofKind(kind)
}

func onOff(id string, amps float64) types.Output {
	return types.Output{ID: id, Name: id, DeviceType: "fake", Capability: types.CapabilityOnOff, Amps: amps}
}

func pwm(id string, amps float64, invert bool) types.Output {
	return types.Output{ID: id, Name: id, DeviceType: "fake", Capability: types.CapabilityPWM, Amps: amps, PWMInvert: invert}
}

func on(id string) SwitchRequest {
	return SwitchRequest{OutputID: id, State: types.StateOn}
}

func off(id string) SwitchRequest {
	return SwitchRequest{OutputID: id, State: types.StateOff}
}
