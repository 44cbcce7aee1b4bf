package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource map[string][]types.Trigger

func (s staticSource) ListOutputTriggers(ctx context.Context, outputID string) ([]types.Trigger, error) {
	return s[outputID], nil
}

type failingSource struct{}

func (failingSource) ListOutputTriggers(ctx context.Context, outputID string) ([]types.Trigger, error) {
	return nil, errors.New("database unavailable")
}

type fakeDispatcher struct {
	mu       sync.Mutex
	messages map[string][]string
	err      error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{messages: make(map[string][]string)}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, triggerID, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[triggerID] = append(d.messages[triggerID], message)
	return d.err
}

func (d *fakeDispatcher) count(triggerID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages[triggerID])
}

func (d *fakeDispatcher) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.messages {
		n += len(m)
	}
	return n
}

func relay(id string) types.Output {
	return types.Output{ID: id, Name: "Relay " + id, Capability: types.CapabilityOnOff, Amps: 1}
}

func onOffTrigger(id, outputID string, cond types.TriggerCondition, threshold float64) types.Trigger {
	return types.Trigger{ID: id, Name: id, OutputID: outputID, Kind: types.TriggerKindOnOff, Condition: cond, Threshold: threshold, Active: true}
}

func TestMatchesOnOff(t *testing.T) {
	x := relay("x")
	onFor := func(amount float64) output.Transition {
		return output.Transition{Output: x, State: types.StateOn, Amount: amount}
	}
	offTr := output.Transition{Output: x, State: types.StateOff}

	tests := []struct {
		name      string
		cond      types.TriggerCondition
		threshold float64
		tr        output.Transition
		want      bool
	}{
		{"off matches off", types.ConditionOff, 0, offTr, true},
		{"off ignores on", types.ConditionOff, 0, onFor(0), false},
		{"on matches plain", types.ConditionOn, 0, onFor(0), true},
		{"on matches timed", types.ConditionOn, 0, onFor(10), true},
		{"on ignores off", types.ConditionOn, 0, offTr, false},
		{"no duration plain", types.ConditionOnNoDuration, 0, onFor(0), true},
		{"no duration timed", types.ConditionOnNoDuration, 0, onFor(5), false},
		{"any duration timed", types.ConditionOnAnyDuration, 0, onFor(5), true},
		{"any duration plain", types.ConditionOnAnyDuration, 0, onFor(0), false},
		{"equal hit", types.ConditionOnDurationEqual, 5, onFor(5), true},
		{"equal miss", types.ConditionOnDurationEqual, 5, onFor(6), false},
		{"greater hit", types.ConditionOnDurationGreaterThan, 5, onFor(10), true},
		{"greater miss", types.ConditionOnDurationGreaterThan, 5, onFor(3), false},
		{"greater boundary", types.ConditionOnDurationGreaterThan, 5, onFor(5), false},
		{"equal greater boundary", types.ConditionOnDurationEqualGreater, 5, onFor(5), true},
		{"less hit", types.ConditionOnDurationLessThan, 5, onFor(3), true},
		{"less miss", types.ConditionOnDurationLessThan, 5, onFor(5), false},
		{"equal less boundary", types.ConditionOnDurationEqualLess, 5, onFor(5), true},
		{"negative amount compares raw", types.ConditionOnDurationLessThan, 0, onFor(-4), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := onOffTrigger("t", "x", tt.cond, tt.threshold)
			assert.Equal(t, tt.want, Matches(trig, tt.tr))
		})
	}
}

func TestMatchesIgnoresInactiveAndOtherOutputs(t *testing.T) {
	tr := output.Transition{Output: relay("x"), State: types.StateOff}

	inactive := onOffTrigger("t", "x", types.ConditionOff, 0)
	inactive.Active = false
	assert.False(t, Matches(inactive, tr))

	other := onOffTrigger("t", "y", types.ConditionOff, 0)
	assert.False(t, Matches(other, tr))
}

func TestMatchesPWM(t *testing.T) {
	fan := types.Output{ID: "fan", Name: "Fan", Capability: types.CapabilityPWM}
	inverted := fan
	inverted.PWMInvert = true

	pwmTrigger := func(cond types.TriggerCondition, threshold float64) types.Trigger {
		return types.Trigger{ID: "p", OutputID: "fan", Kind: types.TriggerKindPWM, Condition: cond, Threshold: threshold, Active: true}
	}
	duty := func(out types.Output, d float64) output.Transition {
		return output.Transition{Output: out, State: types.StateOn, DutyCycle: d}
	}
	offTr := func(out types.Output) output.Transition {
		return output.Transition{Output: out, State: types.StateOff}
	}

	assert.True(t, Matches(pwmTrigger(types.ConditionPWMEqual, 50), duty(fan, 50)))
	assert.False(t, Matches(pwmTrigger(types.ConditionPWMEqual, 50), duty(fan, 51)))
	assert.True(t, Matches(pwmTrigger(types.ConditionPWMAbove, 50), duty(fan, 75)))
	assert.False(t, Matches(pwmTrigger(types.ConditionPWMAbove, 50), duty(fan, 50)))
	assert.True(t, Matches(pwmTrigger(types.ConditionPWMBelow, 50), duty(fan, 20)))

	// Off is 0% for plain and inverted outputs alike.
	for _, out := range []types.Output{fan, inverted} {
		assert.True(t, Matches(pwmTrigger(types.ConditionPWMEqual, 0), offTr(out)))
		assert.True(t, Matches(pwmTrigger(types.ConditionPWMBelow, 10), offTr(out)))
		assert.False(t, Matches(pwmTrigger(types.ConditionPWMAbove, 0), offTr(out)))
	}

	// PWM rules never fire for relays.
	assert.False(t, Matches(pwmTrigger(types.ConditionPWMEqual, 0), offTr(relay("fan"))))
}

func TestMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trig := types.Trigger{ID: "t1", Name: "Notify"}

	msg := Message(trig, output.Transition{Output: relay("x"), State: types.StateOn, Amount: 10, At: at})
	assert.Equal(t, "2024-05-01T12:00:00Z [Trigger t1 (Notify)] Output x (Relay x) on for 10 seconds", msg)

	msg = Message(trig, output.Transition{Output: relay("x"), State: types.StateOff, At: at})
	assert.Equal(t, "2024-05-01T12:00:00Z [Trigger t1 (Notify)] Output x (Relay x) off", msg)

	fan := types.Output{ID: "fan", Name: "Fan", Capability: types.CapabilityPWM}
	msg = Message(trig, output.Transition{Output: fan, State: types.StateOn, DutyCycle: 42.5, At: at})
	assert.Equal(t, "2024-05-01T12:00:00Z [Trigger t1 (Notify)] Output fan (Fan) duty cycle 42.5%", msg)
}

func TestEvaluatorDispatchesEachMatchOnce(t *testing.T) {
	pool := tasks.NewPool(2, 16, zap.NewNop())
	pool.Start()

	source := staticSource{"x": {
		onOffTrigger("long", "x", types.ConditionOnDurationGreaterThan, 5),
		onOffTrigger("any", "x", types.ConditionOn, 0),
		onOffTrigger("off", "x", types.ConditionOff, 0),
	}}
	dispatcher := newFakeDispatcher()
	ev := NewEvaluator(source, dispatcher, pool, time.Second, zap.NewNop())

	ev.Evaluate(context.Background(), output.Transition{Output: relay("x"), State: types.StateOn, Amount: 10})

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, 1, dispatcher.count("long"))
	assert.Equal(t, 1, dispatcher.count("any"))
	assert.Equal(t, 0, dispatcher.count("off"))
}

func TestEvaluatorSurvivesSourceAndDispatchErrors(t *testing.T) {
	pool := tasks.NewPool(1, 4, zap.NewNop())
	pool.Start()
	defer pool.Stop(context.Background())

	dispatcher := newFakeDispatcher()
	ev := NewEvaluator(failingSource{}, dispatcher, pool, time.Second, zap.NewNop())
	ev.Evaluate(context.Background(), output.Transition{Output: relay("x"), State: types.StateOff})
	assert.Equal(t, 0, dispatcher.total())

	dispatcher.err = errors.New("action failed")
	ev = NewEvaluator(staticSource{"x": {onOffTrigger("off", "x", types.ConditionOff, 0)}}, dispatcher, pool, time.Second, zap.NewNop())
	ev.Evaluate(context.Background(), output.Transition{Output: relay("x"), State: types.StateOff})

	require.Eventually(t, func() bool { return dispatcher.count("off") == 1 }, time.Second, 5*time.Millisecond)
}

func TestMultiDispatcherJoinsErrors(t *testing.T) {
	ok := newFakeDispatcher()
	bad := newFakeDispatcher()
	bad.err = errors.New("broker down")

	err := MultiDispatcher{ok, nil, bad}.Dispatch(context.Background(), "t", "msg")
	require.Error(t, err)
	assert.Equal(t, 1, ok.count("t"))
	assert.Equal(t, 1, bad.count("t"))
}

// Controller wired to the evaluator: a rule "on for more than 5 seconds"
// fires for a 10 second activation and stays quiet for 3 seconds.
type relayDriver struct{ setup bool }

func (d *relayDriver) Setup(ctx context.Context) error { d.setup = true; return nil }
func (d *relayDriver) Switch(ctx context.Context, cmd output.Command) error { return nil }
func (d *relayDriver) IsOn(ctx context.Context) (bool, error) { return false, nil }
func (d *relayDriver) IsSetup() bool { return d.setup }
func (d *relayDriver) Shutdown(ctx context.Context) error { return nil }

type relayStore struct{ outputs []types.Output }

func (s relayStore) LoadOutputs(ctx context.Context) ([]types.Output, error) { return s.outputs, nil }
func (s relayStore) GetOutput(ctx context.Context, id string) (types.Output, error) {
	for _, o := range s.outputs {
		if o.ID == id {
			return o, nil
		}
	}
	return types.Output{}, errors.New("not found")
}
func (s relayStore) MaxAmps(ctx context.Context) (float64, error) { return 10, nil }
func (s relayStore) SetOffUntil(ctx context.Context, id string, until *time.Time) error {
	return nil
}
func (s relayStore) SetLastDutyCycle(ctx context.Context, id string, duty float64) error {
	return nil
}

type nopWriter struct{}

func (nopWriter) WriteMeasurement(ctx context.Context, m types.Measurement) error { return nil }

func TestDurationTriggerScenario(t *testing.T) {
	ctx := context.Background()
	pool := tasks.NewPool(1, 16, zap.NewNop())
	pool.Start()

	dispatcher := newFakeDispatcher()
	source := staticSource{"x": {onOffTrigger("gt5", "x", types.ConditionOnDurationGreaterThan, 5)}}
	ev := NewEvaluator(source, dispatcher, pool, time.Second, zap.NewNop())

	factory := func(out types.Output) (output.Driver, error) { return &relayDriver{}, nil }
	ctrl := output.NewController(relayStore{outputs: []types.Output{relay("x")}}, factory, nopWriter{}, pool, zap.NewNop(),
		output.WithTriggerEvaluator(ev), output.WithPollInterval(time.Hour))
	require.NoError(t, ctrl.Start(ctx))

	_, err := ctrl.Switch(ctx, output.SwitchRequest{OutputID: "x", State: types.StateOn, Amount: 10})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dispatcher.count("gt5") == 1 }, time.Second, 5*time.Millisecond)

	_, err = ctrl.Switch(ctx, output.SwitchRequest{OutputID: "x", State: types.StateOff})
	require.NoError(t, err)
	_, err = ctrl.Switch(ctx, output.SwitchRequest{OutputID: "x", State: types.StateOn, Amount: 3})
	require.NoError(t, err)

	require.NoError(t, ctrl.Shutdown(ctx))
	require.NoError(t, pool.Stop(ctx))
	assert.Equal(t, 1, dispatcher.count("gt5"))
}
