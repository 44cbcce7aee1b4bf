package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBridge(t *testing.T) (*Bridge, *FakePublisher) {
	t.Helper()
	pool := tasks.NewPool(1, 8, zap.NewNop())
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	pub := NewFakePublisher()
	return NewBridge(pub, "plant/", 1, pool, zap.NewNop()), pub
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "plant/"}
	assert.Equal(t, "plant/outputs/pump/state", topics.State("pump"))
	assert.Equal(t, "plant/outputs/pump/set", topics.Command("pump"))
	assert.Equal(t, "plant/outputs/pump/measurements", topics.Measurement("pump"))
	assert.Equal(t, "plant/triggers/t1", topics.Trigger("t1"))

	assert.Equal(t, "triggers/t1", Topics{}.Trigger("t1"))
}

func TestBridgeDispatch(t *testing.T) {
	b, pub := newTestBridge(t)

	require.NoError(t, b.Dispatch(context.Background(), "t1", "pump on for 10 seconds"))

	msgs := pub.On("plant/triggers/t1")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Retained)
	assert.Equal(t, byte(1), msgs[0].QoS)

	var payload TriggerPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "t1", payload.TriggerID)
	assert.Equal(t, "pump on for 10 seconds", payload.Message)
}

func TestBridgeDispatchError(t *testing.T) {
	b, pub := newTestBridge(t)
	pub.PublishError = errors.New("broker gone")

	err := b.Dispatch(context.Background(), "t1", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plant/triggers/t1")
}

func TestBridgeOutputChanged(t *testing.T) {
	b, pub := newTestBridge(t)

	b.OutputChanged(output.Transition{
		Output:    types.Output{ID: "fan", Name: "Fan"},
		State:     types.StateOn,
		DutyCycle: 40,
		At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})

	require.Eventually(t, func() bool {
		return len(pub.On("plant/outputs/fan/state")) == 1
	}, time.Second, 5*time.Millisecond)

	msg := pub.On("plant/outputs/fan/state")[0]
	assert.True(t, msg.Retained)

	var payload StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "fan", payload.OutputID)
	assert.Equal(t, "on", payload.State)
	assert.Equal(t, 40.0, payload.DutyCycle)
	assert.Equal(t, "2024-05-01T12:00:00Z", payload.Timestamp)
}

func TestBridgeWriteMeasurement(t *testing.T) {
	b, pub := newTestBridge(t)

	m := types.Measurement{OutputID: "pump", Unit: types.UnitSecond, Value: 12, Kind: types.KindDuration}
	require.NoError(t, b.WriteMeasurement(context.Background(), m))

	msgs := pub.On("plant/outputs/pump/measurements")
	require.Len(t, msgs, 1)

	var got types.Measurement
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, 12.0, got.Value)
	assert.Equal(t, types.KindDuration, got.Kind)
}

func TestFormatCommand(t *testing.T) {
	payload, err := FormatCommand(types.StateOn, 2.5, 0, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)

	var parsed CommandPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "on", parsed.State)
	assert.Equal(t, 2.5, parsed.Amount)
	assert.Equal(t, "2024-01-02T03:04:05Z", parsed.Timestamp)
}

func TestFakePublisherReset(t *testing.T) {
	pub := NewFakePublisher()
	require.NoError(t, pub.Publish("a", 0, false, []byte("x")))
	require.NoError(t, pub.Close())
	assert.True(t, pub.Closed)

	pub.Reset()
	assert.Empty(t, pub.Messages())
	assert.False(t, pub.Closed)
}
