package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticStates struct {
	states map[string]output.OutputState
	load   float64
}

func (s staticStates) OutputStatesAll(ctx context.Context) map[string]output.OutputState {
	return s.states
}

func (s staticStates) CurrentAmpLoad(ctx context.Context) float64 {
	return s.load
}

type received struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	hub.SetStateProvider(staticStates{
		states: map[string]output.OutputState{
			"pump": {State: types.StateOn},
			"fan":  {State: types.StateOn, DutyCycle: 40, PWM: true},
		},
		load: 3,
	})
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Stop(context.Background())
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until a message of type want arrives. Frames may
// carry several newline separated messages.
func readUntil(t *testing.T, conn *gorilla.Conn, want MessageType) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var msg received
			require.NoError(t, json.Unmarshal(line, &msg))
			if msg.Type == want {
				return msg
			}
		}
	}
}

func TestHubSendsSnapshotOnConnect(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	msg := readUntil(t, conn, MessageTypeOutputSnapshot)

	var snapshot map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	assert.Equal(t, map[string]string{"pump": "on", "fan": "40"}, snapshot)
}

func TestHubBroadcastsTransitions(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	readUntil(t, conn, MessageTypeOutputSnapshot)

	hub.OutputChanged(output.Transition{
		Output: types.Output{ID: "pump", Name: "Pump"},
		State:  types.StateOn,
		Amount: 20,
		At:     time.Now(),
	})

	msg := readUntil(t, conn, MessageTypeOutputState)

	var data OutputStateData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "pump", data.OutputID)
	assert.Equal(t, "on", data.State)
	assert.Equal(t, 20.0, data.Amount)
	assert.Equal(t, 3.0, data.AmpLoad)
}

func TestHubSubscriptionFiltersOutputs(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	readUntil(t, conn, MessageTypeOutputSnapshot)

	require.NoError(t, conn.WriteJSON(ClientRequest{Type: "subscribe", Outputs: []string{"fan"}}))
	readUntil(t, conn, MessageTypeSubscribed)

	hub.OutputChanged(output.Transition{Output: types.Output{ID: "pump"}, State: types.StateOff, At: time.Now()})
	hub.OutputChanged(output.Transition{Output: types.Output{ID: "fan"}, State: types.StateOn, DutyCycle: 70, At: time.Now()})

	msg := readUntil(t, conn, MessageTypeOutputState)

	var data OutputStateData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "fan", data.OutputID)
}

func TestHubTriggerDispatch(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	readUntil(t, conn, MessageTypeOutputSnapshot)

	require.NoError(t, hub.Dispatch(context.Background(), "t1", "pump on for 10 seconds"))

	msg := readUntil(t, conn, MessageTypeTriggerFired)

	var data TriggerFiredData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "t1", data.TriggerID)
}

func TestHubClientCount(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	readUntil(t, conn, MessageTypeOutputSnapshot)

	assert.Equal(t, 1, hub.GetClientCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.GetClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
