// Package mqtt publishes output state, trigger actions and measurements to an
// MQTT broker and carries the commands of MQTT driven outputs.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/types"
)

// Publisher sends raw payloads to the broker.
type Publisher interface {
	// Publish blocks until the broker acknowledged the message or the
	// publish timed out.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics builds the topic names below a common prefix.
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// State is the retained state topic of an output.
func (t Topics) State(outputID string) string { return t.join("outputs", outputID, "state") }

// Command is the topic an MQTT driven output listens on.
func (t Topics) Command(outputID string) string { return t.join("outputs", outputID, "set") }

// Measurement mirrors recorded measurements.
func (t Topics) Measurement(outputID string) string {
	return t.join("outputs", outputID, "measurements")
}

// Trigger carries the message of a fired trigger.
func (t Topics) Trigger(triggerID string) string { return t.join("triggers", triggerID) }

// StatePayload is published for every committed transition.
type StatePayload struct {
	OutputID  string  `json:"output_id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Amount    float64 `json:"amount,omitempty"`
	DutyCycle float64 `json:"duty_cycle,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// CommandPayload is sent to MQTT driven outputs.
type CommandPayload struct {
	State     string  `json:"state"`
	Amount    float64 `json:"amount,omitempty"`
	DutyCycle float64 `json:"duty_cycle,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// TriggerPayload is published when a trigger fires.
type TriggerPayload struct {
	TriggerID string `json:"trigger_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// FormatMeasurement encodes a measurement for the mirror topic.
func FormatMeasurement(m types.Measurement) ([]byte, error) {
	return json.Marshal(m)
}

// FormatCommand encodes a driver command.
func FormatCommand(state types.State, amount, duty float64, at time.Time) ([]byte, error) {
	return json.Marshal(CommandPayload{
		State:     string(state),
		Amount:    amount,
		DutyCycle: duty,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}
