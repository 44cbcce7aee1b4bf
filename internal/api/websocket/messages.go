package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Output messages
	MessageTypeOutputState    MessageType = "output_state"
	MessageTypeOutputSnapshot MessageType = "output_snapshot"

	// Trigger messages
	MessageTypeTriggerFired MessageType = "trigger_fired"

	// Replies to client requests
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeError      MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`

	// outputID scopes the message to subscribers of one output.
	outputID string
}

// OutputStateData is sent for every committed transition.
type OutputStateData struct {
	OutputID  string  `json:"output_id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Amount    float64 `json:"amount,omitempty"`
	DutyCycle float64 `json:"duty_cycle,omitempty"`
	AmpLoad   float64 `json:"amp_load"`
}

// TriggerFiredData carries the message of a fired trigger.
type TriggerFiredData struct {
	TriggerID string `json:"trigger_id"`
	Message   string `json:"message"`
}

// ClientRequest is what clients may send.
//
//	{"type": "subscribe", "outputs": ["pump-1", "fan"]}
//	{"type": "subscribe"}   // everything
type ClientRequest struct {
	Type    string   `json:"type"`
	Outputs []string `json:"outputs"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewOutputStateMessage(data OutputStateData, at time.Time) Message {
	msg := NewMessage(MessageTypeOutputState, data)
	msg.Timestamp = at
	msg.outputID = data.OutputID
	return msg
}

func NewTriggerFiredMessage(triggerID, message string) Message {
	return NewMessage(MessageTypeTriggerFired, TriggerFiredData{
		TriggerID: triggerID,
		Message:   message,
	})
}
