package mqtt

import (
	"sync"
)

// Message is one payload recorded by FakePublisher.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	messages []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// Publish records the message.
func (f *FakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  append([]byte(nil), payload...),
	})
	return nil
}

// Messages returns a copy of everything published so far.
func (f *FakePublisher) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// On returns the messages published to topic.
func (f *FakePublisher) On(topic string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.Closed = false
	f.PublishError = nil
}
