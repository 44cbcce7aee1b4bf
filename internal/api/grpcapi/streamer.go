package grpcapi

import (
	"sync"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
)

// EventStreamer fans committed transitions out to stream subscribers.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[chan output.Transition]map[string]bool
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[chan output.Transition]map[string]bool),
	}
}

// Subscribe returns a channel receiving transitions of outputIDs, or of all
// outputs when none are given.
func (s *EventStreamer) Subscribe(outputIDs ...string) <-chan output.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filter map[string]bool
	if len(outputIDs) > 0 {
		filter = make(map[string]bool, len(outputIDs))
		for _, id := range outputIDs {
			filter[id] = true
		}
	}

	ch := make(chan output.Transition, 100)
	s.subscribers[ch] = filter
	return ch
}

func (s *EventStreamer) Unsubscribe(ch <-chan output.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			break
		}
	}
}

// OutputChanged broadcasts tr to every matching subscriber.
func (s *EventStreamer) OutputChanged(tr output.Transition) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch, filter := range s.subscribers {
		if filter != nil && !filter[tr.Output.ID] {
			continue
		}
		select {
		case ch <- tr:
		default:
			// Skip if channel is full
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (s *EventStreamer) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
