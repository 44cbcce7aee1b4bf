package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"go.uber.org/zap"
)

// StateProvider supplies the snapshot sent to newly connected clients.
type StateProvider interface {
	OutputStatesAll(ctx context.Context) map[string]output.OutputState
	CurrentAmpLoad(ctx context.Context) float64
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stop chan struct{}
	done chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *zap.Logger

	// State provider (optional)
	states StateProvider
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// SetStateProvider sets the source of connect snapshots
func (h *Hub) SetStateProvider(provider StateProvider) {
	h.states = provider
}

// Run starts the hub's main event loop and returns after Stop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id),
				zap.Int("total_clients", total))
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if message.outputID != "" && !client.subscribed(message.outputID) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop(ctx context.Context) error {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// OutputChanged broadcasts a committed transition.
func (h *Hub) OutputChanged(tr output.Transition) {
	data := OutputStateData{
		OutputID:  tr.Output.ID,
		Name:      tr.Output.Name,
		State:     string(tr.State),
		Amount:    tr.Amount,
		DutyCycle: tr.DutyCycle,
	}
	if h.states != nil {
		data.AmpLoad = h.states.CurrentAmpLoad(context.Background())
	}
	h.Broadcast(NewOutputStateMessage(data, tr.At))
}

// Dispatch forwards a fired trigger to every client.
func (h *Hub) Dispatch(ctx context.Context, triggerID, message string) error {
	h.Broadcast(NewTriggerFiredMessage(triggerID, message))
	return nil
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.states == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	states := h.states.OutputStatesAll(ctx)
	snapshot := make(map[string]string, len(states))
	for id, st := range states {
		snapshot[id] = st.String()
	}

	data, err := json.Marshal(NewMessage(MessageTypeOutputSnapshot, snapshot))
	if err != nil {
		h.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
	}
}
