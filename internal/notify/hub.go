// Package notify pushes job progress events to connected WebSocket
// listeners. Delivery is best effort: no listener, no delivery, no error.
// The hub is process-wide, in-memory state with no durability; job
// correctness never depends on it.
package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is one progress update pushed to a job owner.
type Event struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	OutputURL string    `json:"output_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Notifier is the push contract the orchestrator depends on. Implementations
// must never block orchestration and must never return an error to it.
type Notifier interface {
	Notify(ownerID uuid.UUID, ev Event)
}

// Hub manages WebSocket connections keyed by owner ID.
type Hub struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[*websocket.Conn]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[uuid.UUID]map[*websocket.Conn]bool)}
}

// Add registers a connection for an owner and starts a reader goroutine that
// removes it on disconnect.
func (h *Hub) Add(ownerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[ownerID] == nil {
		h.conns[ownerID] = make(map[*websocket.Conn]bool)
	}
	h.conns[ownerID][conn] = true
	total := len(h.conns[ownerID])
	h.mu.Unlock()

	slog.Info("websocket listener connected", "user_id", ownerID, "connections", total)

	go func() {
		defer h.remove(ownerID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(ownerID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.conns[ownerID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, ownerID)
		}
	}
	h.mu.Unlock()
	conn.Close()

	slog.Info("websocket listener disconnected", "user_id", ownerID)
}

// Notify pushes ev to every connection the owner has. A write failure drops
// that connection; it never propagates to the caller.
func (h *Hub) Notify(ownerID uuid.UUID, ev Event) {
	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns[ownerID]))
	for conn := range h.conns[ownerID] {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(ev); err != nil {
			slog.Warn("websocket push failed", "user_id", ownerID, "job_id", ev.JobID, "error", err)
			h.remove(ownerID, conn)
		}
	}
}

// ListenerCount returns how many connections an owner currently has.
func (h *Hub) ListenerCount(ownerID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[ownerID])
}

// Noop is a Notifier that drops every event.
type Noop struct{}

func (Noop) Notify(_ uuid.UUID, _ Event) {}

var _ Notifier = (*Hub)(nil)
var _ Notifier = Noop{}
