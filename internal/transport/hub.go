// Package transport is the WebSocket gateway between call clients and the
// session manager.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/worldwidesoldier/sales-coach-ai/internal/session"
)

// Hub tracks open client connections and routes events to them.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*connWriter
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]*connWriter),
		logger: logger,
	}
}

// Register adds a connection and starts its outbound writer.
func (h *Hub) Register(connID string, conn *websocket.Conn) {
	w := newConnWriter(conn, connID, h.logger)

	h.mu.Lock()
	existing := h.active[connID]
	h.active[connID] = w
	h.mu.Unlock()

	if existing != nil {
		existing.close()
	}
	h.logger.Info("Call connection registered", "connection_id", connID)
}

// Unregister stops the connection's writer and forgets it.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	w, ok := h.active[connID]
	delete(h.active, connID)
	h.mu.Unlock()

	if ok {
		w.close()
		h.logger.Info("Call connection unregistered", "connection_id", connID)
	}
}

// Deliver implements session.Notifier. Unknown connections are ignored.
func (h *Hub) Deliver(connID string, ev session.Event) {
	h.mu.RLock()
	w, ok := h.active[connID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("Dropping event for closed connection", "connection_id", connID, "type", ev.Type)
		return
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", "connection_id", connID, "type", ev.Type, "error", err)
		return
	}
	w.enqueue(frame)
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

var _ session.Notifier = (*Hub)(nil)
