// Package notify pushes draft events to a client's open browser tabs over
// WebSocket.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/coder/websocket"
)

const sendBuffer = 16

// Event types pushed to clients.
const (
	EventDraftSaved     = "draft_saved"
	EventDraftAbandoned = "draft_abandoned"
	EventPong           = "pong"
)

// Event is the JSON message written to subscribers.
type Event struct {
	Type        string             `json:"type"`
	Version     int64              `json:"version,omitempty"`
	CurrentStep string             `json:"current_step,omitempty"`
	Status      domain.DraftStatus `json:"status,omitempty"`
	UpdatedAt   *time.Time         `json:"updated_at,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
}

// Hub tracks one subscriber per client tab.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]*subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]*subscriber)}
}

func (h *Hub) register(email, tabID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.subs[email]
	if !ok {
		tabs = make(map[string]*subscriber)
		h.subs[email] = tabs
	}
	if existing, ok := tabs[tabID]; ok && existing != s && existing.conn != nil {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "tab replaced")
	}
	tabs[tabID] = s
	slog.Debug("Notify subscriber registered", "email", email, "tab_id", tabID)
}

func (h *Hub) unregister(email, tabID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.subs[email]
	if !ok {
		return
	}
	if current, ok := tabs[tabID]; ok && current == s {
		delete(tabs, tabID)
		if len(tabs) == 0 {
			delete(h.subs, email)
		}
		slog.Debug("Notify subscriber unregistered", "email", email, "tab_id", tabID)
	}
}

// Subscribers returns the number of open tabs for email.
func (h *Hub) Subscribers(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[email])
}

// Publish queues ev for every tab of email and returns how many accepted it.
// Tabs whose buffer is full miss the event rather than block the caller.
func (h *Hub) Publish(email string, ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode notify event", "type", ev.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for tabID, s := range h.subs[email] {
		select {
		case s.send <- data:
			delivered++
		default:
			slog.Warn("Notify buffer full, dropping event", "email", email, "tab_id", tabID, "type", ev.Type)
		}
	}
	return delivered
}

// DraftSaved publishes a draft_saved event. It satisfies draft.Observer.
func (h *Hub) DraftSaved(email string, d *domain.Draft) {
	updated := d.UpdatedAt
	h.Publish(email, Event{
		Type:        EventDraftSaved,
		Version:     d.Version,
		CurrentStep: d.CurrentStep,
		Status:      d.Status,
		UpdatedAt:   &updated,
	})
}

// DraftAbandoned tells open tabs the draft was discarded.
func (h *Hub) DraftAbandoned(email string) {
	h.Publish(email, Event{Type: EventDraftAbandoned})
}

// CloseClient closes every tab for email.
func (h *Hub) CloseClient(email string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for tabID, s := range h.subs[email] {
		if s.conn != nil {
			_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		slog.Debug("Notify subscriber closed", "email", email, "tab_id", tabID)
	}
	delete(h.subs, email)
}
