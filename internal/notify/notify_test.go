package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/intake-portal/internal/domain"
	"github.com/ashureev/intake-portal/internal/identity"
	"github.com/coder/websocket"
)

func TestHubPublishPerClient(t *testing.T) {
	hub := NewHub()
	a1, a2, b := newSubscriber(nil), newSubscriber(nil), newSubscriber(nil)
	hub.register("a@example.com", "tab-1", a1)
	hub.register("a@example.com", "tab-2", a2)
	hub.register("b@example.com", "tab-1", b)

	hub.DraftSaved("a@example.com", &domain.Draft{Version: 3, CurrentStep: "contact", Status: domain.StatusDraft})

	for _, s := range []*subscriber{a1, a2} {
		select {
		case msg := <-s.send:
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if ev.Type != EventDraftSaved || ev.Version != 3 || ev.CurrentStep != "contact" {
				t.Fatalf("unexpected event: %+v", ev)
			}
		default:
			t.Fatal("expected event for client tab")
		}
	}
	select {
	case <-b.send:
		t.Fatal("other client must not receive event")
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	s := newSubscriber(nil)
	hub.register("a@example.com", "tab", s)
	for i := 0; i < sendBuffer; i++ {
		if n := hub.Publish("a@example.com", Event{Type: EventDraftSaved}); n != 1 {
			t.Fatalf("publish %d: expected delivery, got %d", i, n)
		}
	}
	if n := hub.Publish("a@example.com", Event{Type: EventDraftSaved}); n != 0 {
		t.Fatalf("expected drop on full buffer, got %d", n)
	}
}

func TestHubUnregisterOnlyCurrent(t *testing.T) {
	hub := NewHub()
	old, cur := newSubscriber(nil), newSubscriber(nil)
	hub.register("a@example.com", "tab", old)
	hub.register("a@example.com", "tab", cur)
	hub.unregister("a@example.com", "tab", old)
	if hub.Subscribers("a@example.com") != 1 {
		t.Fatal("stale unregister must not remove the replacement")
	}
	hub.unregister("a@example.com", "tab", cur)
	if hub.Subscribers("a@example.com") != 0 {
		t.Fatal("expected no subscribers")
	}
	hub.CloseClient("a@example.com")
}

func withClient(email string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.WithEmail(r.Context(), email)))
	})
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(withClient("a@example.com", NewHandler(hub, "*", true)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("a@example.com") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.DraftSaved("a@example.com", &domain.Draft{Version: 2, CurrentStep: "income", Status: domain.StatusDraft, UpdatedAt: time.Now()})
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != EventDraftSaved || ev.Version != 2 || ev.UpdatedAt == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read pong failed: %v", err)
	}
	if !strings.Contains(string(data), `"pong"`) {
		t.Fatalf("expected pong, got %s", data)
	}
}

func TestHandlerRequiresClient(t *testing.T) {
	h := NewHandler(NewHub(), "*", true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/intake", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	h := withClient("a@example.com", NewHandler(NewHub(), "https://portal.example.com", false))
	req := httptest.NewRequest(http.MethodGet, "/ws/intake", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
