package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/core"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	ring := auth.NewKeyring(true, map[string]string{"secret-a": "agent-a", "secret-b": "agent-b"})
	mux := http.NewServeMux()
	mux.Handle("/ws/agents/", auth.Middleware(ring)(hub.Handler()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, hub *Hub, agent string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agents/" + agent
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", agent, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	waitSubscribed(t, hub, agent)
	return conn
}

func waitSubscribed(t *testing.T, hub *Hub, agent string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(agent) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("agent %s never subscribed", agent)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWSAuthRejection(t *testing.T) {
	hub := NewHub(nil)
	ring := auth.NewKeyring(true, map[string]string{"secret-a": "agent-a"})
	handler := auth.Middleware(ring)(hub.Handler())

	t.Run("remote without bearer rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/agents/agent-a", nil)
		req.RemoteAddr = "203.0.113.10:9999"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("bearer for another agent rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/agents/agent-b", nil)
		req.RemoteAddr = "203.0.113.10:9999"
		req.Header.Set("Authorization", "Bearer secret-a")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rr.Code)
		}
	})

	t.Run("missing agent rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/agents/", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestSessionEventReachesOwnerOnly(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	connA := dial(t, srv, hub, "agent-a")
	connB := dial(t, srv, hub, "agent-b")

	sess := &core.Session{ID: "sess-1", CustomerID: "cust-1", AssignedTo: "agent-a", Status: core.SessionOpen}
	ev := core.Event{Type: core.EventSessionAssigned, Agent: "agent-a", Session: sess, CreatedAt: time.Now().UTC()}
	if err := hub.Notify(context.Background(), ev.Type, ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg := readMessage(t, connA)
	if msg.Type != string(core.EventSessionAssigned) || msg.Session == nil || msg.Session.ID != "sess-1" {
		t.Fatalf("unexpected message %+v", msg)
	}

	// agent-b only sees the following broadcast, proving the assignment skipped it.
	breach := &core.SlaBreach{EntityType: core.EntitySession, EntityID: "sess-2", Rule: core.RulePendingToOngoing, Status: "pending"}
	if err := hub.Notify(context.Background(), core.EventSlaBreached, core.Event{Type: core.EventSlaBreached, Breach: breach}); err != nil {
		t.Fatalf("notify breach: %v", err)
	}
	got := readMessage(t, connB)
	if got.Type != string(core.EventSlaBreached) || got.Breach == nil || got.Breach.EntityID != "sess-2" {
		t.Fatalf("agent-b expected breach first, got %+v", got)
	}
	if got := readMessage(t, connA); got.Type != string(core.EventSlaBreached) {
		t.Fatalf("agent-a expected breach broadcast, got %+v", got)
	}
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	conn := dial(t, srv, hub, "agent-a")
	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("agent-a") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
