package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nusagates/laragates-sub001/internal/config"
	"github.com/nusagates/laragates-sub001/internal/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *server.App) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "laragates.db")
	cfg.KeysFile = filepath.Join(dir, "keys.yaml")
	cfg.RateLimit.Requests = 0
	app, err := server.Build(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)
	return srv, app
}

func TestClientFailsWithoutServer(t *testing.T) {
	c := New("http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.CreateSession(ctx, "cust-1", ""); err == nil {
		t.Fatalf("expected failure without server")
	}
}

func TestClientSessionFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	anon := New(srv.URL)
	for _, id := range []string{"agent-a", "agent-b"} {
		if _, err := anon.RegisterAgent(ctx, Agent{ID: id, Name: id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	sess, err := anon.CreateSession(ctx, "cust-1", "high")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Status != "pending" {
		t.Fatalf("no agent is online, expected pending, got %+v", sess)
	}

	a := New(srv.URL, WithAgentID("agent-a"))
	b := New(srv.URL, WithAgentID("agent-b"))
	if _, err := a.Take(ctx, sess.ID); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := b.Take(ctx, sess.ID); !IsConflict(err) {
		t.Fatalf("expected conflict for second take, got %v", err)
	}
	if _, err := b.Close(ctx, sess.ID); !IsForbidden(err) {
		t.Fatalf("expected forbidden close by non-owner, got %v", err)
	}
	closed, err := a.Close(ctx, sess.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != "closed" || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed session %+v", closed)
	}
}

func TestClientHeartbeatAssigns(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := New(srv.URL, WithAgentID("agent-a"))
	if _, err := c.RegisterAgent(ctx, Agent{ID: "agent-a", Name: "Ayu", MaxOpenSessions: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, cust := range []string{"c1", "c2"} {
		if _, err := c.CreateSession(ctx, cust, ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	p, err := c.Heartbeat(ctx, "agent-a")
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if p.Assigned != 1 || !p.IsOnline {
		t.Fatalf("expected one assignment under ceiling 1, got %+v", p)
	}
	open, err := c.ListSessions(ctx, "open", "agent-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open session, got %d", len(open))
	}
}

func TestWSClientReceivesAssignment(t *testing.T) {
	srv, app := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(srv.URL, WithAgentID("agent-a"))
	if _, err := c.RegisterAgent(ctx, Agent{ID: "agent-a", Name: "Ayu"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.Login(ctx, "agent-a"); err != nil {
		t.Fatalf("login: %v", err)
	}

	events := make(chan Event, 8)
	ws := NewWSClient(srv.URL, "agent-a", WithAutoReconnect(false))
	ws.OnEvent(FilteredEventHandler([]string{EventSessionAssigned}, func(e Event) { events <- e }))
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ws.Close()
	for app.Hub.Subscribers("agent-a") == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sess, err := c.CreateSession(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case e := <-events:
		if e.Session == nil || e.Session.ID != sess.ID || e.Session.AssignedTo != "agent-a" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-ctx.Done():
		t.Fatal("no assignment event received")
	}
}
