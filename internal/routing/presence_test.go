package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nusagates/laragates-sub001/internal/core"
)

func TestLoginRoutesPendingSessions(t *testing.T) {
	h := newMemHarness(t)
	ctx := context.Background()
	if _, err := h.store.RegisterAgent(ctx, core.Agent{ID: "x", Role: core.RoleAgent, IsActive: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.pending(t, "q", 2)

	res, err := h.presence.Login(ctx, "x")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Agent.Status != core.AgentOnline || !res.Agent.IsOnline {
		t.Fatalf("expected online agent, got %+v", res.Agent)
	}
	if res.Assigned != 2 {
		t.Fatalf("expected 2 assigned on login, got %d", res.Assigned)
	}
	if h.notes.count(core.EventAgentOnline) != 1 {
		t.Fatal("expected agent.online event")
	}
}

func TestLoginSupervisorAssignsNothing(t *testing.T) {
	h := newMemHarness(t)
	ctx := context.Background()
	if _, err := h.store.RegisterAgent(ctx, core.Agent{ID: "boss", Role: core.RoleSupervisor, IsActive: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.pending(t, "q", 1)
	res, err := h.presence.Login(ctx, "boss")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Assigned != 0 || h.pendingCount(t) != 1 {
		t.Fatalf("supervisor login must not route sessions, assigned=%d", res.Assigned)
	}
}

func TestLogoutKeepsSessions(t *testing.T) {
	h := newMemHarness(t)
	ctx := context.Background()
	h.agent(t, "x", core.RoleAgent, 5)
	h.pending(t, "q", 2)
	if _, err := h.engine.AssignPendingTo(ctx, "x"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a, err := h.presence.Logout(ctx, "x")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if a.Status != core.AgentOffline || a.IsOnline {
		t.Fatalf("expected offline agent, got %+v", a)
	}
	if got := len(h.openFor(t, "x")); got != 2 {
		t.Fatalf("open sessions must stay assigned, got %d", got)
	}
}

func TestHeartbeatRejections(t *testing.T) {
	h := newMemHarness(t)
	ctx := context.Background()
	h.agent(t, "boss", core.RoleSupervisor, 5)
	if _, err := h.store.RegisterAgent(ctx, core.Agent{ID: "idle", Role: core.RoleAgent}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.presence.Heartbeat(ctx, "boss"); !core.IsAuthorization(err) {
		t.Fatalf("supervisor heartbeat: expected authorization error, got %v", err)
	}
	if _, err := h.presence.Heartbeat(ctx, "idle"); !core.IsAuthorization(err) {
		t.Fatalf("inactive heartbeat: expected authorization error, got %v", err)
	}
	if _, err := h.presence.Heartbeat(ctx, "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown agent: expected not found, got %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	h := newMemHarness(t)
	ctx := context.Background()
	h.agent(t, "x", core.RoleAgent, 5)
	h.agent(t, "y", core.RoleAgent, 5)
	if _, err := h.presence.Heartbeat(ctx, "x"); err != nil {
		t.Fatalf("heartbeat x: %v", err)
	}
	h.clock.Advance(90 * time.Second)
	if _, err := h.presence.Heartbeat(ctx, "y"); err != nil {
		t.Fatalf("heartbeat y: %v", err)
	}
	h.clock.Advance(60 * time.Second)

	expired, err := h.presence.ExpireStale(ctx, 2*time.Minute)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "x" {
		t.Fatalf("expected x to expire, got %+v", expired)
	}
	if h.notes.count(core.EventAgentOffline) != 1 {
		t.Fatal("expected agent.offline event")
	}
	if _, err := h.presence.ExpireStale(ctx, 0); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero grace, got %v", err)
	}
}
