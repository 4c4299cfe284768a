package httpapi

import (
	"net/http"
	"testing"

	"github.com/nusagates/laragates-sub001/internal/core"
)

func TestRegisterAgentDefaults(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/agents", "", map[string]any{"id": "agent-a", "name": "Ayu"})
	requireStatus(t, resp, http.StatusOK)
	got := decodeJSON[agentResponse](t, resp)
	if got.ID != "agent-a" || got.Role != string(core.RoleAgent) || !got.IsActive {
		t.Fatalf("unexpected agent %+v", got)
	}
	if got.Status != string(core.AgentPending) || got.IsOnline {
		t.Fatalf("new agent should not be online: %+v", got)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"id": "a"}},
		{"unknown role", map[string]any{"id": "a", "name": "a", "role": "owner"}},
		{"negative ceiling", map[string]any{"id": "a", "name": "a", "max_open_sessions": -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/agents", "", tc.body)
			requireStatus(t, resp, http.StatusBadRequest)
			body := decodeJSON[errorResponse](t, resp)
			if body.Error != "invalid_input" {
				t.Fatalf("expected invalid_input, got %+v", body)
			}
		})
	}
}

func TestListAndGetAgents(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "agent-a", core.RoleAgent, 2)
	env.seed(t, "sup-1", core.RoleSupervisor, 0)

	resp := env.do(t, http.MethodGet, "/api/agents", "", nil)
	requireStatus(t, resp, http.StatusOK)
	list := decodeJSON[listAgentsResponse](t, resp)
	if len(list.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(list.Agents))
	}

	resp = env.do(t, http.MethodGet, "/api/agents/sup-1", "", nil)
	requireStatus(t, resp, http.StatusOK)
	if got := decodeJSON[agentResponse](t, resp); got.Role != string(core.RoleSupervisor) {
		t.Fatalf("expected supervisor, got %+v", got)
	}

	resp = env.do(t, http.MethodGet, "/api/agents/nobody", "", nil)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestHeartbeatRoutesPendingSessions(t *testing.T) {
	env := newTestEnv(t)
	env.seedOffline(t, "agent-a", core.RoleAgent)
	for _, cust := range []string{"c1", "c2"} {
		resp := env.do(t, http.MethodPost, "/api/sessions", "", map[string]any{"customer_id": cust})
		requireStatus(t, resp, http.StatusCreated)
		if got := decodeJSON[sessionResponse](t, resp); got.Status != string(core.SessionPending) {
			t.Fatalf("no agent online, expected pending, got %+v", got)
		}
	}

	resp := env.do(t, http.MethodPost, "/api/agents/agent-a/heartbeat", "agent-a", nil)
	requireStatus(t, resp, http.StatusOK)
	hb := decodeJSON[heartbeatResponse](t, resp)
	if hb.Assigned != 2 || !hb.IsOnline || hb.Status != string(core.AgentOnline) {
		t.Fatalf("unexpected heartbeat result %+v", hb)
	}
}

func TestHeartbeatRejectsSupervisor(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "sup-1", core.RoleSupervisor, 0)
	resp := env.do(t, http.MethodPost, "/api/agents/sup-1/heartbeat", "sup-1", nil)
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	env.seedOffline(t, "agent-a", core.RoleAgent)

	resp := env.do(t, http.MethodPost, "/api/agents/agent-a/login", "agent-a", nil)
	requireStatus(t, resp, http.StatusOK)
	if got := decodeJSON[heartbeatResponse](t, resp); !got.IsOnline {
		t.Fatalf("expected online after login, got %+v", got)
	}
	resp = env.do(t, http.MethodPost, "/api/agents/agent-a/logout", "agent-a", nil)
	requireStatus(t, resp, http.StatusOK)
	if got := decodeJSON[heartbeatResponse](t, resp); got.IsOnline || got.Status != string(core.AgentOffline) {
		t.Fatalf("expected offline after logout, got %+v", got)
	}
}

func TestAPIKeyAgentEnforcement(t *testing.T) {
	env := newTestEnv(t)
	env.seedOffline(t, "agent-a", core.RoleAgent)
	env.seedOffline(t, "agent-b", core.RoleAgent)
	env.seed(t, "admin-1", core.RoleAdmin, 0)

	if rr := env.remote(t, http.MethodPost, "/api/agents/agent-a/heartbeat", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}
	if rr := env.remote(t, http.MethodPost, "/api/agents/agent-a/heartbeat", "secret-a", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for own heartbeat, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.remote(t, http.MethodPost, "/api/agents/agent-b/heartbeat", "secret-a", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another agent's heartbeat, got %d", rr.Code)
	}

	newAgent := map[string]any{"id": "agent-c", "name": "Citra"}
	if rr := env.remote(t, http.MethodPost, "/api/agents", "secret-a", newAgent); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when an agent registers someone else, got %d", rr.Code)
	}
	if rr := env.remote(t, http.MethodPost, "/api/agents", "secret-admin", newAgent); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin registration, got %d: %s", rr.Code, rr.Body.String())
	}
}
