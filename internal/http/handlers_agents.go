package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/core"
)

type registerAgentRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	MaxOpenSessions int    `json:"max_open_sessions"`
	IsActive        *bool  `json:"is_active"`
}

type agentResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	Status          string     `json:"status"`
	IsOnline        bool       `json:"is_online"`
	IsActive        bool       `json:"is_active"`
	MaxOpenSessions int        `json:"max_open_sessions"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type listAgentsResponse struct {
	Agents []agentResponse `json:"agents"`
}

type heartbeatResponse struct {
	AgentID  string `json:"agent_id"`
	Status   string `json:"status"`
	IsOnline bool   `json:"is_online"`
	Assigned int    `json:"assigned"`
}

func toAgentResponse(a core.Agent) agentResponse {
	out := agentResponse{
		ID:              a.ID,
		Name:            a.Name,
		Role:            string(a.Role),
		Status:          string(a.Status),
		IsOnline:        a.IsOnline,
		IsActive:        a.IsActive,
		MaxOpenSessions: a.MaxOpenSessions,
		CreatedAt:       a.CreatedAt,
	}
	if !a.LastHeartbeatAt.IsZero() {
		hb := a.LastHeartbeatAt
		out.LastHeartbeatAt = &hb
	}
	return out
}

func (s *Service) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, r, fmt.Errorf("%w: name required", core.ErrInvalidInput))
		return
	}
	if req.Role == "" {
		req.Role = string(core.RoleAgent)
	}
	role, err := core.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Keyed callers may only register themselves unless they are admins.
	info, _ := auth.FromContext(r.Context())
	if info.Mode == auth.ModeAPIKey && req.ID != info.AgentID {
		if err := s.requireAdmin(r, info.AgentID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	agent, err := s.store.RegisterAgent(r.Context(), core.Agent{
		ID:              req.ID,
		Name:            strings.TrimSpace(req.Name),
		Role:            role,
		IsActive:        active,
		MaxOpenSessions: req.MaxOpenSessions,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (s *Service) requireAdmin(r *http.Request, actorID string) error {
	denied := &core.AuthorizationError{Actor: actorID, Action: "register agent", Reason: "may only register itself"}
	if actorID == "" {
		return denied
	}
	actor, err := s.store.GetAgent(r.Context(), actorID)
	if errors.Is(err, core.ErrNotFound) {
		return denied
	}
	if err != nil {
		return err
	}
	if actor.Role != core.RoleAdmin || !actor.IsActive {
		return denied
	}
	return nil
}

func (s *Service) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := listAgentsResponse{Agents: make([]agentResponse, 0, len(agents))}
	for _, a := range agents {
		out.Agents = append(out.Agents, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// selfOnly rejects keyed callers acting on another agent's presence.
func selfOnly(r *http.Request, agentID, action string) error {
	info, _ := auth.FromContext(r.Context())
	if info.Mode == auth.ModeAPIKey && info.AgentID != agentID {
		return &core.AuthorizationError{Actor: info.AgentID, Action: action, Reason: "not the same agent"}
	}
	return nil
}

func (s *Service) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := selfOnly(r, id, "heartbeat"); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.routing.Presence.Heartbeat(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{
		AgentID:  res.Agent.ID,
		Status:   string(res.Agent.Status),
		IsOnline: res.Agent.IsOnline,
		Assigned: res.Assigned,
	})
}

func (s *Service) handleAgentLogin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := selfOnly(r, id, "login"); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.routing.Presence.Login(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{
		AgentID:  res.Agent.ID,
		Status:   string(res.Agent.Status),
		IsOnline: res.Agent.IsOnline,
		Assigned: res.Assigned,
	})
}

func (s *Service) handleAgentLogout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := selfOnly(r, id, "logout"); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.routing.Presence.Logout(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{
		AgentID:  agent.ID,
		Status:   string(agent.Status),
		IsOnline: agent.IsOnline,
	})
}
