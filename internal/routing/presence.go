package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// HeartbeatResult reports the agent's presence after a heartbeat or login
// and how many sessions were routed to it as a result.
type HeartbeatResult struct {
	Agent    core.Agent
	Assigned int
}

// Presence applies explicit presence transitions. The auth layer calls
// Login and Logout; agents call Heartbeat; the scheduler calls ExpireStale.
type Presence struct {
	store  storage.Store
	engine *Engine
	options
}

func NewPresence(store storage.Store, engine *Engine, opts ...Option) *Presence {
	return &Presence{store: store, engine: engine, options: buildOptions("presence", opts)}
}

// Login marks the agent online and, for routable roles, fills its capacity.
func (p *Presence) Login(ctx context.Context, agentID string) (HeartbeatResult, error) {
	agent, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		return HeartbeatResult{}, err
	}
	if !agent.IsActive {
		return HeartbeatResult{}, &core.AuthorizationError{Actor: agentID, Action: "login", Reason: "account inactive"}
	}
	agent, err = p.store.SetPresence(ctx, agentID, core.AgentOnline, p.clock.Now())
	if err != nil {
		return HeartbeatResult{}, err
	}
	p.effects.Emit(ctx, core.Event{Type: core.EventAgentOnline, Agent: agentID, CreatedAt: agent.LastSeen})

	res := HeartbeatResult{Agent: agent}
	if agent.Role.Can(core.CapReceiveRouted) {
		res.Assigned, err = p.engine.AssignPendingTo(ctx, agentID)
	}
	return res, err
}

// Logout marks the agent offline. Sessions it holds stay assigned.
func (p *Presence) Logout(ctx context.Context, agentID string) (core.Agent, error) {
	agent, err := p.store.SetPresence(ctx, agentID, core.AgentOffline, p.clock.Now())
	if err != nil {
		return core.Agent{}, err
	}
	p.effects.Emit(ctx, core.Event{Type: core.EventAgentOffline, Agent: agentID, CreatedAt: agent.LastSeen})
	return agent, nil
}

// Heartbeat refreshes a routable agent's presence and routes pending
// sessions to it. Non-routable roles and inactive accounts are rejected.
func (p *Presence) Heartbeat(ctx context.Context, agentID string) (HeartbeatResult, error) {
	agent, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		return HeartbeatResult{}, err
	}
	if !agent.Role.Can(core.CapReceiveRouted) {
		return HeartbeatResult{}, &core.AuthorizationError{
			Actor:  agentID,
			Action: "heartbeat",
			Reason: fmt.Sprintf("role %q is not routable", agent.Role),
		}
	}
	if !agent.IsActive {
		return HeartbeatResult{}, &core.AuthorizationError{Actor: agentID, Action: "heartbeat", Reason: "account inactive"}
	}
	wasOnline := agent.Status == core.AgentOnline

	agent, err = p.store.SetPresence(ctx, agentID, core.AgentOnline, p.clock.Now())
	if err != nil {
		return HeartbeatResult{}, err
	}
	if !wasOnline {
		p.effects.Emit(ctx, core.Event{Type: core.EventAgentOnline, Agent: agentID, CreatedAt: agent.LastSeen})
	}
	p.effects.Emit(ctx, core.Event{Type: core.EventAgentHeartbeat, Agent: agentID, CreatedAt: agent.LastHeartbeatAt})

	assigned, err := p.engine.AssignPendingTo(ctx, agentID)
	return HeartbeatResult{Agent: agent, Assigned: assigned}, err
}

// ExpireStale takes agents offline whose last heartbeat is older than grace.
func (p *Presence) ExpireStale(ctx context.Context, grace time.Duration) ([]core.Agent, error) {
	if grace <= 0 {
		return nil, fmt.Errorf("%w: heartbeat grace must be positive", core.ErrInvalidInput)
	}
	expired, err := p.store.ExpireStaleAgents(ctx, p.clock.Now().Add(-grace))
	if err != nil {
		return nil, err
	}
	for _, a := range expired {
		p.effects.Emit(ctx, core.Event{Type: core.EventAgentOffline, Agent: a.ID, CreatedAt: p.clock.Now()})
	}
	if len(expired) > 0 {
		p.logger.InfoContext(ctx, "expired stale agents", "count", len(expired))
	}
	return expired, nil
}
