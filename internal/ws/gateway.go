// Package ws pushes routing events to agents over websockets.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/core"
)

const writeTimeout = 5 * time.Second

// Message is the JSON frame sent to subscribers.
type Message struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Session   *SessionFrame  `json:"session,omitempty"`
	Breach    *BreachFrame   `json:"breach,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type SessionFrame struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Status     string `json:"status"`
	Priority   string `json:"priority,omitempty"`
}

type BreachFrame struct {
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
	Rule           string `json:"rule"`
	Status         string `json:"status"`
	Severity       string `json:"severity"`
	ElapsedMinutes int    `json:"elapsed_minutes"`
}

// Hub tracks websocket subscribers per agent. Events addressed to an agent
// reach that agent's connections; events with no agent reach everyone.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*websocket.Conn]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]map[*websocket.Conn]struct{}),
		logger: logger.With("component", "ws"),
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/agents/"), "/")
		if agent == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if actor, ok := auth.Actor(r.Context()); ok && actor != agent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(agent, conn)
		defer h.remove(agent, conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

// Notify implements routing.Notifier.
func (h *Hub) Notify(ctx context.Context, kind core.EventType, payload any) error {
	msg := Message{Type: string(kind), CreatedAt: time.Now().UTC()}
	switch p := payload.(type) {
	case core.Event:
		msg.AgentID = p.Agent
		if !p.CreatedAt.IsZero() {
			msg.CreatedAt = p.CreatedAt
		}
		if p.Session != nil {
			msg.Session = &SessionFrame{
				ID:         p.Session.ID,
				CustomerID: p.Session.CustomerID,
				AssignedTo: p.Session.AssignedTo,
				Status:     string(p.Session.Status),
				Priority:   string(p.Session.Priority),
			}
		}
		if p.Breach != nil {
			msg.Breach = &BreachFrame{
				EntityType:     string(p.Breach.EntityType),
				EntityID:       p.Breach.EntityID,
				Rule:           string(p.Breach.Rule),
				Status:         p.Breach.Status,
				Severity:       string(p.Breach.Severity),
				ElapsedMinutes: p.Breach.ElapsedMinutes,
			}
		}
	case map[string]any:
		msg.Data = p
	}
	h.Broadcast(target(kind, msg), msg)
	return nil
}

// target picks the recipient agent. Session events go to the session owner
// (or everyone while unowned); presence and breach events go to everyone.
func target(kind core.EventType, msg Message) string {
	switch kind {
	case core.EventSessionAssigned, core.EventSessionTaken, core.EventSessionClosed:
		if msg.Session != nil && msg.Session.AssignedTo != "" {
			return msg.Session.AssignedTo
		}
	case core.EventAgentHeartbeat:
		return msg.AgentID
	}
	return ""
}

// Broadcast writes event to agent's connections, or to all when agent is empty.
func (h *Hub) Broadcast(agent string, event any) {
	for _, e := range h.snapshot(agent) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			h.logger.Debug("dropping subscriber", "agent_id", e.agent, "error", err)
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.agent, e.conn)
			}(e)
		}
	}
}

// Subscribers returns how many connections agent holds.
func (h *Hub) Subscribers(agent string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[agent])
}

type connEntry struct {
	conn  *websocket.Conn
	agent string
}

func (h *Hub) snapshot(agent string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	if agent != "" {
		for conn := range h.conns[agent] {
			out = append(out, connEntry{conn: conn, agent: agent})
		}
		return out
	}
	for name, conns := range h.conns {
		for conn := range conns {
			out = append(out, connEntry{conn: conn, agent: name})
		}
	}
	return out
}

func (h *Hub) add(agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perAgent, ok := h.conns[agent]
	if !ok {
		perAgent = make(map[*websocket.Conn]struct{})
		h.conns[agent] = perAgent
	}
	perAgent[conn] = struct{}{}
}

func (h *Hub) remove(agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perAgent, ok := h.conns[agent]
	if !ok {
		return
	}
	delete(perAgent, conn)
	if len(perAgent) == 0 {
		delete(h.conns, agent)
	}
}
