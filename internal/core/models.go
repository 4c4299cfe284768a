package core

import "time"

type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionAssigned EventType = "session.assigned"
	EventSessionTaken    EventType = "session.taken"
	EventSessionClosed   EventType = "session.closed"
	EventSessionReopened EventType = "session.reopened"
	EventAgentHeartbeat  EventType = "agent.heartbeat"
	EventAgentOnline     EventType = "agent.online"
	EventAgentOffline    EventType = "agent.offline"
	EventSlaBreached     EventType = "sla.breached"
)

// AgentStatus is the presence state of an agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
	AgentPending AgentStatus = "pending"
)

type Agent struct {
	ID              string
	Name            string
	Role            Role
	Status          AgentStatus
	IsOnline        bool
	IsActive        bool
	MaxOpenSessions int // 0 means the policy default applies
	LastHeartbeatAt time.Time
	LastSeen        time.Time
	CreatedAt       time.Time
}

// Eligible reports whether the agent may currently be routed sessions.
func (a Agent) Eligible() bool {
	return a.Status == AgentOnline && a.IsActive && a.Role.Can(CapReceiveRouted)
}

type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionOpen    SessionStatus = "open"
	SessionClosed  SessionStatus = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority. The empty priority is valid
// and is treated as medium wherever a threshold is needed.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// OrDefault returns p, or medium when p is unset.
func (p Priority) OrDefault() Priority {
	if p == "" {
		return PriorityMedium
	}
	return p
}

// Session is a single customer conversation routed through the helpdesk.
// AssignedTo is empty exactly while Status is pending.
type Session struct {
	ID              string        `cbor:"1,keyasint"`
	CustomerID      string        `cbor:"2,keyasint"`
	AssignedTo      string        `cbor:"3,keyasint,omitempty"`
	Status          SessionStatus `cbor:"4,keyasint"`
	Priority        Priority      `cbor:"5,keyasint,omitempty"`
	CreatedAt       time.Time     `cbor:"6,keyasint"`
	UpdatedAt       time.Time     `cbor:"7,keyasint"`
	ClosedAt        *time.Time    `cbor:"8,keyasint,omitempty"`
	LastAgentReadAt *time.Time    `cbor:"9,keyasint,omitempty"`
}

type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketOngoing TicketStatus = "ongoing"
	TicketClosed  TicketStatus = "closed"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketOngoing, TicketClosed:
		return true
	}
	return false
}

type Ticket struct {
	ID        string
	SessionID string
	Subject   string
	Status    TicketStatus
	Priority  Priority
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// EntityType names the kind of record an SLA rule is evaluated against.
type EntityType string

const (
	EntitySession EntityType = "session"
	EntityTicket  EntityType = "ticket"
)

type SlaRule string

const (
	RulePendingToOngoing SlaRule = "pending_to_ongoing"
	RuleOngoingToClosed  SlaRule = "ongoing_to_closed"
)

// SlaBreach is unique per (EntityType, EntityID, Rule, Status).
type SlaBreach struct {
	ID               string
	EntityType       EntityType
	EntityID         string
	Rule             SlaRule
	Status           string
	Severity         Priority
	ThresholdMinutes int
	ElapsedMinutes   int
	BreachedAt       time.Time
}

// SlaSubject is the read-only view of a session or ticket the SLA
// evaluator works from.
type SlaSubject struct {
	Type      EntityType
	ID        string
	Status    string
	Priority  Priority
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditAssign AuditAction = "assign"
	AuditTake   AuditAction = "take"
	AuditClose  AuditAction = "close"
	AuditReopen AuditAction = "reopen"
)

// AuditEntry is one append-only record of a session state change. Before
// and After hold encoded snapshots; Digest chains the entry to its
// predecessor.
type AuditEntry struct {
	Seq       uint64
	ID        string
	SessionID string
	Actor     string
	Action    AuditAction
	Before    []byte
	After     []byte
	PrevHash  []byte
	Digest    []byte
	CreatedAt time.Time
}

// Event is what the notifier fans out after a transaction commits.
type Event struct {
	Type      EventType
	Agent     string
	Session   *Session
	Breach    *SlaBreach
	CreatedAt time.Time
}
