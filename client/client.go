// Package client is a Go client for the laragates HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
	// AgentID names the acting agent on keyless localhost connections.
	AgentID string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithAgentID(id string) Option {
	return func(c *Client) {
		c.AgentID = strings.TrimSpace(id)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("laragates: %d", e.Status)
	}
	return fmt.Sprintf("laragates: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsForbidden reports whether err is a 403 from the server.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

type Agent struct {
	ID              string     `json:"id,omitempty"`
	Name            string     `json:"name,omitempty"`
	Role            string     `json:"role,omitempty"`
	Status          string     `json:"status,omitempty"`
	IsOnline        bool       `json:"is_online,omitempty"`
	IsActive        *bool      `json:"is_active,omitempty"`
	MaxOpenSessions int        `json:"max_open_sessions,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

type Presence struct {
	AgentID  string `json:"agent_id"`
	Status   string `json:"status"`
	IsOnline bool   `json:"is_online"`
	Assigned int    `json:"assigned"`
}

type Session struct {
	ID         string     `json:"id,omitempty"`
	CustomerID string     `json:"customer_id"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Status     string     `json:"status,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

type Ticket struct {
	ID        string     `json:"id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Subject   string     `json:"subject"`
	Status    string     `json:"status,omitempty"`
	Priority  string     `json:"priority,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// TicketUpdate carries the fields to change; nil fields are left alone.
type TicketUpdate struct {
	Subject  *string `json:"subject,omitempty"`
	Status   *string `json:"status,omitempty"`
	Priority *string `json:"priority,omitempty"`
}

type Breach struct {
	ID             string    `json:"id"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	Rule           string    `json:"rule"`
	Status         string    `json:"status"`
	Severity       string    `json:"severity"`
	ElapsedMinutes int       `json:"elapsed_minutes"`
	BreachedAt     time.Time `json:"breached_at"`
}

type SweepStats struct {
	Checked  int `json:"checked"`
	Breached int `json:"breached"`
	Existing int `json:"existing"`
	Errors   int `json:"errors"`
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) RegisterAgent(ctx context.Context, agent Agent) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, "/api/agents", agent, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, agentID string) (Presence, error) {
	return c.presence(ctx, agentID, "heartbeat")
}

func (c *Client) Login(ctx context.Context, agentID string) (Presence, error) {
	return c.presence(ctx, agentID, "login")
}

func (c *Client) Logout(ctx context.Context, agentID string) (Presence, error) {
	return c.presence(ctx, agentID, "logout")
}

func (c *Client) presence(ctx context.Context, agentID, action string) (Presence, error) {
	var out Presence
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/"+action, nil, &out)
	return out, err
}

// CreateSession opens a pending session; the server routes it before
// replying, so the result may already be assigned.
func (c *Client) CreateSession(ctx context.Context, customerID, priority string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/sessions", Session{CustomerID: customerID, Priority: priority}, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context, status, assignedTo string) ([]Session, error) {
	values := url.Values{}
	if status != "" {
		values.Set("status", status)
	}
	if assignedTo != "" {
		values.Set("assigned_to", assignedTo)
	}
	path := "/api/sessions"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Sessions, err
}

func (c *Client) Take(ctx context.Context, sessionID string) (Session, error) {
	return c.sessionAction(ctx, sessionID, "take")
}

func (c *Client) Close(ctx context.Context, sessionID string) (Session, error) {
	return c.sessionAction(ctx, sessionID, "close")
}

func (c *Client) Reopen(ctx context.Context, sessionID string) (Session, error) {
	return c.sessionAction(ctx, sessionID, "reopen")
}

func (c *Client) sessionAction(ctx context.Context, sessionID, action string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/"+action, nil, &out)
	return out, err
}

func (c *Client) CreateTicket(ctx context.Context, t Ticket) (Ticket, error) {
	var out Ticket
	err := c.do(ctx, http.MethodPost, "/api/tickets", t, &out)
	return out, err
}

func (c *Client) UpdateTicket(ctx context.Context, id string, u TicketUpdate) (Ticket, error) {
	var out Ticket
	err := c.do(ctx, http.MethodPatch, "/api/tickets/"+url.PathEscape(id), u, &out)
	return out, err
}

func (c *Client) Breaches(ctx context.Context, entityID string) ([]Breach, error) {
	path := "/api/sla/breaches"
	if entityID != "" {
		path += "?entity_id=" + url.QueryEscape(entityID)
	}
	var out struct {
		Breaches []Breach `json:"breaches"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Breaches, err
}

func (c *Client) Sweep(ctx context.Context) (SweepStats, error) {
	var out SweepStats
	err := c.do(ctx, http.MethodPost, "/api/sla/sweep", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.AgentID != "" {
		req.Header.Set("X-Agent-ID", c.AgentID)
	}
}
