package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one notification pushed by the server.
type Event struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Session   *Session       `json:"session,omitempty"`
	Breach    *Breach        `json:"breach,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event types pushed over the websocket.
const (
	EventSessionCreated  = "session.created"
	EventSessionAssigned = "session.assigned"
	EventSessionTaken    = "session.taken"
	EventSessionClosed   = "session.closed"
	EventSessionReopened = "session.reopened"
	EventAgentHeartbeat  = "agent.heartbeat"
	EventAgentOnline     = "agent.online"
	EventAgentOffline    = "agent.offline"
	EventSlaBreached     = "sla.breached"
)

// EventHandler is called for each event received via WebSocket
type EventHandler func(event Event)

// WSClient holds an agent's notification stream.
type WSClient struct {
	baseURL   string
	apiKey    string
	agentID   string
	conn      *websocket.Conn
	handlers  []EventHandler
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	reconnect bool
}

type WSOption func(*WSClient)

func WithWSAPIKey(key string) WSOption {
	return func(c *WSClient) {
		c.apiKey = key
	}
}

// WithAutoReconnect enables automatic reconnection on disconnect
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

func NewWSClient(baseURL, agentID string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		agentID:   agentID,
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the agent's stream and starts delivering events to handlers.
func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}
	opts := &websocket.DialOptions{HTTPHeader: map[string][]string{}}
	if c.apiKey != "" {
		opts.HTTPHeader["Authorization"] = []string{"Bearer " + c.apiKey}
	}
	opts.HTTPHeader["X-Agent-ID"] = []string{c.agentID}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "client closing")
		}
	})
	return err
}

func (c *WSClient) buildWSURL() (string, error) {
	if c.agentID == "" {
		return "", fmt.Errorf("agent id required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/agents/" + url.PathEscape(c.agentID)
	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if !c.reconnect || !c.redial(ctx) {
				return
			}
			continue
		}
		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// redial retries with exponential backoff until it connects or the client
// is closed.
func (c *WSClient) redial(ctx context.Context) bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		if err := c.dial(ctx); err == nil {
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// FilteredEventHandler only passes events of the listed types to handler.
func FilteredEventHandler(types []string, handler EventHandler) EventHandler {
	return func(event Event) {
		for _, t := range types {
			if event.Type == t {
				handler(event)
				return
			}
		}
	}
}
