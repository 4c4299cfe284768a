package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

func (s *Store) RegisterAgent(ctx context.Context, agent core.Agent) (core.Agent, error) {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if !agent.Role.Valid() {
		return core.Agent{}, fmt.Errorf("%w: unknown role %q", core.ErrInvalidInput, agent.Role)
	}
	if agent.MaxOpenSessions < 0 {
		return core.Agent{}, fmt.Errorf("%w: negative session ceiling", core.ErrInvalidInput)
	}
	if agent.Status == "" {
		agent.Status = core.AgentPending
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	agent.IsOnline = agent.Status == core.AgentOnline

	var heartbeat, lastSeen *time.Time
	if !agent.LastHeartbeatAt.IsZero() {
		heartbeat = &agent.LastHeartbeatAt
	}
	if !agent.LastSeen.IsZero() {
		lastSeen = &agent.LastSeen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, role, status, is_online, is_active, max_open_sessions, last_heartbeat_at, last_seen, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name,
		   role=excluded.role,
		   is_active=excluded.is_active,
		   max_open_sessions=excluded.max_open_sessions`,
		agent.ID, agent.Name, string(agent.Role), string(agent.Status), boolToInt(agent.IsOnline),
		boolToInt(agent.IsActive), agent.MaxOpenSessions, nullableTS(heartbeat), nullableTS(lastSeen), ts(agent.CreatedAt),
	)
	if err != nil {
		return core.Agent{}, fmt.Errorf("register agent: %w", err)
	}
	return s.GetAgent(ctx, agent.ID)
}

func (s *Store) GetAgent(ctx context.Context, id string) (core.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

func (s *Store) ListAgents(ctx context.Context) ([]core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY COALESCE(last_seen, 0) DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []core.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// SetPresence moves an agent to status. Going online also refreshes the
// heartbeat timestamp.
func (s *Store) SetPresence(ctx context.Context, agentID string, status core.AgentStatus, at time.Time) (core.Agent, error) {
	online := status == core.AgentOnline
	query := `UPDATE agents SET status = ?, is_online = ?, last_seen = ? WHERE id = ?`
	args := []any{string(status), boolToInt(online), ts(at), agentID}
	if online {
		query = `UPDATE agents SET status = ?, is_online = ?, last_seen = ?, last_heartbeat_at = ? WHERE id = ?`
		args = []any{string(status), 1, ts(at), ts(at), agentID}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Agent{}, fmt.Errorf("set presence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Agent{}, core.ErrNotFound
	}
	return s.GetAgent(ctx, agentID)
}

func (s *Store) ExpireStaleAgents(ctx context.Context, cutoff time.Time) ([]core.Agent, error) {
	var expired []core.Agent
	err := s.Update(ctx, func(tx storage.Tx) error {
		expired = expired[:0]
		t := tx.(*txn)
		rows, err := t.tx.QueryContext(t.ctx,
			`SELECT `+agentColumns+` FROM agents
			 WHERE status = 'online' AND COALESCE(last_heartbeat_at, 0) < ?`, ts(cutoff))
		if err != nil {
			return fmt.Errorf("query stale agents: %w", err)
		}
		for rows.Next() {
			a, err := scanAgent(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		for i := range expired {
			if _, err := t.tx.ExecContext(t.ctx,
				`UPDATE agents SET status = 'offline', is_online = 0 WHERE id = ?`, expired[i].ID); err != nil {
				return fmt.Errorf("expire agent: %w", err)
			}
			expired[i].Status = core.AgentOffline
			expired[i].IsOnline = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *Store) EligibleAgents(ctx context.Context) ([]storage.AgentLoad, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.name, a.role, a.status, a.is_online, a.is_active, a.max_open_sessions,
		        a.last_heartbeat_at, a.last_seen, a.created_at,
		        (SELECT COUNT(*) FROM chat_sessions c WHERE c.assigned_to = a.id AND c.status = 'open') AS open_count
		 FROM agents a
		 WHERE a.status = 'online' AND a.is_active = 1 AND a.role = ?
		 ORDER BY open_count ASC, COALESCE(a.last_heartbeat_at, 0) DESC, a.id ASC`, string(core.RoleAgent))
	if err != nil {
		return nil, fmt.Errorf("eligible agents: %w", err)
	}
	defer rows.Close()

	var out []storage.AgentLoad
	for rows.Next() {
		var open int
		a, err := scanAgent(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &open)...)
		}))
		if err != nil {
			return nil, err
		}
		out = append(out, storage.AgentLoad{Agent: a, Open: open})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
