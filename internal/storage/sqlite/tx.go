package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/core"
)

const sessionColumns = `id, customer_id, assigned_to, status, priority, created_at, updated_at, closed_at, last_agent_read_at`

const agentColumns = `id, name, role, status, is_online, is_active, max_open_sessions, last_heartbeat_at, last_seen, created_at`

// txn implements storage.Tx. The enclosing transaction already holds the
// database write lock (IMMEDIATE), so the Lock* reads are exclusive for the
// rest of the unit of work.
type txn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *txn) LockSession(id string) (core.Session, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (t *txn) LockAgent(id string) (core.Agent, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

func (t *txn) CountOpenSessions(agentID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE assigned_to = ? AND status = 'open'`, agentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open sessions: %w", err)
	}
	return n, nil
}

func (t *txn) PendingSessions(limit int) ([]core.Session, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE status = 'pending' AND assigned_to IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (t *txn) ClaimSession(id, agentID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE chat_sessions
		 SET assigned_to = ?, status = 'open', last_agent_read_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending' AND assigned_to IS NULL`,
		agentID, ts(at), ts(at), id)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	return n == 1, nil
}

func (t *txn) SaveSession(s core.Session) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE chat_sessions
		 SET assigned_to = ?, status = ?, priority = ?, updated_at = ?, closed_at = ?, last_agent_read_at = ?
		 WHERE id = ?`,
		nullString(s.AssignedTo), string(s.Status), string(s.Priority), ts(s.UpdatedAt),
		nullableTS(s.ClosedAt), nullableTS(s.LastAgentReadAt), s.ID)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// AppendAudit links entry to the session's previous entry and inserts it.
func (t *txn) AppendAudit(entry core.AuditEntry) (core.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var prev []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT digest FROM audit_log WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, entry.SessionID,
	).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.AuditEntry{}, fmt.Errorf("read audit head: %w", err)
	}
	entry.PrevHash = prev
	entry.Digest, err = audit.Digest(prev, entry)
	if err != nil {
		return core.AuditEntry{}, err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO audit_log (id, session_id, actor, action, before_snapshot, after_snapshot, prev_hash, digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Actor, string(entry.Action), entry.Before, entry.After,
		entry.PrevHash, entry.Digest, ts(entry.CreatedAt))
	if err != nil {
		return core.AuditEntry{}, fmt.Errorf("insert audit: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		entry.Seq = uint64(seq)
	}
	return entry, nil
}

func scanSession(row scanner) (core.Session, error) {
	var (
		s                    core.Session
		assignedTo           sql.NullString
		status, priority     string
		createdAt, updatedAt int64
		closedAt, readAt     sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.CustomerID, &assignedTo, &status, &priority, &createdAt, &updatedAt, &closedAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, core.ErrNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.AssignedTo = assignedTo.String
	s.Status = core.SessionStatus(status)
	s.Priority = core.Priority(priority)
	s.CreatedAt = fromTS(createdAt)
	s.UpdatedAt = fromTS(updatedAt)
	s.ClosedAt = fromNullTS(closedAt)
	s.LastAgentReadAt = fromNullTS(readAt)
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]core.Session, error) {
	var out []core.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanAgent(row scanner) (core.Agent, error) {
	var (
		a                   core.Agent
		role, status        string
		isOnline, isActive  int
		heartbeat, lastSeen sql.NullInt64
		createdAt           int64
	)
	err := row.Scan(&a.ID, &a.Name, &role, &status, &isOnline, &isActive, &a.MaxOpenSessions, &heartbeat, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Agent{}, core.ErrNotFound
	}
	if err != nil {
		return core.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.Role = core.Role(role)
	a.Status = core.AgentStatus(status)
	a.IsOnline = isOnline == 1
	a.IsActive = isActive == 1
	if t := fromNullTS(heartbeat); t != nil {
		a.LastHeartbeatAt = *t
	}
	if t := fromNullTS(lastSeen); t != nil {
		a.LastSeen = *t
	}
	a.CreatedAt = fromTS(createdAt)
	return a, nil
}
