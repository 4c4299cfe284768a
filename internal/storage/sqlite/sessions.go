package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// CreateSession inserts a new pending, unassigned session and writes its
// first audit entry in the same transaction.
func (s *Store) CreateSession(ctx context.Context, sess core.Session) (core.Session, error) {
	if strings.TrimSpace(sess.CustomerID) == "" {
		return core.Session{}, fmt.Errorf("%w: customer id required", core.ErrInvalidInput)
	}
	if !sess.Priority.Valid() {
		return core.Session{}, fmt.Errorf("%w: unknown priority %q", core.ErrInvalidInput, sess.Priority)
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = sess.CreatedAt
	sess.Status = core.SessionPending
	sess.AssignedTo = ""
	sess.ClosedAt = nil
	sess.LastAgentReadAt = nil

	err := s.Update(ctx, func(tx storage.Tx) error {
		t := tx.(*txn)
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO chat_sessions (id, customer_id, assigned_to, status, priority, created_at, updated_at)
			 VALUES (?, ?, NULL, 'pending', ?, ?, ?)`,
			sess.ID, sess.CustomerID, string(sess.Priority), ts(sess.CreatedAt), ts(sess.UpdatedAt)); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		entry, err := audit.NewEntry("system", core.AuditCreate, nil, &sess, sess.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.AppendAudit(entry)
		return err
	})
	if err != nil {
		return core.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, f storage.SessionFilter) ([]core.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions`
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) ClosedSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]core.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions
		 WHERE status = 'closed' AND closed_at IS NOT NULL AND closed_at < ?
		 ORDER BY closed_at ASC, id ASC`
	args := []any{ts(cutoff)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("closed sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// PurgeClosedSessions removes archived sessions and the audit rows that were
// archived with them. A session that was reopened, re-closed after cutoff, or
// gained audit entries past ThroughSeq is left untouched.
func (s *Store) PurgeClosedSessions(ctx context.Context, cutoff time.Time, targets []storage.PurgeTarget) (int, error) {
	var removed int
	err := s.Update(ctx, func(tx storage.Tx) error {
		removed = 0
		t := tx.(*txn)
		for _, target := range targets {
			through := int64(target.ThroughSeq)
			res, err := t.tx.ExecContext(t.ctx,
				`DELETE FROM chat_sessions
				 WHERE id = ? AND status = 'closed' AND closed_at IS NOT NULL AND closed_at < ?
				   AND NOT EXISTS (SELECT 1 FROM audit_log WHERE session_id = ? AND seq > ?)`,
				target.SessionID, ts(cutoff), target.SessionID, through)
			if err != nil {
				return fmt.Errorf("purge session: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("purge session: %w", err)
			}
			if n == 0 {
				continue
			}
			if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM audit_log WHERE session_id = ? AND seq <= ?`, target.SessionID, through); err != nil {
				return fmt.Errorf("purge audit: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) AuditTrail(ctx context.Context, sessionID string) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, session_id, actor, action, before_snapshot, after_snapshot, prev_hash, digest, created_at
		 FROM audit_log WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e         core.AuditEntry
			seq       int64
			action    string
			createdAt int64
		)
		if err := rows.Scan(&seq, &e.ID, &e.SessionID, &e.Actor, &action, &e.Before, &e.After, &e.PrevHash, &e.Digest, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Seq = uint64(seq)
		e.Action = core.AuditAction(action)
		e.CreatedAt = fromTS(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
