package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

const breachColumns = `id, entity_type, entity_id, rule, status, severity, threshold_minutes, elapsed_minutes, breached_at`

// SlaSubjects returns every session and ticket that has not reached closed.
func (s *Store) SlaSubjects(ctx context.Context) ([]core.SlaSubject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT 'session', id, status, priority, created_at, updated_at FROM chat_sessions WHERE status != 'closed'
		 UNION ALL
		 SELECT 'ticket', id, status, priority, created_at, updated_at FROM tickets WHERE status != 'closed'
		 ORDER BY 5 ASC`)
	if err != nil {
		return nil, fmt.Errorf("sla subjects: %w", err)
	}
	defer rows.Close()

	var out []core.SlaSubject
	for rows.Next() {
		var (
			sub                          core.SlaSubject
			entityType, status, priority string
			createdAt, updatedAt         int64
		)
		if err := rows.Scan(&entityType, &sub.ID, &status, &priority, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan sla subject: %w", err)
		}
		sub.Type = core.EntityType(entityType)
		sub.Status = status
		sub.Priority = core.Priority(priority)
		sub.CreatedAt = fromTS(createdAt)
		sub.UpdatedAt = fromTS(updatedAt)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// FindOrCreateBreach relies on the unique (entity_type, entity_id, rule,
// status) index: a losing insert is a no-op and the stored row is returned.
func (s *Store) FindOrCreateBreach(ctx context.Context, b core.SlaBreach) (core.SlaBreach, bool, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sla_breaches (`+breachColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_type, entity_id, rule, status) DO NOTHING`,
		b.ID, string(b.EntityType), b.EntityID, string(b.Rule), b.Status, string(b.Severity),
		b.ThresholdMinutes, b.ElapsedMinutes, ts(b.BreachedAt))
	if err != nil {
		return core.SlaBreach{}, false, fmt.Errorf("insert breach: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.SlaBreach{}, false, fmt.Errorf("insert breach: %w", err)
	}
	if n == 1 {
		return b, true, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+breachColumns+` FROM sla_breaches
		 WHERE entity_type = ? AND entity_id = ? AND rule = ? AND status = ?`,
		string(b.EntityType), b.EntityID, string(b.Rule), b.Status)
	existing, err := scanBreach(row)
	if err != nil {
		return core.SlaBreach{}, false, err
	}
	return existing, false, nil
}

func (s *Store) ListBreaches(ctx context.Context, f storage.BreachFilter) ([]core.SlaBreach, error) {
	query := `SELECT ` + breachColumns + ` FROM sla_breaches`
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Rule != "" {
		where = append(where, "rule = ?")
		args = append(args, string(f.Rule))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY breached_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list breaches: %w", err)
	}
	defer rows.Close()

	var out []core.SlaBreach
	for rows.Next() {
		b, err := scanBreach(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanBreach(row scanner) (core.SlaBreach, error) {
	var (
		b                          core.SlaBreach
		entityType, rule, severity string
		breachedAt                 int64
	)
	err := row.Scan(&b.ID, &entityType, &b.EntityID, &rule, &b.Status, &severity, &b.ThresholdMinutes, &b.ElapsedMinutes, &breachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SlaBreach{}, core.ErrNotFound
	}
	if err != nil {
		return core.SlaBreach{}, fmt.Errorf("scan breach: %w", err)
	}
	b.EntityType = core.EntityType(entityType)
	b.Rule = core.SlaRule(rule)
	b.Severity = core.Priority(severity)
	b.BreachedAt = fromTS(breachedAt)
	return b, nil
}
