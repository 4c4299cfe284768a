package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

const ticketColumns = `id, session_id, subject, status, priority, created_at, updated_at, closed_at`

func (s *Store) CreateTicket(ctx context.Context, t core.Ticket) (core.Ticket, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = core.TicketPending
	}
	if !t.Status.Valid() || !t.Priority.Valid() {
		return core.Ticket{}, fmt.Errorf("%w: bad ticket status or priority", core.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, session_id, subject, status, priority, created_at, updated_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Subject, string(t.Status), string(t.Priority),
		ts(t.CreatedAt), ts(t.UpdatedAt), nullableTS(t.ClosedAt))
	if err != nil {
		return core.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (core.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	return scanTicket(row)
}

func (s *Store) ListTickets(ctx context.Context, f storage.TicketFilter) ([]core.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if f.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []core.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// UpdateTicket persists status and priority. Moving to closed stamps
// ClosedAt; moving away from closed clears it.
func (s *Store) UpdateTicket(ctx context.Context, t core.Ticket) (core.Ticket, error) {
	if !t.Status.Valid() || !t.Priority.Valid() {
		return core.Ticket{}, fmt.Errorf("%w: bad ticket status or priority", core.ErrInvalidInput)
	}
	t.UpdatedAt = time.Now().UTC()
	if t.Status == core.TicketClosed {
		if t.ClosedAt == nil {
			closed := t.UpdatedAt
			t.ClosedAt = &closed
		}
	} else {
		t.ClosedAt = nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET subject = ?, status = ?, priority = ?, updated_at = ?, closed_at = ? WHERE id = ?`,
		t.Subject, string(t.Status), string(t.Priority), ts(t.UpdatedAt), nullableTS(t.ClosedAt), t.ID)
	if err != nil {
		return core.Ticket{}, fmt.Errorf("update ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Ticket{}, core.ErrNotFound
	}
	return s.GetTicket(ctx, t.ID)
}

func scanTicket(row scanner) (core.Ticket, error) {
	var (
		t                    core.Ticket
		status, priority     string
		createdAt, updatedAt int64
		closedAt             sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.SessionID, &t.Subject, &status, &priority, &createdAt, &updatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ticket{}, core.ErrNotFound
	}
	if err != nil {
		return core.Ticket{}, fmt.Errorf("scan ticket: %w", err)
	}
	t.Status = core.TicketStatus(status)
	t.Priority = core.Priority(priority)
	t.CreatedAt = fromTS(createdAt)
	t.UpdatedAt = fromTS(updatedAt)
	t.ClosedAt = fromNullTS(closedAt)
	return t, nil
}
