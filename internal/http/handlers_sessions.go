package httpapi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

type createSessionRequest struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Priority   string `json:"priority"`
}

type sessionResponse struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type auditEntryResponse struct {
	Seq       uint64           `json:"seq"`
	ID        string           `json:"id"`
	Actor     string           `json:"actor"`
	Action    string           `json:"action"`
	Before    *sessionResponse `json:"before,omitempty"`
	After     *sessionResponse `json:"after,omitempty"`
	PrevHash  string           `json:"prev_hash,omitempty"`
	Digest    string           `json:"digest"`
	CreatedAt time.Time        `json:"created_at"`
}

type auditTrailResponse struct {
	SessionID string               `json:"session_id"`
	Verified  bool                 `json:"verified"`
	Problem   string               `json:"problem,omitempty"`
	Entries   []auditEntryResponse `json:"entries"`
}

func toSessionResponse(s core.Session) sessionResponse {
	return sessionResponse{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		AssignedTo: s.AssignedTo,
		Status:     string(s.Status),
		Priority:   string(s.Priority),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		ClosedAt:   s.ClosedAt,
	}
}

func snapshotResponse(data []byte) (*sessionResponse, error) {
	s, err := audit.DecodeSnapshot(data)
	if err != nil || s == nil {
		return nil, err
	}
	out := toSessionResponse(*s)
	return &out, nil
}

// handleCreateSession stores a pending session and immediately tries to
// route it. A routing failure leaves the session pending for the next
// heartbeat and does not fail the request.
func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	sess, err := s.store.CreateSession(ctx, core.Session{
		ID:         req.ID,
		CustomerID: req.CustomerID,
		Priority:   core.Priority(req.Priority),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.effects.Emit(ctx, core.Event{Type: core.EventSessionCreated, Session: &sess, CreatedAt: sess.CreatedAt})

	if _, err := s.routing.Engine.Dispatch(ctx); err != nil {
		s.logger.WarnContext(ctx, "dispatch after create failed", "session_id", sess.ID, "error", err)
	} else if current, err := s.store.GetSession(ctx, sess.ID); err == nil {
		sess = current
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.SessionFilter{
		Status:     core.SessionStatus(q.Get("status")),
		AssignedTo: q.Get("assigned_to"),
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.Limit = limit
	sessions, err := s.store.ListSessions(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Service) handleTakeSession(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.routing.Lifecycle.Take(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Service) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.routing.Lifecycle.Close(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Service) handleReopenSession(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	sess, err := s.routing.Lifecycle.Reopen(ctx, chi.URLParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.routing.Engine.Dispatch(ctx); err != nil {
		s.logger.WarnContext(ctx, "dispatch after reopen failed", "session_id", sess.ID, "error", err)
	} else if current, err := s.store.GetSession(ctx, sess.ID); err == nil {
		sess = current
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Service) handleSessionAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetSession(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.store.AuditTrail(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := auditTrailResponse{SessionID: id, Verified: true, Entries: make([]auditEntryResponse, 0, len(entries))}
	if err := audit.Verify(entries); err != nil {
		if !errors.Is(err, audit.ErrChainBroken) {
			s.writeError(w, r, err)
			return
		}
		out.Verified = false
		out.Problem = err.Error()
	}
	for _, e := range entries {
		before, err := snapshotResponse(e.Before)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		after, err := snapshotResponse(e.After)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out.Entries = append(out.Entries, auditEntryResponse{
			Seq:       e.Seq,
			ID:        e.ID,
			Actor:     e.Actor,
			Action:    string(e.Action),
			Before:    before,
			After:     after,
			PrevHash:  hex.EncodeToString(e.PrevHash),
			Digest:    hex.EncodeToString(e.Digest),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad limit %q", core.ErrInvalidInput, v)
	}
	return n, nil
}
