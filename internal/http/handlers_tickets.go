package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

type createTicketRequest struct {
	SessionID string `json:"session_id"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
}

type updateTicketRequest struct {
	Subject  *string `json:"subject"`
	Status   *string `json:"status"`
	Priority *string `json:"priority"`
}

type ticketResponse struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id,omitempty"`
	Subject   string     `json:"subject"`
	Status    string     `json:"status"`
	Priority  string     `json:"priority,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

type listTicketsResponse struct {
	Tickets []ticketResponse `json:"tickets"`
}

func toTicketResponse(t core.Ticket) ticketResponse {
	return ticketResponse{
		ID:        t.ID,
		SessionID: t.SessionID,
		Subject:   t.Subject,
		Status:    string(t.Status),
		Priority:  string(t.Priority),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		ClosedAt:  t.ClosedAt,
	}
}

func (s *Service) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Subject == "" {
		s.writeError(w, r, fmt.Errorf("%w: subject required", core.ErrInvalidInput))
		return
	}
	t, err := s.store.CreateTicket(r.Context(), core.Ticket{
		SessionID: req.SessionID,
		Subject:   req.Subject,
		Status:    core.TicketStatus(req.Status),
		Priority:  core.Priority(req.Priority),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketResponse(t))
}

func (s *Service) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tickets, err := s.store.ListTickets(r.Context(), storage.TicketFilter{
		Status: core.TicketStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := listTicketsResponse{Tickets: make([]ticketResponse, 0, len(tickets))}
	for _, t := range tickets {
		out.Tickets = append(out.Tickets, toTicketResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}

func (s *Service) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var req updateTicketRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	t, err := s.store.GetTicket(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Subject != nil {
		t.Subject = *req.Subject
	}
	if req.Status != nil {
		t.Status = core.TicketStatus(*req.Status)
	}
	if req.Priority != nil {
		t.Priority = core.Priority(*req.Priority)
	}
	t, err = s.store.UpdateTicket(ctx, t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}
