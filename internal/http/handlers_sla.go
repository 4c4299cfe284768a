package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

type breachResponse struct {
	ID               string    `json:"id"`
	EntityType       string    `json:"entity_type"`
	EntityID         string    `json:"entity_id"`
	Rule             string    `json:"rule"`
	Status           string    `json:"status"`
	Severity         string    `json:"severity"`
	ThresholdMinutes int       `json:"threshold_minutes"`
	ElapsedMinutes   int       `json:"elapsed_minutes"`
	BreachedAt       time.Time `json:"breached_at"`
}

type listBreachesResponse struct {
	Breaches []breachResponse `json:"breaches"`
}

type sweepResponse struct {
	Checked  int `json:"checked"`
	Breached int `json:"breached"`
	Existing int `json:"existing"`
	Errors   int `json:"errors"`
}

func (s *Service) handleListBreaches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	breaches, err := s.store.ListBreaches(r.Context(), storage.BreachFilter{
		EntityType: core.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Rule:       core.SlaRule(q.Get("rule")),
		Limit:      limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := listBreachesResponse{Breaches: make([]breachResponse, 0, len(breaches))}
	for _, b := range breaches {
		out.Breaches = append(out.Breaches, breachResponse{
			ID:               b.ID,
			EntityType:       string(b.EntityType),
			EntityID:         b.EntityID,
			Rule:             string(b.Rule),
			Status:           b.Status,
			Severity:         string(b.Severity),
			ThresholdMinutes: b.ThresholdMinutes,
			ElapsedMinutes:   b.ElapsedMinutes,
			BreachedAt:       b.BreachedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSweep runs one SLA pass on demand for supervisors and admins.
func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	actorID, err := requireActor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	denied := func(reason string) error {
		return &core.AuthorizationError{Actor: actorID, Action: "run sla sweep", Reason: reason}
	}
	actor, err := s.store.GetAgent(ctx, actorID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		err = denied("unknown agent")
	case err == nil && !actor.IsActive:
		err = denied("account inactive")
	case err == nil && !actor.Role.Can(core.CapRunSweep):
		err = denied("missing capability " + core.CapRunSweep.String())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.routing.SLA.Sweep(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		Checked:  stats.Checked,
		Breached: stats.Breached,
		Existing: stats.Existing,
		Errors:   stats.Errors,
	})
}
