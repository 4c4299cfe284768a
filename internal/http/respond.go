package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/core"
)

var errNoActor = errors.New("agent identity required")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without leaking details.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authz    *core.AuthorizationError
		conflict *core.ConflictError
	)
	switch {
	case errors.As(err, &authz):
		writeJSON(w, http.StatusForbidden, errorResponse{"forbidden", err.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{"conflict", err.Error()})
	case errors.Is(err, errNoActor):
		writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized", err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not_found", err.Error()})
	case errors.Is(err, core.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input", err.Error()})
	case errors.Is(err, core.ErrBusy):
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{"busy", err.Error()})
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal", "internal error"})
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed body: %v", core.ErrInvalidInput, err)
	}
	return nil
}

func requireActor(r *http.Request) (string, error) {
	id, ok := auth.Actor(r.Context())
	if !ok {
		return "", errNoActor
	}
	return id, nil
}
