package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the API. Middlewares wrap every /api and /ws route in the
// order given; /health stays open.
func NewRouter(svc *Service, wsHandler http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(svc.logger))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", svc.handleHealth)

	r.Group(func(r chi.Router) {
		for _, m := range mw {
			if m != nil {
				r.Use(m)
			}
		}
		r.Route("/api", func(r chi.Router) {
			r.Route("/agents", func(r chi.Router) {
				r.Post("/", svc.handleRegisterAgent)
				r.Get("/", svc.handleListAgents)
				r.Get("/{id}", svc.handleGetAgent)
				r.Post("/{id}/heartbeat", svc.handleAgentHeartbeat)
				r.Post("/{id}/login", svc.handleAgentLogin)
				r.Post("/{id}/logout", svc.handleAgentLogout)
			})
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", svc.handleCreateSession)
				r.Get("/", svc.handleListSessions)
				r.Get("/{id}", svc.handleGetSession)
				r.Post("/{id}/take", svc.handleTakeSession)
				r.Post("/{id}/close", svc.handleCloseSession)
				r.Post("/{id}/reopen", svc.handleReopenSession)
				r.Get("/{id}/audit", svc.handleSessionAudit)
			})
			r.Route("/tickets", func(r chi.Router) {
				r.Post("/", svc.handleCreateTicket)
				r.Get("/", svc.handleListTickets)
				r.Get("/{id}", svc.handleGetTicket)
				r.Patch("/{id}", svc.handleUpdateTicket)
			})
			r.Get("/sla/breaches", svc.handleListBreaches)
			r.Post("/sla/sweep", svc.handleSweep)
		})
		if wsHandler != nil {
			r.Get("/ws/agents/{id}", wsHandler.ServeHTTP)
		}
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		})
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}
