package httpapi

import (
	"log/slog"

	"github.com/nusagates/laragates-sub001/internal/routing"
	"github.com/nusagates/laragates-sub001/internal/sla"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// Components are the routing pieces the HTTP layer drives.
type Components struct {
	Engine    *routing.Engine
	Lifecycle *routing.Lifecycle
	Presence  *routing.Presence
	SLA       *sla.Evaluator
}

type Service struct {
	store   storage.Store
	routing Components
	effects routing.BestEffort
	logger  *slog.Logger
	health  func() map[string]string
}

func NewService(store storage.Store, c Components) *Service {
	logger := slog.Default().With("component", "http")
	return &Service{
		store:   store,
		routing: c,
		logger:  logger,
		effects: routing.BestEffort{Logger: logger},
	}
}

// WithNotifier sets where session.created events go.
func (s *Service) WithNotifier(n routing.Notifier) *Service {
	s.effects.Notifier = n
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l.With("component", "http")
		s.effects.Logger = s.logger
	}
	return s
}

// WithHealth adds extra fields to the /health response.
func (s *Service) WithHealth(fn func() map[string]string) *Service {
	s.health = fn
	return s
}
