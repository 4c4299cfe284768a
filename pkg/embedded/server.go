// Package embedded runs a laragates server inside another Go program.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nusagates/laragates-sub001/internal/config"
	"github.com/nusagates/laragates-sub001/internal/server"
)

// Config configures the embedded server
type Config struct {
	// DBPath is the path to the SQLite database file.
	// If empty, defaults to ~/.laragates/data.db
	DBPath string

	// Port is the HTTP port to listen on. If 0, a free port is chosen.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string

	// KeysFile enables API key auth from the given keys file. Empty means
	// loopback callers only, identified by X-Agent-ID.
	KeysFile string

	Logger *slog.Logger
}

// Server is an embedded laragates instance: store, routing, background jobs
// and HTTP API.
type Server struct {
	app     *server.App
	http    *http.Server
	ln      net.Listener
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".laragates", "data.db")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	appCfg := config.Default()
	appCfg.DBPath = cfg.DBPath
	appCfg.ListenAddr = net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	appCfg.KeysFile = cfg.KeysFile
	if err := appCfg.Validate(); err != nil {
		return nil, err
	}
	app, err := server.Build(appCfg, cfg.Logger)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", appCfg.ListenAddr)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{
		app:  app,
		ln:   ln,
		http: &http.Server{Handler: app.Handler, ReadHeaderTimeout: 10 * time.Second},
	}, nil
}

// Start serves in the background. Calling it twice is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.app.Scheduler.Start(ctx)
	go func() {
		if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("embedded laragates server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and closes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.ln.Close()
		return s.app.Close()
	}
	s.started = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.cancel()
	s.app.Scheduler.Stop()
	if cerr := s.app.Close(); err == nil {
		err = cerr
	}
	return err
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// URL returns the base URL for the server
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// App exposes the wired components for direct in-process calls.
func (s *Server) App() *server.App {
	return s.app
}
