package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/routing"
	"github.com/nusagates/laragates-sub001/internal/sla"
	"github.com/nusagates/laragates-sub001/internal/storage/sqlite"
	"github.com/nusagates/laragates-sub001/internal/ws"
)

// testEnv bundles a Service + httptest.Server + ws.Hub for handler tests.
// Requests come from loopback, so the acting agent is named by X-Agent-ID.
type testEnv struct {
	srv      *httptest.Server
	hub      *ws.Hub
	store    *sqlite.Store
	slaClock *clock.Fake
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := sqlite.NewSQLiteTest(t)
	hub := ws.NewHub(nil)
	// SLA sweeps run an hour ahead so anything created during a test is overdue.
	slaClock := clock.NewFake(time.Now().Add(time.Hour))

	policy := routing.NewPolicy(routing.DefaultMaxOpenSessions)
	opts := []routing.Option{routing.WithNotifier(hub)}
	engine := routing.NewEngine(st, policy, opts...)
	svc := NewService(st, Components{
		Engine:    engine,
		Lifecycle: routing.NewLifecycle(st, policy, opts...),
		Presence:  routing.NewPresence(st, engine, opts...),
		SLA:       sla.NewEvaluator(st, sla.DefaultThresholds(), sla.WithClock(slaClock)),
	}).WithNotifier(hub)

	ring := auth.NewKeyring(true, map[string]string{"secret-a": "agent-a", "secret-admin": "admin-1"})
	h := NewRouter(svc, hub.Handler(), auth.Middleware(ring))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, store: st, slaClock: slaClock, handler: h}
}

// do sends a request as agent (empty for anonymous) and returns the response.
func (e *testEnv) do(t *testing.T, method, path, agent string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if agent != "" {
		req.Header.Set(auth.AgentHeader, agent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// remote sends a request from a non-loopback address with a bearer key.
func (e *testEnv) remote(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "203.0.113.10:9999"
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) seed(t *testing.T, id string, role core.Role, max int) {
	t.Helper()
	sqlite.SeedAgent(t, e.store, id, role, max)
}

// seedOffline registers an agent that routing will not pick.
func (e *testEnv) seedOffline(t *testing.T, id string, role core.Role) {
	t.Helper()
	if _, err := e.store.RegisterAgent(context.Background(), core.Agent{ID: id, Name: id, Role: role, IsActive: true}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}
