package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nusagates/laragates-sub001/internal/auth"
)

func TestLimiterWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(2, 10*time.Second)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("agent:a"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, wait := l.Allow("agent:a")
	if ok {
		t.Fatal("third request in window should be limited")
	}
	if wait != 10*time.Second {
		t.Fatalf("expected full window wait, got %v", wait)
	}
	if ok, _ := l.Allow("agent:b"); !ok {
		t.Fatal("other callers have their own window")
	}

	now = now.Add(10 * time.Second)
	if ok, _ := l.Allow("agent:a"); !ok {
		t.Fatal("new window should reset the count")
	}
}

func TestLimiterWindowIsFixed(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := start
	l := NewLimiter(2, 10*time.Second)
	l.now = func() time.Time { return now }

	l.Allow("agent:a")
	now = start.Add(9 * time.Second)
	if ok, _ := l.Allow("agent:a"); !ok {
		t.Fatal("second request in window should pass")
	}
	ok, wait := l.Allow("agent:a")
	if ok || wait != time.Second {
		t.Fatalf("expected limit until window end, got ok=%v wait=%v", ok, wait)
	}

	// The request at 9s does not carry over into the next window.
	now = start.Add(10 * time.Second)
	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("agent:a"); !ok {
			t.Fatalf("request %d in fresh window should pass", i)
		}
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow("x"); !ok {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestLimiterMiddleware(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	ring := auth.NewKeyring(true, nil)
	h := auth.Middleware(ring)(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	send := func(agent string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = "127.0.0.1:5000"
		req.Header.Set(auth.AgentHeader, agent)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("agent-a"); rr.Code != http.StatusNoContent {
		t.Fatalf("first request expected 204, got %d", rr.Code)
	}
	rr := send("agent-a")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if rr := send("agent-b"); rr.Code != http.StatusNoContent {
		t.Fatalf("agent-b expected 204, got %d", rr.Code)
	}
}
