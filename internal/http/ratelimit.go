package httpapi

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/core"
)

const limiterSize = 4096

// Limiter is a fixed-window request counter per caller. Counters live in an
// expiring LRU, so idle callers cost nothing and limits are approximate
// under eviction.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewLimiter allows limit requests per window. A non-positive limit
// disables limiting.
func NewLimiter(limit int, per time.Duration) *Limiter {
	l := &Limiter{limit: limit, window: per, now: time.Now}
	if limit > 0 {
		l.windows = expirable.NewLRU[string, *window](limiterSize, nil, per)
	}
	return l
}

// Allow counts one request for key. When the caller is over the limit it
// returns false and how long until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.windows == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || now.Sub(w.start) >= l.window {
		l.windows.Add(key, &window{start: now, count: 1})
		return true, 0
	}
	if w.count >= l.limit {
		return false, l.window - now.Sub(w.start)
	}
	w.count++
	return true, 0
}

// Middleware rejects callers over the limit with 429. Callers are keyed by
// agent when known, else by remote address, so it belongs after auth.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(limitKey(r))
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate_limited", fmt.Sprintf("%v: rate limit exceeded", core.ErrBusy)})
	})
}

func limitKey(r *http.Request) string {
	if id, ok := auth.Actor(r.Context()); ok {
		return "agent:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
