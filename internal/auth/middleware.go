package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// AgentHeader names the acting agent on trusted localhost requests.
const AgentHeader = "X-Agent-ID"

// Info describes who made a request. AgentID is empty for anonymous
// localhost callers.
type Info struct {
	Mode      Mode
	AgentID   string
	Localhost bool
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// WithInfo returns ctx carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// Actor returns the agent acting on the request, if known.
func Actor(ctx context.Context) (string, bool) {
	info, ok := FromContext(ctx)
	if !ok || info.AgentID == "" {
		return "", false
	}
	return info.AgentID, true
}

func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ring.AllowLocalhostWithoutAuth && isLocalRequest(r, ring.TrustForwardedFor) {
				info := Info{Mode: ModeLocalhost, AgentID: strings.TrimSpace(r.Header.Get(AgentHeader)), Localhost: true}
				next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
				return
			}
			agentID, ok := authorize(r, ring)
			if !ok {
				writeUnauthorized(w)
				return
			}
			info := Info{Mode: ModeAPIKey, AgentID: agentID, Localhost: false}
			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}

func authorize(r *http.Request, ring *Keyring) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return "", false
	}
	return ring.AgentForKey(key)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": "missing or unknown API key"})
}

// isLocalRequest reports whether the peer is loopback. X-Forwarded-For is
// consulted only when trusted and only when the peer itself is loopback,
// so a remote client cannot claim to be local by setting the header.
func isLocalRequest(r *http.Request, trustForwarded bool) bool {
	if !isLoopbackHost(r.RemoteAddr) {
		return false
	}
	if !trustForwarded {
		return true
	}
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		return isLoopbackHost(ip)
	}
	return true
}

func isLoopbackHost(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ",")
	return strings.TrimSpace(parts[0])
}
