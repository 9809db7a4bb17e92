// Package origin rejects state-changing requests whose declared Origin does
// not match the Host they were sent to.
package origin

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/internal/httpx"
)

// SameOrigin reports whether originHeader names the same host[:port] as
// host. Hosts compare case-insensitively and an explicit default port for
// the Origin's scheme equals no port. A missing or malformed header is never
// same-origin.
func SameOrigin(originHeader, host string) bool {
	o, ok := parseOrigin(originHeader)
	if !ok {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, "/?#@ ") {
		return false
	}
	return normalizeHost(o.Host, o.Scheme) == normalizeHost(host, o.Scheme)
}

// parseOrigin accepts only an absolute http(s) URL with a host and nothing
// beyond an optional trailing slash.
func parseOrigin(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" || u.User != nil || u.Opaque != "" || u.RawQuery != "" || u.Fragment != "" {
		return nil, false
	}
	if u.Path != "" && u.Path != "/" {
		return nil, false
	}
	return u, true
}

func normalizeHost(hostport, scheme string) string {
	hostport = strings.ToLower(hostport)
	h, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return hostport
}

// Guard enforces SameOrigin on mutating requests.
type Guard struct {
	trusted map[string]struct{}
	audit   *audit.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTrustedOrigins additionally accepts the listed origins verbatim, for
// a separately hosted front end that is also the configured CORS origin.
func WithTrustedOrigins(origins ...string) Option {
	return func(g *Guard) {
		for _, o := range origins {
			if u, ok := parseOrigin(o); ok {
				g.trusted[u.Scheme+"://"+normalizeHost(u.Host, u.Scheme)] = struct{}{}
			}
		}
	}
}

// WithAuditLogger routes origin_rejected events to a.
func WithAuditLogger(a *audit.Logger) Option {
	return func(g *Guard) { g.audit = a }
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{trusted: make(map[string]struct{})}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check reports whether r may proceed. Safe methods always pass.
func (g *Guard) Check(r *http.Request) bool {
	if httpx.IsSafeMethod(r.Method) {
		return true
	}
	originHeader := r.Header.Get("Origin")
	if SameOrigin(originHeader, r.Host) {
		return true
	}
	if u, ok := parseOrigin(originHeader); ok {
		_, trusted := g.trusted[u.Scheme+"://"+normalizeHost(u.Host, u.Scheme)]
		return trusted
	}
	return false
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Check(r) {
			g.audit.Log(r, audit.OriginRejected,
				slog.String("origin", r.Header.Get("Origin")),
				slog.String("host", r.Host),
			)
			httpx.WriteError(w, http.StatusForbidden, "Invalid request origin")
			return
		}
		next.ServeHTTP(w, r)
	})
}
