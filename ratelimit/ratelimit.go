// Package ratelimit implements fixed-window request counting keyed by
// action and client identity, with pluggable counter stores.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/internal/httpx"
)

var (
	// ErrStoreUnavailable wraps any failure of the backing counter store.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")
	// ErrInvalidLimit is returned for a non-positive limit or window.
	ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")
)

// DefaultTimeout bounds each store call made by a Limiter.
const DefaultTimeout = 250 * time.Millisecond

// Entry is the per-key counter state held by a store.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store failed and the policy's fail mode
	// decided the outcome.
	Degraded bool
}

// RetryAfter is the time left until the window resets, never below zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// NewDecision derives a Decision from an entry after counting.
func NewDecision(allowed bool, e Entry, limit int) Decision {
	remaining := limit - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     e.Count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   e.ResetAt,
	}
}

// Store counts hits for a key within a fixed window. Implementations must
// be safe for concurrent use and apply the whole check atomically:
//
//   - no entry, or now >= resetAt: start a new window with count 1 and allow;
//   - count >= limit: refuse without incrementing;
//   - otherwise increment and allow.
type Store interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy names an action and its budget.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
	// FailClosed refuses requests when the store is unavailable. When
	// false the request is allowed through.
	FailClosed bool
}

func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("ratelimit: policy name is required")
	}
	if p.Limit <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: policy %q", ErrInvalidLimit, p.Name)
	}
	return nil
}

// Default policy names.
const (
	ActionLogin            = "login"
	ActionCSRFIssue        = "csrf-issue"
	ActionAccessCodeIssue  = "access-code-issue"
	ActionAccessCodeRedeem = "access-code-redeem"
	ActionPIIReveal        = "pii-reveal"
	ActionAdminDestructive = "admin-destructive"
	ActionSessionClear     = "session-clear"
)

// DefaultPolicies are the budgets applied by the reference API. Credential
// and PII paths fail closed; token issuance and logout fail open so a store
// outage does not lock users out of the basics.
var DefaultPolicies = map[string]Policy{
	ActionLogin:            {Name: ActionLogin, Limit: 120, Window: 15 * time.Minute, FailClosed: true},
	ActionCSRFIssue:        {Name: ActionCSRFIssue, Limit: 60, Window: time.Minute},
	ActionAccessCodeIssue:  {Name: ActionAccessCodeIssue, Limit: 30, Window: 10 * time.Minute, FailClosed: true},
	ActionAccessCodeRedeem: {Name: ActionAccessCodeRedeem, Limit: 20, Window: 15 * time.Minute, FailClosed: true},
	ActionPIIReveal:        {Name: ActionPIIReveal, Limit: 120, Window: 15 * time.Minute, FailClosed: true},
	ActionAdminDestructive: {Name: ActionAdminDestructive, Limit: 12, Window: 10 * time.Minute, FailClosed: true},
	ActionSessionClear:     {Name: ActionSessionClear, Limit: 30, Window: time.Minute},
}

// Key builds the store key for an action and identity.
func Key(action, identity string) string {
	return action + ":" + identity
}

// Limiter applies policies against a Store.
type Limiter struct {
	store          Store
	timeout        time.Duration
	trustedProxies []netip.Prefix
	audit          *audit.Logger
	now            func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithTimeout bounds each store call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithTrustedProxies sets the CIDR ranges whose forwarding headers are
// believed when deriving the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(l *Limiter) { l.trustedProxies = prefixes }
}

// WithAuditLogger routes rate_limited and store failure events to a.
func WithAuditLogger(a *audit.Logger) Option {
	return func(l *Limiter) { l.audit = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request by identity against policy. Store errors never
// reach the caller: the policy's fail mode decides and the failure is
// logged. An invalid policy always refuses.
func (l *Limiter) Allow(ctx context.Context, p Policy, identity string) Decision {
	if err := p.Validate(); err != nil {
		l.audit.LogContext(ctx, audit.RateLimitPolicyInvalid,
			slog.String("action", p.Name), slog.String("error", err.Error()))
		return Decision{Allowed: false, Limit: p.Limit}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	d, err := l.store.Check(ctx, Key(p.Name, identity), p.Limit, p.Window)
	if err == nil {
		return d
	}

	l.audit.LogContext(ctx, audit.RateLimitStoreUnavailable,
		slog.String("action", p.Name),
		slog.Bool("fail_closed", p.FailClosed),
		slog.String("error", err.Error()),
	)
	return Decision{
		Allowed:   !p.FailClosed,
		Limit:     p.Limit,
		Remaining: 0,
		ResetAt:   l.now().Add(p.Window),
		Degraded:  true,
	}
}

// ClientIP returns the request's client address as the limiter sees it.
func (l *Limiter) ClientIP(r *http.Request) string {
	return ClientIP(r, l.trustedProxies)
}

// Middleware limits requests per client IP under policy. Refused requests
// get 429 with Retry-After.
func (l *Limiter) Middleware(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.ClientIP(r)
			if ip == "" {
				ip = "unknown"
			}
			d := l.Allow(r.Context(), p, ip)
			writeLimitHeaders(w, d)

			if !d.Allowed {
				l.audit.Log(r, audit.RateLimited,
					slog.String("action", p.Name),
					slog.String("client_ip", ip),
					slog.Bool("degraded", d.Degraded),
				)
				w.Header().Set("Retry-After", retryAfterString(d.RetryAfter(l.now())))
				httpx.WriteError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeLimitHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func retryAfterString(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
