package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/internal/httpx"
)

// Mode selects how the gate reports a denial.
type Mode int

const (
	// ModeAPI answers 401/403 with a JSON error body.
	ModeAPI Mode = iota
	// ModePage redirects: anonymous callers to the root, callers with the
	// wrong role to their own landing page.
	ModePage
)

// DefaultProviderTimeout bounds one identity provider lookup.
const DefaultProviderTimeout = 2 * time.Second

// Gate resolves sessions through a Provider and checks roles.
type Gate struct {
	provider Provider
	timeout  time.Duration
	audit    *audit.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

func WithProviderTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithAuditLogger(a *audit.Logger) GateOption {
	return func(g *Gate) { g.audit = a }
}

func NewGate(p Provider, opts ...GateOption) *Gate {
	g := &Gate{provider: p, timeout: DefaultProviderTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type lookupResult struct {
	claim *Claim
	err   error
}

// RequireSession returns the caller's claim. Anonymous callers, provider
// failures and timeouts all yield ErrUnauthenticated.
func (g *Gate) RequireSession(ctx context.Context, r *http.Request) (Claim, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		c, err := g.provider.CurrentSession(ctx, r)
		done <- lookupResult{c, err}
	}()

	var res lookupResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		return Claim{}, errors.Join(ErrUnauthenticated, res.err)
	}
	if res.claim == nil {
		return Claim{}, ErrUnauthenticated
	}
	if err := res.claim.Validate(); err != nil {
		return Claim{}, errors.Join(ErrUnauthenticated, err)
	}
	return *res.claim, nil
}

// RequireRole is RequireSession plus a membership check. An empty allowed
// set admits nobody.
func (g *Gate) RequireRole(ctx context.Context, r *http.Request, allowed ...Role) (Claim, error) {
	c, err := g.RequireSession(ctx, r)
	if err != nil {
		return Claim{}, err
	}
	if !slices.Contains(allowed, c.Role) {
		return c, ErrForbidden
	}
	return c, nil
}

// Middleware admits callers holding one of allowed, or any signed-in
// caller when allowed is empty, and stores their claim in the request
// context.
func (g *Gate) Middleware(mode Mode, allowed ...Role) func(http.Handler) http.Handler {
	check := func(r *http.Request) (Claim, error) {
		if len(allowed) == 0 {
			return g.RequireSession(r.Context(), r)
		}
		return g.RequireRole(r.Context(), r, allowed...)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := check(r)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), c)))
			case errors.Is(err, ErrForbidden):
				g.audit.Log(r, audit.Forbidden,
					slog.String("user_id", c.UserID),
					slog.String("role", string(c.Role)),
				)
				if mode == ModePage {
					http.Redirect(w, r, LandingPath(c.Role), http.StatusSeeOther)
					return
				}
				httpx.WriteError(w, http.StatusForbidden, "Forbidden")
			default:
				g.audit.Failure(r, audit.Unauthenticated, unauthenticatedReason(err))
				if mode == ModePage {
					http.Redirect(w, r, "/", http.StatusSeeOther)
					return
				}
				httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
			}
		})
	}
}

func unauthenticatedReason(err error) string {
	switch {
	case err == ErrUnauthenticated:
		return "no_session"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrInvalidClaim):
		return "invalid_claim"
	case errors.Is(err, context.DeadlineExceeded):
		return "provider_timeout"
	case errors.Is(err, context.Canceled):
		return "request_cancelled"
	default:
		return "provider_error"
	}
}
