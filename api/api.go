// Package api is the reference HTTP surface: it issues and redeems access
// codes behind the guard pipeline.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/portalguard/csrf"
	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/origin"
	"github.com/jmcleod/portalguard/pii"
	"github.com/jmcleod/portalguard/pipeline"
	"github.com/jmcleod/portalguard/ratelimit"
	ratelimitmemory "github.com/jmcleod/portalguard/ratelimit/memory"
	"github.com/jmcleod/portalguard/session"
	"github.com/jmcleod/portalguard/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo   storage.Repository
	cipher *pii.Cipher

	origin  *origin.Guard
	limiter *ratelimit.Limiter
	csrf    *csrf.Guard
	gate    *session.Gate

	policies      map[string]ratelimit.Policy
	audit         *audit.Logger
	logger        *slog.Logger
	secureCookies bool
	now           func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and internal
// errors. If not set, a JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAuditLogger shares an audit logger with the guards.
func WithAuditLogger(l *audit.Logger) Option {
	return func(a *API) { a.audit = l }
}

func WithOriginGuard(g *origin.Guard) Option {
	return func(a *API) { a.origin = g }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *API) { a.limiter = l }
}

func WithCSRFGuard(g *csrf.Guard) Option {
	return func(a *API) { a.csrf = g }
}

// WithSessionGate sets the identity check. Without one every protected
// route answers 401.
func WithSessionGate(g *session.Gate) Option {
	return func(a *API) { a.gate = g }
}

// WithPolicies overrides rate-limit policies by action name.
func WithPolicies(policies map[string]ratelimit.Policy) Option {
	return func(a *API) {
		for name, p := range policies {
			a.policies[name] = p
		}
	}
}

// WithSecureCookies marks cookies the API clears as Secure.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

var anonymous = session.ProviderFunc(func(_ context.Context, _ *http.Request) (*session.Claim, error) {
	return nil, nil
})

// New creates a new API instance. Guards not supplied through options get
// in-process defaults.
func New(repo storage.Repository, cipher *pii.Cipher, opts ...Option) *API {
	a := &API{
		repo:     repo,
		cipher:   cipher,
		policies: make(map[string]ratelimit.Policy, len(ratelimit.DefaultPolicies)),
		now:      time.Now,
	}
	for name, p := range ratelimit.DefaultPolicies {
		a.policies[name] = p
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.audit == nil {
		a.audit = audit.New(a.logger)
	}
	if a.origin == nil {
		a.origin = origin.NewGuard(origin.WithAuditLogger(a.audit))
	}
	if a.limiter == nil {
		a.limiter = ratelimit.NewLimiter(ratelimitmemory.New(), ratelimit.WithAuditLogger(a.audit))
	}
	if a.csrf == nil {
		a.csrf = csrf.NewGuard(csrf.WithSecureCookies(a.secureCookies), csrf.WithAuditLogger(a.audit))
	}
	if a.gate == nil {
		a.gate = session.NewGate(anonymous, session.WithAuditLogger(a.audit))
	}
	return a
}

func (a *API) pipeline() *pipeline.Pipeline {
	return pipeline.New(a.origin, a.limiter, a.csrf, a.gate)
}

// Router returns a chi.Router with all API routes mounted. It is meant to
// be mounted at /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	p := a.pipeline()
	staff := []session.Role{session.RoleRecruiter, session.RoleSuperAdmin}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.With(p.Guard(pipeline.Route{
		Action: a.policies[ratelimit.ActionCSRFIssue],
	})).Get("/csrf", a.IssueCSRF)

	r.With(p.Guard(pipeline.Route{
		Authenticated: true,
	})).Get("/session", a.GetSession)

	r.With(p.Guard(pipeline.Route{
		Action:   a.policies[ratelimit.ActionSessionClear],
		Mutating: true,
		CSRF:     true,
	})).Post("/session/clear", a.ClearSession)

	r.With(p.Guard(pipeline.Route{
		Action:   a.policies[ratelimit.ActionAccessCodeIssue],
		Mutating: true,
		CSRF:     true,
		Roles:    staff,
	})).Post("/assessments/{assessmentID}/access-codes", a.IssueAccessCode)

	r.With(p.Guard(pipeline.Route{
		Roles: staff,
	})).Get("/assessments/{assessmentID}/access-codes", a.ListAccessCodes)

	r.With(p.Guard(pipeline.Route{
		Action:   a.policies[ratelimit.ActionAccessCodeRedeem],
		Mutating: true,
		CSRF:     true,
	})).Post("/access-codes/redeem", a.RedeemAccessCode)

	r.With(p.Guard(pipeline.Route{
		Action: a.policies[ratelimit.ActionPIIReveal],
		Roles:  staff,
	})).Get("/access-codes/{codeID}", a.GetAccessCode)

	r.With(p.Guard(pipeline.Route{
		Action:   a.policies[ratelimit.ActionAdminDestructive],
		Mutating: true,
		CSRF:     true,
		Roles:    []session.Role{session.RoleSuperAdmin},
	})).Delete("/access-codes/{codeID}", a.DeleteAccessCode)

	return r
}
