// Package pipeline composes the request guards for a route in their fixed
// order: origin, rate limit, CSRF, then session and role.
package pipeline

import (
	"fmt"
	"net/http"

	"github.com/jmcleod/portalguard/csrf"
	"github.com/jmcleod/portalguard/origin"
	"github.com/jmcleod/portalguard/ratelimit"
	"github.com/jmcleod/portalguard/session"
)

// Route declares which guards protect a handler.
type Route struct {
	// Action is the rate-limit policy. A zero Policy disables limiting.
	Action ratelimit.Policy
	// Mutating enables the origin check.
	Mutating bool
	// CSRF enables the double-submit token check.
	CSRF bool
	// Mode selects redirect or status-code denials for the session gate.
	Mode session.Mode
	// Roles restricts access to these roles. Non-empty implies
	// Authenticated.
	Roles         []session.Role
	Authenticated bool
}

func (rt Route) needsSession() bool {
	return rt.Authenticated || len(rt.Roles) > 0
}

// Pipeline holds the shared guard instances.
type Pipeline struct {
	origin  *origin.Guard
	limiter *ratelimit.Limiter
	csrf    *csrf.Guard
	gate    *session.Gate
}

func New(o *origin.Guard, l *ratelimit.Limiter, c *csrf.Guard, g *session.Gate) *Pipeline {
	return &Pipeline{origin: o, limiter: l, csrf: c, gate: g}
}

// Guard returns middleware applying exactly the guards rt asks for. It
// panics when rt needs a guard the pipeline was built without, so a
// misconfigured route fails at startup rather than running unprotected.
func (p *Pipeline) Guard(rt Route) func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler

	if rt.Mutating {
		if p.origin == nil {
			panic("pipeline: route needs origin guard")
		}
		chain = append(chain, p.origin.Middleware)
	}
	if rt.Action.Name != "" {
		if p.limiter == nil {
			panic("pipeline: route needs rate limiter")
		}
		if err := rt.Action.Validate(); err != nil {
			panic(fmt.Sprintf("pipeline: %v", err))
		}
		chain = append(chain, p.limiter.Middleware(rt.Action))
	}
	if rt.CSRF {
		if p.csrf == nil {
			panic("pipeline: route needs csrf guard")
		}
		chain = append(chain, p.csrf.Middleware)
	}
	if rt.needsSession() {
		if p.gate == nil {
			panic("pipeline: route needs session gate")
		}
		chain = append(chain, p.gate.Middleware(rt.Mode, rt.Roles...))
	}

	return func(next http.Handler) http.Handler {
		h := next
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		return h
	}
}

// Handle wraps h with the guards for rt.
func (p *Pipeline) Handle(rt Route, h http.HandlerFunc) http.Handler {
	return p.Guard(rt)(h)
}
