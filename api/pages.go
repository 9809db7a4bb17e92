package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/portalguard/internal/httpx"
	"github.com/jmcleod/portalguard/pipeline"
	"github.com/jmcleod/portalguard/session"
)

// PageRouter serves the browser-facing entry points behind the page-mode
// gate: each role's landing page, and /portal which sends a signed-in
// caller to theirs. Denials redirect instead of answering 401/403.
func (a *API) PageRouter() chi.Router {
	r := chi.NewRouter()
	p := a.pipeline()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("portalguard\n"))
	})

	portal := p.Guard(pipeline.Route{Mode: session.ModePage, Authenticated: true})
	r.With(portal).Get("/portal", a.PortalRedirect)
	r.With(portal).Get("/portal/*", a.PortalRedirect)

	for _, role := range session.Roles() {
		r.With(p.Guard(pipeline.Route{
			Mode:  session.ModePage,
			Roles: []session.Role{role},
		})).Get(session.LandingPath(role), landingPage(role))
	}
	return r
}

// PortalRedirect sends the caller to their role's landing page.
func (a *API) PortalRedirect(w http.ResponseWriter, r *http.Request) {
	c, _ := session.ClaimFromContext(r.Context())
	http.Redirect(w, r, session.LandingPath(c.Role), http.StatusSeeOther)
}

func landingPage(role session.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := session.ClaimFromContext(r.Context())
		httpx.SetNoStore(w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%s area for %s\n", role, c.UserID)
	}
}
