// Package csrf implements double-submit cookie protection for browser
// mutations.
package csrf

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/internal/httpx"
	"github.com/jmcleod/portalguard/internal/util"
)

const (
	CookieName = "portalguard_csrf"
	HeaderName = "X-CSRF-Token"

	// TokenBytes is the entropy of a token before encoding.
	TokenBytes = 32
	// TokenTTL is the lifetime of the cookie.
	TokenTTL = time.Hour
)

// Guard issues and validates CSRF tokens. The cookie is HttpOnly: clients
// take the token from the Issue response body and echo it in HeaderName.
type Guard struct {
	secure bool
	audit  *audit.Logger
	now    func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithSecureCookies marks cookies Secure regardless of how the request
// arrived. Production deployments set this.
func WithSecureCookies(secure bool) Option {
	return func(g *Guard) { g.secure = secure }
}

// WithAuditLogger routes csrf_rejected events to a.
func WithAuditLogger(a *audit.Logger) Option {
	return func(g *Guard) { g.audit = a }
}

// WithClock overrides the time source used for cookie expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewToken returns 256 random bits, base64url encoded without padding.
func NewToken() (string, error) {
	b, err := util.RandomBytes(TokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue mints a token, sets it as the CSRF cookie and returns it.
func (g *Guard) Issue(w http.ResponseWriter, r *http.Request) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure || httpx.RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(TokenTTL / time.Second),
		Expires:  g.now().Add(TokenTTL),
	})
	return token, nil
}

// Validate reports whether supplied matches the request's CSRF cookie.
func (g *Guard) Validate(r *http.Request, supplied string) bool {
	return validate(r, supplied) == ""
}

// validate returns an empty reason on success.
func validate(r *http.Request, supplied string) string {
	if supplied == "" {
		return "missing_token"
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "missing_cookie"
	}
	if len(cookie.Value) != len(supplied) {
		return "token_mismatch"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(supplied)) != 1 {
		return "token_mismatch"
	}
	return ""
}

// Middleware rejects unsafe requests whose X-CSRF-Token header does not
// match the cookie. The caller only ever sees "Invalid request".
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpx.IsSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if reason := validate(r, r.Header.Get(HeaderName)); reason != "" {
			g.audit.Failure(r, audit.CSRFRejected, reason, slog.String("header", HeaderName))
			httpx.WriteError(w, http.StatusForbidden, "Invalid request")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Clear expires the CSRF cookie.
func (g *Guard) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
