// Package session resolves the caller's identity and enforces role-based
// access to protected routes.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("session: unauthenticated")
	ErrForbidden       = errors.New("session: role not permitted")
	ErrInvalidToken    = errors.New("session: invalid token")
	ErrInvalidClaim    = errors.New("session: invalid claim")
)

// Claim identifies an authenticated caller. Role never changes for the
// lifetime of a session.
type Claim struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

// Validate rejects claims without a user or with a role outside the set.
func (c Claim) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidClaim)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidClaim, c.Role)
	}
	return nil
}

// Provider looks up the session attached to a request. It returns nil, nil
// for an anonymous caller.
type Provider interface {
	CurrentSession(ctx context.Context, r *http.Request) (*Claim, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, r *http.Request) (*Claim, error)

func (f ProviderFunc) CurrentSession(ctx context.Context, r *http.Request) (*Claim, error) {
	return f(ctx, r)
}

type contextKey int

const claimKey contextKey = iota

// WithClaim returns a context carrying c.
func WithClaim(ctx context.Context, c Claim) context.Context {
	return context.WithValue(ctx, claimKey, c)
}

// ClaimFromContext returns the claim stored by the gate middleware.
func ClaimFromContext(ctx context.Context) (Claim, bool) {
	c, ok := ctx.Value(claimKey).(Claim)
	return c, ok
}
