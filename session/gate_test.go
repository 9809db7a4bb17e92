package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/portalguard/internal/audit"
)

func staticProvider(c *Claim, err error) Provider {
	return ProviderFunc(func(context.Context, *http.Request) (*Claim, error) {
		return c, err
	})
}

func TestRequireSession(t *testing.T) {
	ctx := context.Background()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	t.Run("Authenticated", func(t *testing.T) {
		want := Claim{UserID: "u", Role: RoleClient}
		g := NewGate(staticProvider(&want, nil))
		got, err := g.RequireSession(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("Anonymous", func(t *testing.T) {
		_, err := NewGate(staticProvider(nil, nil)).RequireSession(ctx, r)
		assert.True(t, errors.Is(err, ErrUnauthenticated))
	})

	t.Run("ProviderError", func(t *testing.T) {
		_, err := NewGate(staticProvider(nil, errors.New("idp down"))).RequireSession(ctx, r)
		assert.True(t, errors.Is(err, ErrUnauthenticated))
	})

	t.Run("RoleOutsideSet", func(t *testing.T) {
		_, err := NewGate(staticProvider(&Claim{UserID: "u", Role: "owner"}, nil)).RequireSession(ctx, r)
		assert.True(t, errors.Is(err, ErrUnauthenticated))
		assert.True(t, errors.Is(err, ErrInvalidClaim))
	})

	t.Run("Timeout", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		slow := ProviderFunc(func(context.Context, *http.Request) (*Claim, error) {
			<-block
			return &Claim{UserID: "u", Role: RoleClient}, nil
		})
		g := NewGate(slow, WithProviderTimeout(20*time.Millisecond))

		start := time.Now()
		_, err := g.RequireSession(ctx, r)
		assert.True(t, errors.Is(err, ErrUnauthenticated))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestRequireRole(t *testing.T) {
	ctx := context.Background()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	g := NewGate(staticProvider(&Claim{UserID: "u", Role: RoleCandidate}, nil))

	_, err := g.RequireRole(ctx, r, RoleRecruiter, RoleSuperAdmin)
	assert.True(t, errors.Is(err, ErrForbidden))

	c, err := g.RequireRole(ctx, r, RoleCandidate)
	require.NoError(t, err)
	assert.Equal(t, RoleCandidate, c.Role)

	_, err = g.RequireRole(ctx, r)
	assert.ErrorIs(t, err, ErrForbidden, "an empty role set admits nobody")

	_, err = g.RequireRole(ctx, r, []Role{}...)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMiddleware(t *testing.T) {
	var seen Claim
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimFromContext(r.Context())
		if ok {
			seen = c
		}
		w.WriteHeader(http.StatusOK)
	})

	serve := func(g *Gate, mode Mode, roles ...Role) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		g.Middleware(mode, roles...)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recruiter/reports", nil))
		return rec
	}

	candidate := NewGate(staticProvider(&Claim{UserID: "c1", Role: RoleCandidate}, nil))
	anonymous := NewGate(staticProvider(nil, nil))

	t.Run("Allowed", func(t *testing.T) {
		rec := serve(candidate, ModeAPI, RoleCandidate)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "c1", seen.UserID)
	})

	t.Run("NoRolesAdmitsAnySession", func(t *testing.T) {
		seen = Claim{}
		rec := serve(candidate, ModeAPI)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "c1", seen.UserID)
	})

	t.Run("APIUnauthenticated", func(t *testing.T) {
		rec := serve(anonymous, ModeAPI)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "Unauthorized", body["error"])
	})

	t.Run("APIForbidden", func(t *testing.T) {
		rec := serve(candidate, ModeAPI, RoleRecruiter)
		require.Equal(t, http.StatusForbidden, rec.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "Forbidden", body["error"])
	})

	t.Run("PageUnauthenticated", func(t *testing.T) {
		rec := serve(anonymous, ModePage, RoleRecruiter)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("PageForbiddenGoesToLanding", func(t *testing.T) {
		rec := serve(candidate, ModePage, RoleRecruiter)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/candidate", rec.Header().Get("Location"))
	})
}

func TestMiddlewareAudit(t *testing.T) {
	var buf bytes.Buffer
	a := audit.New(slog.New(slog.NewJSONHandler(&buf, nil)))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	g := NewGate(staticProvider(nil, nil), WithAuditLogger(a))
	g.Middleware(ModeAPI)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, buf.String(), `"event":"unauthenticated"`)
	assert.Contains(t, buf.String(), `"reason":"no_session"`)

	buf.Reset()
	g = NewGate(staticProvider(&Claim{UserID: "c1", Role: RoleClient}, nil), WithAuditLogger(a))
	g.Middleware(ModeAPI, RoleSuperAdmin)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, buf.String(), `"event":"forbidden"`)
	assert.Contains(t, buf.String(), `"role":"client"`)
}

func TestClaimContext(t *testing.T) {
	_, ok := ClaimFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaim(context.Background(), Claim{UserID: "u", Role: RoleClient})
	c, ok := ClaimFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", c.UserID)
}
