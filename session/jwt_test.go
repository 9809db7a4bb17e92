package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-auth-secret-0123456789abcdef")

func newTestProvider(t *testing.T, opts ...JWTOption) *JWTProvider {
	t.Helper()
	p, err := NewJWTProvider(testSecret, opts...)
	require.NoError(t, err)
	return p
}

func TestNewJWTProviderRequiresSecret(t *testing.T) {
	_, err := NewJWTProvider(nil)
	assert.True(t, errors.Is(err, ErrMissingSecret))
}

func TestMintParseRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	want := Claim{UserID: "user-1", Email: "r@example.com", Role: RoleRecruiter}

	token, err := p.Mint(want, time.Hour)
	require.NoError(t, err)

	got, err := p.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestMintRejectsInvalidClaim(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Mint(Claim{UserID: "u", Role: "owner"}, time.Hour)
	assert.True(t, errors.Is(err, ErrInvalidClaim))
	_, err = p.Mint(Claim{Role: RoleClient}, time.Hour)
	assert.True(t, errors.Is(err, ErrInvalidClaim))
	_, err = p.Mint(Claim{UserID: "u", Role: RoleClient}, 0)
	assert.Error(t, err)
}

func TestSigningKeyIsDerived(t *testing.T) {
	p := newTestProvider(t)
	token, err := p.Mint(Claim{UserID: "u", Role: RoleClient}, time.Hour)
	require.NoError(t, err)

	// A verifier holding the raw secret must not accept the token.
	_, err = jwt.Parse(token, func(*jwt.Token) (any, error) { return testSecret, nil })
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := newTestProvider(t, WithJWTClock(clock))

	sign := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() tokenClaims {
		return tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    DefaultIssuer,
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Role: "client",
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"

	badRole := valid()
	badRole.Role = "owner"

	noSubject := valid()
	noSubject.Subject = ""

	other, err := NewJWTProvider([]byte("another-secret"))
	require.NoError(t, err)
	otherToken, err := other.Mint(Claim{UserID: "u", Role: RoleClient}, time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      sign(expired, jwt.SigningMethodHS256, p.key),
		"no expiry":    sign(noExpiry, jwt.SigningMethodHS256, p.key),
		"wrong issuer": sign(wrongIssuer, jwt.SigningMethodHS256, p.key),
		"bad role":     sign(badRole, jwt.SigningMethodHS256, p.key),
		"no subject":   sign(noSubject, jwt.SigningMethodHS256, p.key),
		"wrong alg":    sign(valid(), jwt.SigningMethodHS512, p.key),
		"none alg":     sign(valid(), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType),
		"other secret": otherToken,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse(token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}

	_, err = p.Parse(sign(valid(), jwt.SigningMethodHS256, p.key))
	assert.NoError(t, err)
}

func TestCurrentSession(t *testing.T) {
	p := newTestProvider(t)
	token, err := p.Mint(Claim{UserID: "u1", Role: RoleCandidate}, time.Hour)
	require.NoError(t, err)

	t.Run("Anonymous", func(t *testing.T) {
		c, err := p.CurrentSession(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("Cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		c, err := p.CurrentSession(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "u1", c.UserID)
	})

	t.Run("Bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		c, err := p.CurrentSession(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, RoleCandidate, c.Role)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer junk")
		_, err := p.CurrentSession(context.Background(), r)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})
}

func TestCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCookie(rec, "tok", time.Now().Add(time.Hour), true)
	ClearCookie(rec, true)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Empty(t, cookies[1].Value)
	assert.Equal(t, -1, cookies[1].MaxAge)
}
