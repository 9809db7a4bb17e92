package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/portalguard/internal/util"
)

const (
	CookieName    = "portalguard_session"
	DefaultIssuer = "portalguard"
)

var signingKeyInfo = []byte("portalguard session signing v1")

var ErrMissingSecret = errors.New("session: auth secret is required")

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// JWTProvider reads HS256 session tokens from the session cookie or an
// Authorization bearer header. The signing key is derived from the auth
// secret, never the secret itself.
type JWTProvider struct {
	key    []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// JWTOption configures a JWTProvider.
type JWTOption func(*JWTProvider)

func WithIssuer(issuer string) JWTOption {
	return func(p *JWTProvider) { p.issuer = issuer }
}

func WithLeeway(d time.Duration) JWTOption {
	return func(p *JWTProvider) { p.leeway = d }
}

func WithJWTClock(now func() time.Time) JWTOption {
	return func(p *JWTProvider) { p.now = now }
}

func NewJWTProvider(authSecret []byte, opts ...JWTOption) (*JWTProvider, error) {
	if len(authSecret) == 0 {
		return nil, ErrMissingSecret
	}
	key, err := util.HKDF(authSecret, nil, signingKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving session signing key: %w", err)
	}
	p := &JWTProvider{
		key:    key,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Mint signs a token for c valid for ttl.
func (p *JWTProvider) Mint(c Claim, ttl time.Duration) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("session: ttl must be positive")
	}
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: c.Email,
		Role:  string(c.Role),
	})
	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claim. Any failure wraps
// ErrInvalidToken.
func (p *JWTProvider) Parse(tokenStr string) (*Claim, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(p.leeway),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role", ErrInvalidToken)
	}
	c := &Claim{UserID: claims.Subject, Email: claims.Email, Role: role}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

// CurrentSession returns nil, nil when the request carries no token.
func (p *JWTProvider) CurrentSession(_ context.Context, r *http.Request) (*Claim, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	return p.Parse(token)
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// WriteCookie sets the session cookie.
func WriteCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
