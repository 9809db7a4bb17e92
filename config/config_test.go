package config

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validProduction() Config {
	c := Defaults()
	c.Environment = Production
	c.EncryptionKeyHex = testKeyHex
	c.AuthSecret = strings.Repeat("s", MinAuthSecretLength)
	c.AllowedOrigin = "https://portal.example.com"
	return c
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
	assert.Equal(t, Development, c.Environment)
	assert.Equal(t, ":8443", c.ListenAddr)
	assert.Equal(t, 250*time.Millisecond, c.StoreTimeout)
	assert.Equal(t, StorageBBolt, c.StorageBackend)
}

func TestLoadOverlay(t *testing.T) {
	c, err := Load(envMap(map[string]string{
		"PORTALGUARD_ENV":             "Production",
		"PORTALGUARD_LISTEN_ADDR":     ":9000",
		"PORTALGUARD_ENCRYPTION_KEY":  " " + testKeyHex + "\n",
		"PORTALGUARD_AUTH_SECRET":     "secret",
		"PORTALGUARD_ALLOWED_ORIGIN":  "https://portal.example.com",
		"PORTALGUARD_REDIS_ADDR":      "redis:6379",
		"PORTALGUARD_REDIS_PASSWORD":  "pw",
		"PORTALGUARD_REDIS_DB":        "3",
		"PORTALGUARD_STORE_TIMEOUT":   "100ms",
		"PORTALGUARD_STORAGE":         "POSTGRES",
		"PORTALGUARD_POSTGRES_DSN":    "postgres://localhost/portal",
		"PORTALGUARD_TRUSTED_PROXIES": "10.0.0.0/8, 192.168.1.7",
		"PORTALGUARD_DATA_DIR":        "/var/lib/portalguard",
	}))
	require.NoError(t, err)
	assert.Equal(t, Production, c.Environment)
	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, testKeyHex, c.EncryptionKeyHex)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, 3, c.RedisDB)
	assert.Equal(t, 100*time.Millisecond, c.StoreTimeout)
	assert.Equal(t, StoragePostgres, c.StorageBackend)
	assert.Equal(t, "/var/lib/portalguard", c.DataDir)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
	}, c.TrustedProxies)
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(envMap(map[string]string{
		"PORTALGUARD_REDIS_DB":        "one",
		"PORTALGUARD_STORE_TIMEOUT":   "-1s",
		"PORTALGUARD_TRUSTED_PROXIES": "10.0.0.0/99",
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "REDIS_DB")
	assert.Contains(t, err.Error(), "STORE_TIMEOUT")
	assert.Contains(t, err.Error(), "TRUSTED_PROXIES")
}

func TestParsePrefixes(t *testing.T) {
	got, err := ParsePrefixes("10.1.2.3/8,,::1, fd00::/8")
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
		netip.MustParsePrefix("fd00::/8"),
	}, got)

	_, err = ParsePrefixes("nope")
	assert.Error(t, err)
}

func TestEncryptionKey(t *testing.T) {
	c := Defaults()
	_, err := c.EncryptionKey()
	assert.Error(t, err)

	c.EncryptionKeyHex = testKeyHex[:62]
	_, err = c.EncryptionKey()
	assert.Error(t, err)

	c.EncryptionKeyHex = strings.Repeat("zz", 32)
	_, err = c.EncryptionKey()
	assert.Error(t, err)

	c.EncryptionKeyHex = testKeyHex
	key, err := c.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Equal(t, byte(0x1f), key[31])
}

func TestValidateDevelopment(t *testing.T) {
	c := Defaults()
	c.EncryptionKeyHex = testKeyHex
	require.NoError(t, c.Validate())
	assert.True(t, c.UsingDevAuthSecret())
	assert.Equal(t, []byte(DevAuthSecret), c.SessionSecret())

	c.AuthSecret = "mine"
	assert.False(t, c.UsingDevAuthSecret())
	assert.Equal(t, []byte("mine"), c.SessionSecret())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) { c.EncryptionKeyHex = "" }, "ENCRYPTION_KEY"},
		{"short key", func(c *Config) { c.EncryptionKeyHex = "abcd" }, "ENCRYPTION_KEY"},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, "environment"},
		{"unknown storage", func(c *Config) { c.StorageBackend = "sqlite" }, "storage backend"},
		{"postgres without dsn", func(c *Config) { c.StorageBackend = StoragePostgres }, "DSN"},
		{"half tls", func(c *Config) { c.TLSCert = "cert.pem" }, "TLS"},
		{"wildcard origin", func(c *Config) { c.AllowedOrigin = "*" }, "wildcard"},
		{"origin with path", func(c *Config) { c.AllowedOrigin = "https://a.example.com/app" }, "path"},
		{"prod without secret", func(c *Config) { c.AuthSecret = "" }, "auth secret"},
		{"prod short secret", func(c *Config) { c.AuthSecret = "short" }, "at least"},
		{"prod dev secret", func(c *Config) { c.AuthSecret = DevAuthSecret }, "development auth secret"},
		{"prod http origin", func(c *Config) { c.AllowedOrigin = "http://portal.example.com" }, "https"},
		{"prod localhost origin", func(c *Config) { c.AllowedOrigin = "https://localhost:3000" }, "localhost"},
		{"prod missing origin", func(c *Config) { c.AllowedOrigin = "" }, "allowed origin"},
		{"prod memory storage", func(c *Config) { c.StorageBackend = StorageMemory }, "in-memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validProduction()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateProduction(t *testing.T) {
	c := validProduction()
	require.NoError(t, c.Validate())
	assert.False(t, c.UsingDevAuthSecret())
}

func TestLogValueRedactsSecrets(t *testing.T) {
	c := validProduction()
	c.RedisPassword = "redis-pw"
	c.PostgresDSN = "postgres://user:pg-pw@db/portal"

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", "config", c)
	out := buf.String()
	assert.NotContains(t, out, testKeyHex)
	assert.NotContains(t, out, c.AuthSecret)
	assert.NotContains(t, out, "redis-pw")
	assert.NotContains(t, out, "pg-pw")
	assert.Contains(t, out, `"environment":"production"`)
}
