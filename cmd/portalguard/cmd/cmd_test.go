package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/portalguard/config"
	"github.com/jmcleod/portalguard/internal/util"
	"github.com/jmcleod/portalguard/session"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Environment = config.Test
	cfg.StorageBackend = config.StorageMemory
	cfg.EncryptionKeyHex = testKeyHex
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildApp_Memory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, testConfig(), discardLogger())
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(srv.URL + "/api/v1/csrf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

	// The dev secret is in effect, so a dev token is accepted.
	token, err := mintDevToken(testConfig(), "recruiter", "", "", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildApp_BBolt(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = config.StorageBBolt
	cfg.DataDir = t.TempDir()

	a, err := buildApp(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	a.Close()
}

func TestBuildApp_BadKey(t *testing.T) {
	cfg := testConfig()
	cfg.EncryptionKeyHex = "abcd"
	_, err := buildApp(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestBuildApp_UnreachableRedisIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	cfg.StoreTimeout = 50 * time.Millisecond

	var logs bytes.Buffer
	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewJSONHandler(&logs, nil)))
	require.NoError(t, err)
	defer a.Close()
	assert.Contains(t, logs.String(), "rate limit store unreachable")
}

func TestMintDevToken(t *testing.T) {
	cfg := testConfig()

	token, err := mintDevToken(cfg, " Super-Admin ", "u1", "a@example.com", time.Hour)
	require.NoError(t, err)
	p, err := session.NewJWTProvider(cfg.SessionSecret())
	require.NoError(t, err)
	c, err := p.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, session.RoleSuperAdmin, c.Role)
	assert.Equal(t, "u1", c.UserID)

	token, err = mintDevToken(cfg, "client", "", "", time.Hour)
	require.NoError(t, err)
	c, err = p.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-client", c.UserID)

	_, err = mintDevToken(cfg, "janitor", "", "", time.Hour)
	assert.Error(t, err)

	cfg.Environment = config.Production
	_, err = mintDevToken(cfg, "client", "", "", time.Hour)
	assert.ErrorIs(t, err, errTokenInProduction)
}

func TestApplyServerFlags(t *testing.T) {
	cfg := testConfig()
	cfg.ListenAddr = ":9000"
	f := serverCmd.Flags()
	require.NoError(t, f.Set("storage", "postgres"))
	require.NoError(t, f.Set("allowed-origin", "https://portal.example.com"))
	t.Cleanup(func() {
		f.Lookup("storage").Changed = false
		f.Lookup("allowed-origin").Changed = false
	})

	applyServerFlags(&cfg, f)
	assert.Equal(t, config.StoragePostgres, cfg.StorageBackend)
	assert.Equal(t, "https://portal.example.com", cfg.AllowedOrigin)
	assert.Equal(t, ":9000", cfg.ListenAddr, "unset flags keep the environment value")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = newLogger(&buf, "loud")
	assert.Error(t, err)
}

func TestLoadTLS_SelfSigned(t *testing.T) {
	tlsCfg, err := loadTLS(testConfig(), discardLogger())
	require.NoError(t, err)
	assert.Len(t, tlsCfg.Certificates, 1)
}

func TestKeygenCommand(t *testing.T) {
	var out bytes.Buffer
	keygenCmd.SetOut(&out)
	require.NoError(t, keygenCmd.RunE(keygenCmd, nil))
	key, err := util.HexDecodeExact(string(bytes.TrimSpace(out.Bytes())), util.AESKeySize)
	require.NoError(t, err)
	assert.Len(t, key, util.AESKeySize)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "portalguard dev\n", out.String())
}
