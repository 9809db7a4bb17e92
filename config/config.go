// Package config loads server settings from PORTALGUARD_* environment
// variables and validates them before startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/portalguard/internal/util"
)

const EnvPrefix = "PORTALGUARD_"

// Environment names.
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageBBolt    = "bbolt"
	StoragePostgres = "postgres"
)

// DevAuthSecret signs session tokens outside production when no secret is
// configured. Tokens minted with it are worthless anywhere else.
const DevAuthSecret = "portalguard-development-auth-secret-do-not-use"

// MinAuthSecretLength applies in production.
const MinAuthSecretLength = 32

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Environment      string
	ListenAddr       string
	EncryptionKeyHex string
	AuthSecret       string
	AllowedOrigin    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTimeout  time.Duration

	StorageBackend string
	DataDir        string
	PostgresDSN    string

	TrustedProxies []netip.Prefix

	TLSCert string
	TLSKey  string
}

// Defaults returns development settings.
func Defaults() Config {
	return Config{
		Environment:    Development,
		ListenAddr:     ":8443",
		StoreTimeout:   250 * time.Millisecond,
		StorageBackend: StorageBBolt,
		DataDir:        "./data",
	}
}

// Load overlays PORTALGUARD_* variables read through getenv onto Defaults.
// It reports malformed values but does not validate the result.
func Load(getenv func(string) string) (Config, error) {
	c := Defaults()
	env := func(name string) string {
		return strings.TrimSpace(getenv(EnvPrefix + name))
	}
	setString := func(dst *string, name string) {
		if v := env(name); v != "" {
			*dst = v
		}
	}

	setString(&c.Environment, "ENV")
	c.Environment = strings.ToLower(c.Environment)
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.EncryptionKeyHex, "ENCRYPTION_KEY")
	setString(&c.AuthSecret, "AUTH_SECRET")
	setString(&c.AllowedOrigin, "ALLOWED_ORIGIN")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.StorageBackend, "STORAGE")
	c.StorageBackend = strings.ToLower(c.StorageBackend)
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.PostgresDSN, "POSTGRES_DSN")
	setString(&c.TLSCert, "TLS_CERT")
	setString(&c.TLSKey, "TLS_KEY")

	var errs []error
	if v := env("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			errs = append(errs, fmt.Errorf("%sREDIS_DB: %q is not a database number", EnvPrefix, v))
		} else {
			c.RedisDB = db
		}
	}
	if v := env("STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%sSTORE_TIMEOUT: %q is not a positive duration", EnvPrefix, v))
		} else {
			c.StoreTimeout = d
		}
	}
	if v := env("TRUSTED_PROXIES"); v != "" {
		prefixes, err := ParsePrefixes(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRUSTED_PROXIES: %w", EnvPrefix, err))
		} else {
			c.TrustedProxies = prefixes
		}
	}

	if len(errs) > 0 {
		return c, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return c, nil
}

// ParsePrefixes parses a comma-separated list of CIDRs or bare addresses.
func ParsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("%q is not an address or CIDR", part)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not an address or CIDR", part)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func (c Config) IsProduction() bool {
	return c.Environment == Production
}

// Validate checks the settings the server cannot run without. Outside
// production an empty auth secret is tolerated (see SessionSecret).
func (c Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Production, Test:
	default:
		errs = append(errs, fmt.Errorf("environment %q must be one of development, production, test", c.Environment))
	}

	if _, err := c.EncryptionKey(); err != nil {
		errs = append(errs, err)
	}

	switch c.StorageBackend {
	case StorageMemory, StorageBBolt:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage backend %q must be one of memory, bbolt, postgres", c.StorageBackend))
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("TLS certificate and key must be set together"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.AllowedOrigin != "" {
		if err := validateOrigin(c.AllowedOrigin); err != nil {
			errs = append(errs, err)
		}
	}

	if c.IsProduction() {
		errs = append(errs, c.validateProduction()...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c Config) validateProduction() []error {
	var errs []error
	if c.AuthSecret == "" {
		errs = append(errs, errors.New("production requires an auth secret"))
	} else if len(c.AuthSecret) < MinAuthSecretLength {
		errs = append(errs, fmt.Errorf("production auth secret must be at least %d characters", MinAuthSecretLength))
	}
	if c.AuthSecret == DevAuthSecret {
		errs = append(errs, errors.New("production must not use the development auth secret"))
	}

	if c.AllowedOrigin == "" {
		errs = append(errs, errors.New("production requires an allowed origin"))
	} else {
		lower := strings.ToLower(c.AllowedOrigin)
		if !strings.HasPrefix(lower, "https://") {
			errs = append(errs, fmt.Errorf("production allowed origin %q must use https", c.AllowedOrigin))
		}
		if u, err := url.Parse(lower); err == nil {
			switch u.Hostname() {
			case "localhost", "127.0.0.1", "::1":
				errs = append(errs, fmt.Errorf("production forbids localhost origin %q", c.AllowedOrigin))
			}
		}
	}

	if c.StorageBackend == StorageMemory {
		errs = append(errs, errors.New("production forbids in-memory access code storage"))
	}
	return errs
}

func validateOrigin(origin string) error {
	if origin == "*" {
		return errors.New("allowed origin must not be a wildcard")
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("allowed origin %q must be an absolute http(s) origin", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("allowed origin %q must not carry a path", origin)
	}
	return nil
}

// EncryptionKey decodes the 32-byte PII key.
func (c Config) EncryptionKey() ([]byte, error) {
	if c.EncryptionKeyHex == "" {
		return nil, fmt.Errorf("%sENCRYPTION_KEY is required", EnvPrefix)
	}
	key, err := util.HexDecodeExact(c.EncryptionKeyHex, util.AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("%sENCRYPTION_KEY must be %d hex characters", EnvPrefix, util.AESKeySize*2)
	}
	return key, nil
}

// UsingDevAuthSecret reports whether SessionSecret falls back to
// DevAuthSecret.
func (c Config) UsingDevAuthSecret() bool {
	return c.AuthSecret == "" && !c.IsProduction()
}

// SessionSecret returns the configured auth secret, or DevAuthSecret
// outside production.
func (c Config) SessionSecret() []byte {
	if c.UsingDevAuthSecret() {
		return []byte(DevAuthSecret)
	}
	return []byte(c.AuthSecret)
}

// LogValue implements slog.LogValuer with secrets redacted.
func (c Config) LogValue() slog.Value {
	proxies := make([]string, len(c.TrustedProxies))
	for i, p := range c.TrustedProxies {
		proxies[i] = p.String()
	}
	return slog.GroupValue(
		slog.String("environment", c.Environment),
		slog.String("listen_addr", c.ListenAddr),
		slog.String("allowed_origin", c.AllowedOrigin),
		slog.String("storage", c.StorageBackend),
		slog.String("data_dir", c.DataDir),
		slog.Bool("postgres_dsn_set", c.PostgresDSN != ""),
		slog.String("redis_addr", c.RedisAddr),
		slog.Int("redis_db", c.RedisDB),
		slog.Duration("store_timeout", c.StoreTimeout),
		slog.String("trusted_proxies", strings.Join(proxies, ",")),
		slog.Bool("tls_files", c.TLSCert != ""),
		slog.Bool("encryption_key_set", c.EncryptionKeyHex != ""),
		slog.Bool("auth_secret_set", c.AuthSecret != ""),
	)
}
