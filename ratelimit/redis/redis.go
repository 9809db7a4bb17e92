// Package redis is a ratelimit.Store shared across instances through Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/portalguard/ratelimit"
)

// DefaultPrefix namespaces limiter keys.
const DefaultPrefix = "rl:"

// checkScript runs the whole fixed-window check server side. A key without
// a TTL (or with a non-numeric value) is treated as a fresh window.
// Returns {allowed, count, pttl}.
var checkScript = goredis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call("GET", KEYS[1]))
local ttl = redis.call("PTTL", KEYS[1])
if not count or ttl < 0 then
  redis.call("SET", KEYS[1], 1, "PX", window)
  return {1, 1, window}
end
if count >= limit then
  return {0, count, ttl}
end
count = redis.call("INCR", KEYS[1])
return {1, count, ttl}
`)

// Store keeps counters in Redis.
type Store struct {
	client  goredis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTimeout bounds each script call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: ratelimit.DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Check(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	if limit <= 0 || window <= 0 {
		return ratelimit.Decision{}, fmt.Errorf("%w: limit=%d window=%s", ratelimit.ErrInvalidLimit, limit, window)
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := checkScript.Run(ctx, s.client, []string{s.prefix + key}, limit, windowMs).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("%w: unexpected script reply %v", ratelimit.ErrStoreUnavailable, res)
	}

	entry := ratelimit.Entry{
		Count:   int(res[1]),
		ResetAt: s.now().Add(time.Duration(res[2]) * time.Millisecond),
	}
	return ratelimit.NewDecision(res[0] == 1, entry, limit), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}
	return nil
}
