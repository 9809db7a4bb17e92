// Package memory is an in-process ratelimit.Store. Counters are local to
// one instance and lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/portalguard/ratelimit"
)

// Store keeps fixed-window counters in a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	entries map[string]*ratelimit.Entry
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*ratelimit.Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Check(_ context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	if limit <= 0 || window <= 0 {
		return ratelimit.Decision{}, fmt.Errorf("%w: limit=%d window=%s", ratelimit.ErrInvalidLimit, limit, window)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.ResetAt) {
		e = &ratelimit.Entry{Count: 1, ResetAt: now.Add(window)}
		s.entries[key] = e
		return ratelimit.NewDecision(true, *e, limit), nil
	}
	if e.Count >= limit {
		return ratelimit.NewDecision(false, *e, limit), nil
	}
	e.Count++
	return ratelimit.NewDecision(true, *e, limit), nil
}

// Sweep drops entries whose window has elapsed and returns how many were
// removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.ResetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Start runs Sweep every interval until ctx is cancelled.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Len reports the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
