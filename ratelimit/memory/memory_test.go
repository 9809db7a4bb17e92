package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/portalguard/ratelimit"
	"github.com/jmcleod/portalguard/ratelimit/ratelimittest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestConformance(t *testing.T) {
	ratelimittest.Run(t, func(t *testing.T) (ratelimit.Store, func(time.Duration)) {
		clock := newClock()
		return New(WithClock(clock.Now)), clock.Advance
	})
}

func TestResetAt(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))

	d, err := s.Check(context.Background(), "k", 2, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), d.ResetAt)

	clock.Advance(time.Minute)
	d, err = s.Check(context.Background(), "k", 2, 15*time.Minute)
	require.NoError(t, err)
	// The window is fixed from the first hit.
	assert.Equal(t, clock.Now().Add(14*time.Minute), d.ResetAt)
}

func TestSweep(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = s.Check(ctx, "short", 1, time.Minute)
	_, _ = s.Check(ctx, "long", 1, time.Hour)
	require.Equal(t, 2, s.Len())

	assert.Equal(t, 0, s.Sweep())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestStartSweepsInBackground(t *testing.T) {
	clock := newClock()
	s := New(WithClock(clock.Now))
	_, _ = s.Check(context.Background(), "k", 1, time.Minute)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}
