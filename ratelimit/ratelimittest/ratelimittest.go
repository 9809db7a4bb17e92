// Package ratelimittest provides a conformance suite run against every
// ratelimit.Store implementation.
package ratelimittest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/portalguard/ratelimit"
)

// Factory returns a fresh store and a function that moves the store's clock
// forward.
type Factory func(t *testing.T) (store ratelimit.Store, advance func(time.Duration))

// Run exercises the fixed-window contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("FirstHitAllowed", func(t *testing.T) {
		s, _ := newStore(t)
		d, err := s.Check(ctx, "login:1.2.3.4", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Count)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4, d.Remaining)
		assert.False(t, d.ResetAt.IsZero())
	})

	t.Run("RefusesAtLimitWithoutIncrement", func(t *testing.T) {
		s, _ := newStore(t)
		for i := 1; i <= 3; i++ {
			d, err := s.Check(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			require.True(t, d.Allowed, "hit %d", i)
			assert.Equal(t, i, d.Count)
		}
		for range 3 {
			d, err := s.Check(ctx, "k", 3, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 3, d.Count)
			assert.Equal(t, 0, d.Remaining)
		}
	})

	t.Run("WindowResets", func(t *testing.T) {
		s, advance := newStore(t)
		_, err := s.Check(ctx, "k", 1, time.Minute)
		require.NoError(t, err)

		advance(59 * time.Second)
		d, err := s.Check(ctx, "k", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		advance(time.Second)
		d, err = s.Check(ctx, "k", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Count)
	})

	t.Run("KeysIndependent", func(t *testing.T) {
		s, _ := newStore(t)
		d, err := s.Check(ctx, "login:a", 1, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = s.Check(ctx, "login:b", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = s.Check(ctx, "csrf-issue:a", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Check(ctx, "k", 0, time.Minute)
		assert.True(t, errors.Is(err, ratelimit.ErrInvalidLimit))
		_, err = s.Check(ctx, "k", 1, 0)
		assert.True(t, errors.Is(err, ratelimit.ErrInvalidLimit))
	})

	t.Run("ConcurrentLimitOne", func(t *testing.T) {
		s, _ := newStore(t)
		var allowed atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				d, err := s.Check(ctx, "redeem:ip", 1, time.Minute)
				if err == nil && d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, int32(1), allowed.Load())
	})

	t.Run("ConcurrentManyCallers", func(t *testing.T) {
		s, _ := newStore(t)
		const callers, limit = 50, 10
		var allowed atomic.Int32
		var wg sync.WaitGroup
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := s.Check(ctx, "burst", limit, time.Minute)
				if err == nil && d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(limit), allowed.Load())

		d, err := s.Check(ctx, "burst", limit, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, limit, d.Count)
	})
}
