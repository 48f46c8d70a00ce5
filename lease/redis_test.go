package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_AcquireMutualExclusion(t *testing.T) {
	c, _, _ := testutil.SetupRedisCache(t)
	m := NewManager(c, time.Minute, nop())
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		var wins int32
		var token atomic.Value
		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, ok, err := m.Acquire(ctx, 42)
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
					token.Store(tok)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins, "round %d", round)

		released, err := m.Release(ctx, 42, token.Load().(string))
		require.NoError(t, err)
		require.True(t, released)
	}
}

func TestRedis_ExpiredLeaseIsReclaimable(t *testing.T) {
	c, _, mr := testutil.SetupRedisCache(t)
	m := NewManager(c, time.Minute, nop())
	ctx := context.Background()

	first, ok, err := m.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	renewed, err := m.Renew(ctx, 1, first)
	require.NoError(t, err)
	assert.True(t, renewed)

	mr.FastForward(2 * time.Minute)

	second, ok, err := m.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	renewed, err = m.Renew(ctx, 1, first)
	require.NoError(t, err)
	assert.False(t, renewed, "the old holder lost the lease")
	released, _ := m.Release(ctx, 1, first)
	assert.False(t, released)

	valid, _ := m.Validate(ctx, 1, second)
	assert.True(t, valid)
	rem, err := m.Remaining(ctx, 1)
	require.NoError(t, err)
	assert.Greater(t, rem, time.Duration(0))
}

func TestRedis_WithLockAndNamedLocks(t *testing.T) {
	c, _, _ := testutil.SetupRedisCache(t)
	m := NewManager(c, time.Minute, nop())
	ctx := context.Background()

	err := m.WithLock(ctx, 9, func(ctx context.Context, token string) error {
		assert.ErrorIs(t, m.WithLock(ctx, 9, func(context.Context, string) error { return nil }), ErrLocked)
		valid, _ := m.Validate(ctx, 9, token)
		assert.True(t, valid)
		return nil
	})
	require.NoError(t, err)
	online, _ := m.Exists(ctx, 9)
	assert.False(t, online)

	tok, ok, err := m.AcquireNamed(ctx, RegLock)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ErrorIs(t, m.WithNamedLock(ctx, RegLock, func(context.Context) error { return nil }), ErrLocked)
	released, _ := m.ReleaseNamed(ctx, RegLock, tok)
	assert.True(t, released)
}
