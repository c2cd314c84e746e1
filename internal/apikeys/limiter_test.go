package apikeys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 10, 0, time.UTC)
	limiter, err := NewMemoryLimiter(2, time.Minute, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "cred-a")
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Limit: 2, Remaining: 1, ResetAt: time.Date(2026, 1, 2, 12, 1, 10, 0, time.UTC)}, first)

	second, _ := limiter.Allow(ctx, "cred-a")
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, _ := limiter.Allow(ctx, "cred-a")
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Equal(t, time.Minute, third.RetryAfter(now))

	other, _ := limiter.Allow(ctx, "cred-b")
	assert.True(t, other.Allowed, "keys are limited independently")

	now = now.Add(time.Minute)
	fresh, _ := limiter.Allow(ctx, "cred-a")
	assert.True(t, fresh.Allowed)
	assert.Equal(t, 1, fresh.Remaining)
}

func TestMemoryLimiterWindowOpensAtFirstHit(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 50, 0, time.UTC)
	limiter, err := NewMemoryLimiter(2, time.Minute, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "cred-a")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	now = time.Date(2026, 1, 2, 12, 1, 5, 0, time.UTC)
	d, err := limiter.Allow(ctx, "cred-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "a minute boundary does not grant a second burst")
	assert.Equal(t, 45*time.Second, d.RetryAfter(now))

	now = time.Date(2026, 1, 2, 12, 1, 50, 0, time.UTC)
	d, err = limiter.Allow(ctx, "cred-a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, time.Date(2026, 1, 2, 12, 2, 50, 0, time.UTC), d.ResetAt)
}

func TestMemoryLimiterSweepsExpiredWindows(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	limiter, err := NewMemoryLimiter(5, time.Minute, func() time.Time { return now })
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c"} {
		_, _ = limiter.Allow(context.Background(), key)
	}
	require.Equal(t, 3, limiter.Len())
	assert.Zero(t, limiter.Sweep())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 3, limiter.Sweep())
	assert.Zero(t, limiter.Len())

	_, _ = limiter.Allow(context.Background(), "a")
	now = now.Add(2 * time.Minute)
	_, _ = limiter.Allow(context.Background(), "b")
	assert.Equal(t, 1, limiter.Len(), "allow sweeps stale windows opportunistically")
}

type fakeWindowCounter struct {
	count   int64
	resetAt time.Time
	err     error
	scopes  []string
}

func (f *fakeWindowCounter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration, _ time.Time) (bool, int64, time.Time, error) {
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return false, 0, time.Time{}, f.err
	}
	f.count++
	return f.count <= limit, f.count, f.resetAt, nil
}

func TestRedisLimiterUsesSharedCounter(t *testing.T) {
	reset := time.Date(2026, 1, 2, 12, 1, 0, 0, time.UTC)
	store := &fakeWindowCounter{resetAt: reset}
	limiter, err := NewRedisLimiter(store, 1, time.Minute, nil)
	require.NoError(t, err)

	d, err := limiter.Allow(context.Background(), "cred-a")
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Limit: 1, Remaining: 0, ResetAt: reset}, d)

	d, err = limiter.Allow(context.Background(), "cred-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"cred-a", "cred-a"}, store.scopes)

	store.err = errors.New("redis down")
	_, err = limiter.Allow(context.Background(), "cred-a")
	require.Error(t, err)
}

func TestLimiterConstructorsValidate(t *testing.T) {
	_, err := NewMemoryLimiter(0, time.Minute, nil)
	require.Error(t, err)
	_, err = NewRedisLimiter(nil, 1, time.Minute, nil)
	require.Error(t, err)
	_, err = NewRedisLimiter(&fakeWindowCounter{}, 1, 0, nil)
	require.Error(t, err)
}
