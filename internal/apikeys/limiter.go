package apikeys

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter applies a fixed-window limit per key. Each window opens at the
// key's first hit and lasts the configured size.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type window struct {
	start time.Time
	count int
}

// MemoryLimiter keeps per-key windows in process. Expired windows are swept
// opportunistically and by Sweep.
type MemoryLimiter struct {
	limit     int
	size      time.Duration
	now       func() time.Time
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func NewMemoryLimiter(limit int, size time.Duration, now func() time.Time) (*MemoryLimiter, error) {
	if limit <= 0 || size <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{limit: limit, size: size, now: now, windows: map[string]*window{}}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.size {
		l.sweepLocked(now)
	}
	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.size)) {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return decide(l.limit, w.count, w.start.Add(l.size)), nil
}

// Sweep drops expired windows and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

// Len reports the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.start.Add(l.size)) {
			delete(l.windows, key)
			removed++
		}
	}
	l.lastSweep = now
	return removed
}

// windowCounter is the shared counter surface of pkg/redis.
type windowCounter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration, now time.Time) (bool, int64, time.Time, error)
}

// RedisLimiter shares fixed-window counters across API instances. The window
// opens when the first instance counts a hit for the key.
type RedisLimiter struct {
	store windowCounter
	limit int
	size  time.Duration
	now   func() time.Time
}

func NewRedisLimiter(store windowCounter, limit int, size time.Duration, now func() time.Time) (*RedisLimiter, error) {
	if store == nil {
		return nil, errors.New("redis store required")
	}
	if limit <= 0 || size <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{store: store, limit: limit, size: size, now: now}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	_, count, resetAt, err := l.store.FixedWindowAllow(ctx, key, int64(l.limit), l.size, l.now())
	if err != nil {
		return Decision{}, err
	}
	return decide(l.limit, int(count), resetAt), nil
}

func decide(limit, count int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
