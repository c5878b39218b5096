package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/ratelimit"
)

func TestMemoryAllowsUpToLimit(t *testing.T) {
	m := ratelimit.NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := m.Allow(ctx, "k1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := m.Allow(ctx, "k1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestMemoryResetsAfterWindow(t *testing.T) {
	m := ratelimit.NewMemory()
	ctx := context.Background()

	d, err := m.Allow(ctx, "k2", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	time.Sleep(20 * time.Millisecond)

	d, err = m.Allow(ctx, "k2", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "window should have reset")
}

func TestMemoryTracksKeysIndependently(t *testing.T) {
	m := ratelimit.NewMemory()
	ctx := context.Background()

	d1, err := m.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := m.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
}

func TestMemoryIsSafeForConcurrentUse(t *testing.T) {
	m := ratelimit.NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Allow(ctx, "concurrent", 1000, time.Minute)
		}()
	}
	wg.Wait()
}

type fakeSecondaryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeSecondaryStore) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestSecondaryAllowsUpToLimit(t *testing.T) {
	s := ratelimit.NewSecondary(&fakeSecondaryStore{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := s.Allow(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := s.Allow(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestHeadersOmitsRetryAfterWhenAllowed(t *testing.T) {
	h := ratelimit.Headers(ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 4})
	assert.Equal(t, "10", h["X-RateLimit-Limit"])
	assert.Equal(t, "4", h["X-RateLimit-Remaining"])
	_, ok := h["Retry-After"]
	assert.False(t, ok)
}

func TestHeadersIncludesRetryAfterWhenDenied(t *testing.T) {
	h := ratelimit.Headers(ratelimit.Decision{Allowed: false, Limit: 10, Remaining: 0, RetryAfter: 30 * time.Second})
	assert.Equal(t, "30", h["Retry-After"])
}
