package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emojipapertrail/relay/internal/testutil"
	"emojipapertrail/relay/pkg/retry"
)

// kvHarness is a store plus a way to move its notion of time forward.
type kvHarness struct {
	store   KVStore
	advance func(time.Duration)
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Retryable:       IsTransientRedisError,
	}
}

func newMemoryHarness(t *testing.T) kvHarness {
	t.Helper()
	clock := testutil.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return kvHarness{
		store:   NewMemoryKVStore(WithClock(clock.Now)),
		advance: clock.Advance,
	}
}

func newRedisHarness(t *testing.T) (kvHarness, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewRedisKVStore(client, fastRetry())
	t.Cleanup(func() { store.Close() })
	return kvHarness{store: store, advance: mr.FastForward}, mr
}

func kvBackends() map[string]func(t *testing.T) kvHarness {
	return map[string]func(t *testing.T) kvHarness{
		"memory": newMemoryHarness,
		"redis": func(t *testing.T) kvHarness {
			h, _ := newRedisHarness(t)
			return h
		},
	}
}

func TestKVStoreContract(t *testing.T) {
	for name, newHarness := range kvBackends() {
		t.Run(name, func(t *testing.T) {
			runKVContract(t, newHarness)
		})
	}
}

func runKVContract(t *testing.T, newHarness func(t *testing.T) kvHarness) {
	ctx := context.Background()

	t.Run("swap returns previous value", func(t *testing.T) {
		h := newHarness(t)

		prev, found, err := h.store.SetAndGetPrevious(ctx, "k", "v1", time.Hour)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, prev)

		prev, found, err = h.store.SetAndGetPrevious(ctx, "k", "v2", time.Hour)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v1", prev)

		val, found, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v2", val)
	})

	t.Run("swap treats expired value as absent", func(t *testing.T) {
		h := newHarness(t)

		_, _, err := h.store.SetAndGetPrevious(ctx, "k", "v1", time.Minute)
		require.NoError(t, err)
		h.advance(2 * time.Minute)

		prev, found, err := h.store.SetAndGetPrevious(ctx, "k", "v2", time.Minute)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, prev)
	})

	t.Run("swap refreshes ttl", func(t *testing.T) {
		h := newHarness(t)

		_, _, err := h.store.SetAndGetPrevious(ctx, "k", "v1", time.Minute)
		require.NoError(t, err)
		h.advance(50 * time.Second)
		_, _, err = h.store.SetAndGetPrevious(ctx, "k", "v1", time.Minute)
		require.NoError(t, err)
		h.advance(50 * time.Second)

		prev, found, err := h.store.SetAndGetPrevious(ctx, "k", "v1", time.Minute)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v1", prev)
	})

	t.Run("set and get", func(t *testing.T) {
		h := newHarness(t)

		_, found, err := h.store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, h.store.Set(ctx, "forever", "a", 0))
		require.NoError(t, h.store.Set(ctx, "short", "b", time.Second))
		h.advance(time.Hour)

		val, found, err := h.store.Get(ctx, "forever")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "a", val)

		_, found, err = h.store.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete counts live records only", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.store.Set(ctx, "k", "v", 0))
		n, err := h.store.Delete(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = h.store.Delete(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = h.store.Delete(ctx, "never-set")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		require.NoError(t, h.store.Set(ctx, "expiring", "v", time.Second))
		h.advance(time.Minute)
		n, err = h.store.Delete(ctx, "expiring")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("hash fields", func(t *testing.T) {
		h := newHarness(t)

		all, err := h.store.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Empty(t, all)

		require.NoError(t, h.store.HSet(ctx, "h", "f1", "a"))
		require.NoError(t, h.store.HSet(ctx, "h", "f2", "b"))
		require.NoError(t, h.store.HSet(ctx, "h", "f1", "c"))

		val, found, err := h.store.HGet(ctx, "h", "f1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "c", val)

		_, found, err = h.store.HGet(ctx, "h", "nope")
		require.NoError(t, err)
		assert.False(t, found)

		all, err = h.store.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"f1": "c", "f2": "b"}, all)
	})

	t.Run("hash on a string key is rejected", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.store.Set(ctx, "k", "v", 0))
		err := h.store.HSet(ctx, "k", "f", "x")
		assert.ErrorIs(t, err, ErrWrongType)
		assert.NotErrorIs(t, err, ErrBackendUnavailable)

		val, found, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", val)

		require.NoError(t, h.store.Set(ctx, "short", "v", time.Second))
		h.advance(time.Minute)
		assert.NoError(t, h.store.HSet(ctx, "short", "f", "x"), "an expired string no longer owns the key")
	})

	t.Run("swap on a hash key is rejected", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.store.HSet(ctx, "h", "f", "x"))
		_, _, err := h.store.SetAndGetPrevious(ctx, "h", "v", time.Hour)
		assert.ErrorIs(t, err, ErrWrongType)

		all, err := h.store.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"f": "x"}, all)
	})

	t.Run("set replaces a hash", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.store.HSet(ctx, "k", "f", "x"))
		require.NoError(t, h.store.Set(ctx, "k", "v", 0))

		_, err := h.store.HGetAll(ctx, "k")
		assert.ErrorIs(t, err, ErrWrongType)
		_, _, err = h.store.HGet(ctx, "k", "f")
		assert.ErrorIs(t, err, ErrWrongType)

		n, err := h.store.Delete(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := h.store.HGetAll(ctx, "k")
		require.NoError(t, err)
		assert.Empty(t, all, "the replaced hash does not reappear")

		require.NoError(t, h.store.HSet(ctx, "hash-only", "f", "x"))
		n, err = h.store.Delete(ctx, "hash-only")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent swaps see exactly one first writer", func(t *testing.T) {
		h := newHarness(t)

		const workers = 32
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			misses int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				prev, _, err := h.store.SetAndGetPrevious(ctx, "race", "token", time.Hour)
				assert.NoError(t, err)
				if prev != "token" {
					mu.Lock()
					misses++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, misses)
	})

	t.Run("ping", func(t *testing.T) {
		h := newHarness(t)
		assert.NoError(t, h.store.Ping(ctx))
	})

	t.Run("keys are independent", func(t *testing.T) {
		h := newHarness(t)
		for i := 0; i < 5; i++ {
			_, found, err := h.store.SetAndGetPrevious(ctx, fmt.Sprintf("k%d", i), "v", time.Hour)
			require.NoError(t, err)
			assert.False(t, found)
		}
	})
}
