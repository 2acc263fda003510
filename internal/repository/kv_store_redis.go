package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"emojipapertrail/relay/pkg/retry"
)

// RedisRetryPolicy is the default policy for the Redis store: three attempts
// with exponential backoff on transient connection, timeout and loading errors.
func RedisRetryPolicy() retry.Policy {
	return retry.Exponential(3, IsTransientRedisError)
}

type redisKVStore struct {
	client *redis.Client
	retry  retry.Policy
}

// NewRedisKVStore wraps client. The client's own retries should be disabled
// (MaxRetries: -1) so that policy is the only retry layer.
func NewRedisKVStore(client *redis.Client, policy retry.Policy) KVStore {
	return &redisKVStore{client: client, retry: policy}
}

func (s *redisKVStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.retry.Do(ctx, fn)
	if err == nil {
		return nil
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: redis %s: %w", ErrBackendUnavailable, op, err)
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) && strings.HasPrefix(redisErr.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: redis %s: %w", ErrWrongType, op, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

func (s *redisKVStore) SetAndGetPrevious(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	var (
		prev  string
		found bool
	)
	err := s.do(ctx, "set-get", func(ctx context.Context) error {
		val, err := s.client.SetArgs(ctx, key, value, redis.SetArgs{TTL: ttl, Get: true}).Result()
		if errors.Is(err, redis.Nil) {
			prev, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		prev, found = val, true
		return nil
	})
	return prev, found, err
}

func (s *redisKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.do(ctx, "set", func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *redisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := s.do(ctx, "get", func(ctx context.Context) error {
		v, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			val, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	return val, found, err
}

func (s *redisKVStore) Delete(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.do(ctx, "del", func(ctx context.Context) error {
		var err error
		n, err = s.client.Del(ctx, key).Result()
		return err
	})
	return n, err
}

func (s *redisKVStore) HSet(ctx context.Context, key, field, value string) error {
	return s.do(ctx, "hset", func(ctx context.Context) error {
		return s.client.HSet(ctx, key, field, value).Err()
	})
}

func (s *redisKVStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := s.do(ctx, "hget", func(ctx context.Context) error {
		v, err := s.client.HGet(ctx, key, field).Result()
		if errors.Is(err, redis.Nil) {
			val, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	return val, found, err
}

func (s *redisKVStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, "hgetall", func(ctx context.Context) error {
		var err error
		out, err = s.client.HGetAll(ctx, key).Result()
		return err
	})
	return out, err
}

func (s *redisKVStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

func (s *redisKVStore) Close() error {
	return s.client.Close()
}

// IsTransientRedisError reports whether err is worth retrying: broken or
// refused connections, timeouts, and servers that are still loading their dataset.
func IsTransientRedisError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, redis.ErrPoolTimeout) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, prefix := range []string{"LOADING", "BUSY", "TRYAGAIN", "MASTERDOWN"} {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
	}
	return false
}
