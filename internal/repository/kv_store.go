package repository

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned once transient backend failures have
// exhausted the retry budget. Callers must not treat it as "key absent".
var ErrBackendUnavailable = errors.New("key-value backend unavailable")

// ErrWrongType is returned when a key holding a hash is used as a string or
// the reverse, like Redis' WRONGTYPE. A plain Set replaces either kind.
var ErrWrongType = errors.New("key holds the wrong kind of value")

// KVStore abstracts the string-keyed atomic store shared by the guards,
// the installation store and the OAuth state store.
// Implementations: Redis (production), Postgres, or in-memory (local dev / single instance).
// All of them must behave identically; see kv_store_contract_test.go.
type KVStore interface {
	// SetAndGetPrevious stores value under key and atomically returns what
	// occupied key immediately before. found is false if the key was absent or expired.
	// A key holding a hash fails with ErrWrongType.
	SetAndGetPrevious(ctx context.Context, key, value string, ttl time.Duration) (previous string, found bool, err error)
	// Set stores value under key, replacing a hash stored there. A ttl of zero
	// means the key never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Delete removes key and returns how many live records were removed (0 or 1).
	Delete(ctx context.Context, key string) (int64, error)

	// The hash operations fail with ErrWrongType when key holds a live string.
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}
