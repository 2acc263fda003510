package service

import (
	"context"
	"fmt"
	"time"

	"emojipapertrail/relay/internal/repository"
)

const (
	idempotencyKeyPrefix        = "emoji-papertrail:idempotency:"
	DefaultIdempotencyRetention = 7 * 24 * time.Hour
)

// IdempotencyGuard remembers the most recent event token per entity so that
// redelivered webhooks are acted on at most once.
type IdempotencyGuard struct {
	kv        repository.KVStore
	retention time.Duration
}

func NewIdempotencyGuard(kv repository.KVStore, retention time.Duration) *IdempotencyGuard {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyGuard{kv: kv, retention: retention}
}

// HasHandled records eventToken as the latest event for entityKey and reports
// whether it was already the latest one. Only one generation is remembered:
// after T1, T2 a redelivered T1 reads as new. Backend errors are returned,
// never folded into "not handled".
func (g *IdempotencyGuard) HasHandled(ctx context.Context, entityKey, eventToken string) (bool, error) {
	prev, found, err := g.kv.SetAndGetPrevious(ctx, idempotencyKeyPrefix+entityKey, eventToken, g.retention)
	if err != nil {
		return false, fmt.Errorf("idempotency check for %q: %w", entityKey, err)
	}
	return found && prev == eventToken, nil
}
