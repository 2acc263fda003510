package repository

import (
	"context"
	"fmt"
	"time"

	"emojipapertrail/relay/pkg/crypto"
)

const (
	DefaultOAuthStateKeyPrefix = "slack_oauth_state_store"
	DefaultOAuthStateTTL       = 10 * time.Minute

	stateTokenBytes = 32
	stateSentinel   = "1"
)

// OAuthStateStore issues single-use CSRF nonces for the OAuth install flow.
type OAuthStateStore struct {
	kv        KVStore
	ttl       time.Duration
	keyPrefix string
}

func NewOAuthStateStore(kv KVStore, ttl time.Duration) *OAuthStateStore {
	if ttl <= 0 {
		ttl = DefaultOAuthStateTTL
	}
	return &OAuthStateStore{kv: kv, ttl: ttl, keyPrefix: DefaultOAuthStateKeyPrefix}
}

func (s *OAuthStateStore) stateKey(state string) string {
	return s.keyPrefix + ":" + state
}

// Issue stores a fresh random state for the configured TTL and returns it.
func (s *OAuthStateStore) Issue(ctx context.Context) (string, error) {
	state, err := crypto.GenerateRandomString(stateTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := s.kv.Set(ctx, s.stateKey(state), stateSentinel, s.ttl); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return state, nil
}

// Consume deletes state and reports whether exactly one live record was
// removed. A replayed, expired or never issued state returns false.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	n, err := s.kv.Delete(ctx, s.stateKey(state))
	if err != nil {
		return false, fmt.Errorf("consume state: %w", err)
	}
	return n == 1, nil
}
