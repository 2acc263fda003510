package repository

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time
	hasTTL    bool
}

func (e memEntry) isExpired(now time.Time) bool {
	return e.hasTTL && !now.Before(e.expiresAt)
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*memoryKVStore)

// WithClock replaces time.Now, mostly for tests that need to step over a TTL.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *memoryKVStore) {
		s.now = now
	}
}

// memoryKVStore holds a single mutex for every operation. The swap in
// SetAndGetPrevious reads and writes under the same lock, which is what
// gives it the same atomicity as Redis SET ... GET.
type memoryKVStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	hashes  map[string]map[string]string
	now     func() time.Time
}

func NewMemoryKVStore(opts ...MemoryOption) KVStore {
	s := &memoryKVStore{
		entries: make(map[string]memEntry),
		hashes:  make(map[string]map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryKVStore) entry(value string, ttl time.Duration, now time.Time) memEntry {
	e := memEntry{value: value}
	if ttl > 0 {
		e.hasTTL = true
		e.expiresAt = now.Add(ttl)
	}
	return e
}

// live returns the entry for key, evicting it first if it has expired.
// Callers must hold s.mu.
func (s *memoryKVStore) live(key string, now time.Time) (memEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if e.isExpired(now) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *memoryKVStore) SetAndGetPrevious(_ context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[key]; ok {
		return "", false, ErrWrongType
	}
	now := s.now()
	prev, found := s.live(key, now)
	s.entries[key] = s.entry(value, ttl, now)
	return prev.value, found, nil
}

func (s *memoryKVStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.hashes, key)
	s.entries[key] = s.entry(value, ttl, s.now())
	return nil
}

func (s *memoryKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key, s.now())
	return e.value, ok, nil
}

func (s *memoryKVStore) Delete(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A key holds either a string or a hash, never both.
	n := int64(0)
	if _, ok := s.live(key, s.now()); ok {
		n = 1
	} else if _, ok := s.hashes[key]; ok {
		n = 1
	}
	delete(s.entries, key)
	delete(s.hashes, key)
	return n, nil
}

func (s *memoryKVStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key, s.now()); ok {
		return ErrWrongType
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *memoryKVStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key, s.now()); ok {
		return "", false, ErrWrongType
	}
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *memoryKVStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key, s.now()); ok {
		return nil, ErrWrongType
	}
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *memoryKVStore) Ping(context.Context) error { return nil }

func (s *memoryKVStore) Close() error { return nil }
