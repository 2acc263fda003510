package service

import (
	"sync"
	"time"
)

// DebounceGuard is a process-local "seen within the last window" check. It is
// not shared between instances and forgets everything on restart.
type DebounceGuard[K comparable] struct {
	mu       sync.Mutex
	lastSeen map[K]time.Time
	now      func() time.Time
}

func NewDebounceGuard[K comparable](now func() time.Time) *DebounceGuard[K] {
	if now == nil {
		now = time.Now
	}
	return &DebounceGuard[K]{
		lastSeen: make(map[K]time.Time),
		now:      now,
	}
}

// SeenTooRecently stamps key with the current time and reports whether the
// previous stamp, if any, falls within window.
func (g *DebounceGuard[K]) SeenTooRecently(key K, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-window)

	last, ok := g.lastSeen[key]
	g.lastSeen[key] = now

	return ok && !last.Before(cutoff)
}
