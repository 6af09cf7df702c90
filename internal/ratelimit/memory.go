package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps hit timestamps in process memory. It is the fallback
// when no Redis is configured; limits then only hold within one instance.
type MemoryLimiter struct {
	mu    sync.Mutex
	rules []Rule
	hits  map[string][]time.Time
	now   func() time.Time
}

func NewMemoryLimiter(rules []Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rules: rules,
		hits:  make(map[string][]time.Time),
		now:   time.Now,
	}
}

func (m *MemoryLimiter) Test(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(key, now)
	return m.allowed(key, now), nil
}

func (m *MemoryLimiter) Hit(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(key, now)
	if !m.allowed(key, now) {
		return false, nil
	}
	m.hits[key] = append(m.hits[key], now)
	return true, nil
}

// prune drops timestamps older than the widest window.
func (m *MemoryLimiter) prune(key string, now time.Time) {
	var widest time.Duration
	for _, r := range m.rules {
		if r.Window > widest {
			widest = r.Window
		}
	}
	cutoff := now.Add(-widest)

	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.hits, key)
		return
	}
	m.hits[key] = kept
}

func (m *MemoryLimiter) allowed(key string, now time.Time) bool {
	for _, r := range m.rules {
		cutoff := now.Add(-r.Window)
		count := 0
		for _, t := range m.hits[key] {
			if t.After(cutoff) {
				count++
			}
		}
		if count >= r.Limit {
			return false
		}
	}
	return true
}
