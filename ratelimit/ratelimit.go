// Package ratelimit gates delivery API calls per subscriber using a fixed window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
	// DefaultMaxKeys bounds how many subscriber windows Memory tracks at once.
	DefaultMaxKeys = 100_000
)

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	count int
	reset time.Time
}

// Memory is a process-local Limiter. Deployments with more than one API
// instance must use Redis instead.
type Memory struct {
	limit   int
	period  time.Duration
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	calls   int
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithMaxKeys caps the number of tracked keys. Once the cap is reached and no
// window has expired, requests from unseen keys are rejected.
func WithMaxKeys(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxKeys = n
		}
	}
}

func NewMemory(limit int, period time.Duration, opts ...MemoryOption) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}
	m := &Memory{
		limit:   limit,
		period:  period,
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%1024 == 0 {
		m.prune(now)
	}

	w, ok := m.windows[key]
	if !ok && len(m.windows) >= m.maxKeys {
		m.prune(now)
		if len(m.windows) >= m.maxKeys {
			return false, nil
		}
	}
	if !ok || now.After(w.reset) {
		w = &window{reset: now.Add(m.period)}
		m.windows[key] = w
	}
	if w.count >= m.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// prune drops expired windows so idle subscribers do not accumulate.
func (m *Memory) prune(now time.Time) {
	for k, w := range m.windows {
		if now.After(w.reset) {
			delete(m.windows, k)
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
