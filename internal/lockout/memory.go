package lockout

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n       int
	expires time.Time
}

// Memory is a process-local Tracker. Call Close to stop its cleanup goroutine.
type Memory struct {
	mu       sync.Mutex
	policy   Policy
	failures map[string]counter
	locks    map[string]time.Time
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

// NewMemory creates a tracker. A nil now uses time.Now.
func NewMemory(p Policy, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	m := &Memory{
		policy:   p,
		failures: make(map[string]counter),
		locks:    make(map[string]time.Time),
		now:      now,
		stop:     make(chan struct{}),
	}
	go m.cleanup(10 * time.Minute)
	return m
}

func (m *Memory) Remaining(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining(key, m.now()), nil
}

func (m *Memory) remaining(key string, now time.Time) time.Duration {
	until, ok := m.locks[key]
	if !ok {
		return 0
	}
	if !now.Before(until) {
		delete(m.locks, key)
		return 0
	}
	return until.Sub(now)
}

func (m *Memory) Fail(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if left := m.remaining(key, now); left > 0 {
		return left, nil
	}
	c := m.failures[key]
	if !now.Before(c.expires) {
		c = counter{expires: now.Add(m.policy.Lockout)}
	}
	c.n++
	if c.n >= m.policy.MaxFailures {
		delete(m.failures, key)
		m.locks[key] = now.Add(m.policy.Lockout)
		return m.policy.Lockout, nil
	}
	m.failures[key] = c
	return 0, nil
}

func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, key)
	return nil
}

// Close stops the cleanup goroutine
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, c := range m.failures {
		if !now.Before(c.expires) {
			delete(m.failures, key)
		}
	}
	for key, until := range m.locks {
		if !now.Before(until) {
			delete(m.locks, key)
		}
	}
}
