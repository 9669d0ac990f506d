package replay

import (
	"context"
	"sync"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/clock"
)

// Memory is the in-process guard. Expiry is checked on read; a janitor
// goroutine prunes dead keys so idle traffic cannot grow the map forever.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clock.Clock
	seen  map[string]int64 // key -> expiry, epoch ms

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a guard holding keys for ttl. clk may be nil for the
// wall clock.
func NewMemory(ttl time.Duration, clk clock.Clock) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Wall{}
	}
	m := &Memory{
		ttl:   ttl,
		clock: clk,
		seen:  make(map[string]int64),
		stop:  make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) FirstSeen(_ context.Context, key string) (bool, error) {
	now := clock.NowMillis(m.clock)

	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.seen[key]; ok && exp > now {
		return false, nil
	}
	m.seen[key] = now + m.ttl.Milliseconds()
	return true, nil
}

// Len reports the number of tracked keys, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// Prune drops expired keys and returns how many were removed.
func (m *Memory) Prune() int {
	now := clock.NowMillis(m.clock)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, exp := range m.seen {
		if exp <= now {
			delete(m.seen, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) janitor() {
	interval := m.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Prune()
		case <-m.stop:
			return
		}
	}
}

// Close stops the janitor.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}
