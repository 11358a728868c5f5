package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	expiresAt time.Time
	value     []byte
}

// Memory is the process-local fast tier. Entries expire by TTL; a
// best-effort size cap evicts expired entries first, then arbitrary
// ones.
type Memory struct {
	maxItems int

	mu    sync.RWMutex
	items map[string]entry
}

func NewMemory(maxItems int) *Memory {
	return &Memory{maxItems: maxItems, items: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	// Copy so later mutation by the caller cannot corrupt the entry.
	v := make([]byte, len(value))
	copy(v, value)

	m.mu.Lock()
	m.items[key] = entry{expiresAt: time.Now().Add(ttl), value: v}
	if m.maxItems > 0 && len(m.items) > m.maxItems {
		now := time.Now()
		for k, e := range m.items {
			if now.After(e.expiresAt) {
				delete(m.items, k)
			}
			if len(m.items) <= m.maxItems {
				break
			}
		}
		for k := range m.items {
			if len(m.items) <= m.maxItems {
				break
			}
			delete(m.items, k)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Clear wipes every owned namespace. The in-process map is enumerable,
// so this is exact.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	for k := range m.items {
		for _, p := range ownedPrefixes() {
			if strings.HasPrefix(k, p) {
				delete(m.items, k)
				break
			}
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) HealthCheck(ctx context.Context) Health {
	return probe(ctx, m)
}
