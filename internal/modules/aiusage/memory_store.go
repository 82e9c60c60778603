// README: In-process ai_usage store for tests and memory-mode runs.
package aiusage

import (
	"context"
	"sync"
	"time"
)

type usage struct {
	remaining int
	month     string
}

type MemoryStore struct {
	mu      sync.Mutex
	rows    map[string]usage
	monthly int
	now     func() time.Time
}

func NewMemoryStore(monthly int) *MemoryStore {
	if monthly <= 0 {
		monthly = DefaultTokens
	}
	return &MemoryStore{rows: make(map[string]usage), monthly: monthly, now: time.Now}
}

func (m *MemoryStore) Spend(_ context.Context, uid string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	month := monthOf(m.now())
	row, ok := m.rows[uid]
	if !ok || row.month < month {
		row = usage{remaining: m.monthly, month: month}
	}
	if row.remaining <= 0 {
		return 0, ErrInsufficientTokens
	}
	row.remaining--
	m.rows[uid] = row
	return row.remaining, nil
}

// Remaining reports the stored allowance; false when uid has no row.
func (m *MemoryStore) Remaining(uid string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uid]
	return row.remaining, ok
}
