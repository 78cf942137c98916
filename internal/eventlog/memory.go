package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps records in process memory
type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// WithClock overrides the timestamp source
func (m *MemoryLog) WithClock(now func() time.Time) *MemoryLog {
	m.now = now
	return m
}

func (m *MemoryLog) Append(ctx context.Context, storeID, eventType string, payload any) (Record, error) {
	rec, err := newRecord(storeID, eventType, payload, m.now())
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryLog) Recent(ctx context.Context, storeID string, types []string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return recentFrom(m.records, storeID, types, limit), nil
}

// Len returns the number of records across all stores
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records)
}

func (m *MemoryLog) Close() error {
	return nil
}
