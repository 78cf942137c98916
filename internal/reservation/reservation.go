package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Store claims experiment ids so two concurrent starts cannot both mutate prices
type Store interface {
	// Reserve claims (storeID, experimentID). Returns false if another caller
	// already holds an unexpired claim. ttl <= 0 never expires.
	Reserve(ctx context.Context, storeID, experimentID string, ttl time.Duration) (bool, error)

	// Release drops a claim. Only valid before any price was mutated.
	Release(ctx context.Context, storeID, experimentID string) error

	// Close releases resources
	Close() error
}

func key(storeID, experimentID string) string {
	return fmt.Sprintf("pricelab:experiment:%s:%s", storeID, experimentID)
}

// MemoryStore is an in-process reservation store with optional file snapshot
type MemoryStore struct {
	mu       sync.Mutex
	claims   map[string]*claim
	snapshot string
	now      func() time.Time
}

type claim struct {
	ReservedAt time.Time `json:"reserved_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

func (c *claim) live(now time.Time) bool {
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// NewMemoryStore creates an in-memory store; snapshotPath may be empty
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	ms := &MemoryStore{
		claims:   make(map[string]*claim),
		snapshot: snapshotPath,
		now:      time.Now,
	}

	if snapshotPath != "" {
		if err := ms.loadSnapshot(); err != nil {
			return nil, err
		}
	}

	return ms, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, storeID, experimentID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(storeID, experimentID)
	if c, ok := m.claims[k]; ok && c.live(now) {
		return false, nil
	}

	c := &claim{ReservedAt: now}
	if ttl > 0 {
		c.ExpiresAt = now.Add(ttl)
	}
	m.claims[k] = c

	if m.snapshot != "" {
		if err := m.saveSnapshot(); err != nil {
			delete(m.claims, k)
			return false, err
		}
	}

	return true, nil
}

func (m *MemoryStore) Release(ctx context.Context, storeID, experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, key(storeID, experimentID))
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSnapshot()
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snapshot map[string]*claim
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal reservation snapshot: %w", err)
	}

	now := m.now()
	for k, c := range snapshot {
		if c.live(now) {
			m.claims[k] = c
		}
	}

	return nil
}

// saveSnapshot must be called with mu held
func (m *MemoryStore) saveSnapshot() error {
	now := m.now()
	toSave := make(map[string]*claim, len(m.claims))
	for k, c := range m.claims {
		if c.live(now) {
			toSave[k] = c
		}
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.snapshot, data, 0600)
}
