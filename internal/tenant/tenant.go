package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrStoreNotFound  = errors.New("store not found")
	ErrQuotaExceeded  = errors.New("store quota exceeded")
	ErrInvalidStoreID = errors.New("invalid store ID")
	ErrStoreInactive  = errors.New("store is not active")
)

// Store is the isolation unit every pricing call runs in
type Store struct {
	ID string

	// Quotas
	TokenRate  float64 // requests/second
	BurstRate  int
	DailyQuota int64 // 0 = unlimited

	CreatedAt time.Time
	Active    bool
}

// Manager tracks stores and enforces their request budgets.
// Unknown stores are admitted on first use with the default limits.
type Manager struct {
	mu           sync.RWMutex
	stores       map[string]*Store
	limiters     map[string]*rate.Limiter
	usage        map[string]*usageCounter
	defaultRate  float64
	defaultBurst int
	now          func() time.Time
}

type usageCounter struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
}

// NewManager creates a manager; defaultRate <= 0 disables rate limiting
// for stores registered implicitly
func NewManager(defaultRate float64, defaultBurst int) *Manager {
	return &Manager{
		stores:       make(map[string]*Store),
		limiters:     make(map[string]*rate.Limiter),
		usage:        make(map[string]*usageCounter),
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
		now:          time.Now,
	}
}

// Register adds or replaces a store
func (m *Manager) Register(s *Store) error {
	if s.ID == "" {
		return ErrInvalidStoreID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.register(s)
	return nil
}

func (m *Manager) register(s *Store) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}

	limit := rate.Limit(s.TokenRate)
	if s.TokenRate <= 0 {
		limit = rate.Inf
	}

	m.stores[s.ID] = s
	m.limiters[s.ID] = rate.NewLimiter(limit, s.BurstRate)
	m.usage[s.ID] = &usageCounter{resetAt: m.now().Add(24 * time.Hour)}
}

// Get returns a copy of a registered store
func (m *Manager) Get(storeID string) (Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[storeID]
	if !ok {
		return Store{}, ErrStoreNotFound
	}
	return *s, nil
}

// ensure returns a snapshot of the store, registering it on first use
func (m *Manager) ensure(storeID string) (Store, *rate.Limiter, *usageCounter, error) {
	if storeID == "" {
		return Store{}, nil, nil, ErrInvalidStoreID
	}

	m.mu.RLock()
	s, ok := m.stores[storeID]
	if ok {
		defer m.mu.RUnlock()
		return *s, m.limiters[storeID], m.usage[storeID], nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// another request may have registered it meanwhile
	if s, ok := m.stores[storeID]; ok {
		return *s, m.limiters[storeID], m.usage[storeID], nil
	}

	s = &Store{
		ID:        storeID,
		TokenRate: m.defaultRate,
		BurstRate: m.defaultBurst,
		Active:    true,
	}
	m.register(s)
	return *s, m.limiters[storeID], m.usage[storeID], nil
}

// Allow checks the store's rate limit and daily quota.
// Returns ErrQuotaExceeded when the request must be rejected.
func (m *Manager) Allow(ctx context.Context, storeID string) error {
	s, limiter, usage, err := m.ensure(storeID)
	if err != nil {
		return err
	}

	if !s.Active {
		return fmt.Errorf("%w: %s", ErrStoreInactive, storeID)
	}

	if !limiter.Allow() {
		return ErrQuotaExceeded
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()

	if now := m.now(); now.After(usage.resetAt) {
		usage.count = 0
		usage.resetAt = now.Add(24 * time.Hour)
	}

	if s.DailyQuota > 0 && usage.count >= s.DailyQuota {
		return ErrQuotaExceeded
	}
	usage.count++

	return nil
}

// Usage returns the number of requests admitted for the store today
func (m *Manager) Usage(storeID string) (int64, error) {
	m.mu.RLock()
	usage, ok := m.usage[storeID]
	m.mu.RUnlock()

	if !ok {
		return 0, ErrStoreNotFound
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()

	if now := m.now(); now.After(usage.resetAt) {
		usage.count = 0
		usage.resetAt = now.Add(24 * time.Hour)
	}

	return usage.count, nil
}

// Deactivate rejects all further requests for the store
func (m *Manager) Deactivate(storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[storeID]
	if !ok {
		return ErrStoreNotFound
	}
	s.Active = false
	return nil
}
