package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/storefront-labs/pricelab/internal/api"
)

var ErrVariantNotFound = errors.New("variant not found")

// Variant is a row of the in-memory catalog
type Variant struct {
	ID             string    `yaml:"id"`
	ProductID      string    `yaml:"product_id"`
	StoreID        string    `yaml:"store_id"`
	Price          float64   `yaml:"price"`
	CompareAtPrice *float64  `yaml:"compare_at_price"`
	OnHand         int       `yaml:"on_hand"`
	Reserved       int       `yaml:"reserved"`
	Sellable       bool      `yaml:"sellable"`
	ProductActive  bool      `yaml:"product_active"`
	CreatedAt      time.Time `yaml:"created_at"`
}

type OrderLine struct {
	VariantID string  `yaml:"variant_id"`
	Quantity  int64   `yaml:"quantity"`
	LineTotal float64 `yaml:"line_total"`
}

type Order struct {
	ID        string      `yaml:"id"`
	StoreID   string      `yaml:"store_id"`
	Status    string      `yaml:"status"`
	CreatedAt time.Time   `yaml:"created_at"`
	Lines     []OrderLine `yaml:"lines"`
}

// Fixture is the YAML document accepted by LoadFixture
type Fixture struct {
	Variants []Variant `yaml:"variants"`
	Orders   []Order   `yaml:"orders"`
}

// MemoryStore is an in-memory catalog used for local runs and tests
type MemoryStore struct {
	mu       sync.RWMutex
	variants map[string]*Variant
	orders   []Order
}

// NewMemoryStore creates an empty in-memory catalog
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		variants: make(map[string]*Variant),
	}
}

// LoadFixture creates a MemoryStore seeded from a YAML file
func LoadFixture(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse catalog fixture: %w", err)
	}

	m := NewMemoryStore()
	for _, v := range fx.Variants {
		m.AddVariant(v)
	}
	for _, o := range fx.Orders {
		m.AddOrder(o)
	}
	return m, nil
}

func (m *MemoryStore) AddVariant(v Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := v
	m.variants[v.ID] = &cp
}

func (m *MemoryStore) AddOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders = append(m.orders, o)
}

// Variant returns a copy of the stored variant
func (m *MemoryStore) Variant(variantID string) (Variant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.variants[variantID]
	if !ok {
		return Variant{}, false
	}
	return *v, true
}

func (m *MemoryStore) TopVariantsByRevenue(ctx context.Context, storeID string, since time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	revenue := make(map[string]float64)
	for _, o := range m.orders {
		if o.StoreID != storeID || o.CreatedAt.Before(since) || isExcludedStatus(o.Status) {
			continue
		}
		for _, line := range o.Lines {
			v, ok := m.variants[line.VariantID]
			if !ok || v.StoreID != storeID || !v.Sellable || !v.ProductActive {
				continue
			}
			revenue[line.VariantID] += line.LineTotal
		}
	}

	ids := make([]string, 0, len(revenue))
	for id, total := range revenue {
		if total > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if revenue[ids[i]] != revenue[ids[j]] {
			return revenue[ids[i]] > revenue[ids[j]]
		}
		return ids[i] < ids[j]
	})

	return truncate(ids, limit), nil
}

func (m *MemoryStore) RecentSellableVariants(ctx context.Context, storeID string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var vs []*Variant
	for _, v := range m.variants {
		if v.StoreID == storeID && v.Sellable && v.ProductActive {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.After(vs[j].CreatedAt)
		}
		return vs[i].ID < vs[j].ID
	})

	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return truncate(ids, limit), nil
}

func (m *MemoryStore) LoadCandidates(ctx context.Context, storeID string, variantIDs []string, since time.Time) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Candidate, 0, len(variantIDs))
	for _, id := range variantIDs {
		v, ok := m.variants[id]
		if !ok || v.StoreID != storeID {
			continue
		}
		perf := m.aggregate(storeID, map[string]bool{id: true}, since, time.Time{})
		out = append(out, Candidate{
			VariantID:      v.ID,
			ProductID:      v.ProductID,
			Price:          v.Price,
			CompareAtPrice: copyFloat(v.CompareAtPrice),
			Available:      v.OnHand - v.Reserved,
			Units30d:       perf.Units,
			Revenue30d:     perf.Revenue,
			Orders30d:      perf.Orders,
		})
	}
	return out, nil
}

func (m *MemoryStore) SalesWindow(ctx context.Context, storeID string, variantIDs []string, from, to time.Time) (api.WindowMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]bool, len(variantIDs))
	for _, id := range variantIDs {
		set[id] = true
	}
	return m.aggregate(storeID, set, from, to), nil
}

// aggregate sums sales over [from, to); a zero to means unbounded
func (m *MemoryStore) aggregate(storeID string, variants map[string]bool, from, to time.Time) api.WindowMetrics {
	wm := api.WindowMetrics{From: from, To: to}
	orders := make(map[string]bool)

	for _, o := range m.orders {
		if o.StoreID != storeID || isExcludedStatus(o.Status) {
			continue
		}
		if o.CreatedAt.Before(from) || (!to.IsZero() && !o.CreatedAt.Before(to)) {
			continue
		}
		for _, line := range o.Lines {
			if !variants[line.VariantID] {
				continue
			}
			wm.Units += line.Quantity
			wm.Revenue += line.LineTotal
			orders[o.ID] = true
		}
	}
	wm.Orders = int64(len(orders))
	wm.Revenue = api.Round2(wm.Revenue)
	return wm
}

func (m *MemoryStore) ScopedVariantIDs(ctx context.Context, storeID string, variantIDs []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scoped := make(map[string]bool, len(variantIDs))
	for _, id := range variantIDs {
		if v, ok := m.variants[id]; ok && v.StoreID == storeID {
			scoped[id] = true
		}
	}
	return scoped, nil
}

func (m *MemoryStore) SetPrice(ctx context.Context, storeID, variantID string, price float64, compareAt *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.variants[variantID]
	if !ok || v.StoreID != storeID {
		return fmt.Errorf("set price %s: %w", variantID, ErrVariantNotFound)
	}
	v.Price = price
	v.CompareAtPrice = copyFloat(compareAt)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func truncate(ids []string, limit int) []string {
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
