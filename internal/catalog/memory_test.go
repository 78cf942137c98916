package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func seededStore() *MemoryStore {
	m := NewMemoryStore()
	m.AddVariant(Variant{ID: "v1", ProductID: "p1", StoreID: "s1", Price: 20, OnHand: 10, Sellable: true, ProductActive: true, CreatedAt: t0})
	m.AddVariant(Variant{ID: "v2", ProductID: "p1", StoreID: "s1", Price: 30, OnHand: 5, Reserved: 2, Sellable: true, ProductActive: true, CreatedAt: t0.Add(time.Hour)})
	m.AddVariant(Variant{ID: "v3", ProductID: "p2", StoreID: "s1", Price: 40, Sellable: false, ProductActive: true, CreatedAt: t0.Add(2 * time.Hour)})
	m.AddVariant(Variant{ID: "other", ProductID: "p9", StoreID: "s2", Price: 10, Sellable: true, ProductActive: true, CreatedAt: t0})

	m.AddOrder(Order{ID: "o1", StoreID: "s1", Status: "paid", CreatedAt: t0.Add(24 * time.Hour), Lines: []OrderLine{
		{VariantID: "v1", Quantity: 2, LineTotal: 40},
		{VariantID: "v2", Quantity: 3, LineTotal: 90},
	}})
	m.AddOrder(Order{ID: "o2", StoreID: "s1", Status: "cancelled", CreatedAt: t0.Add(25 * time.Hour), Lines: []OrderLine{
		{VariantID: "v1", Quantity: 50, LineTotal: 1000},
	}})
	m.AddOrder(Order{ID: "o3", StoreID: "s1", Status: "fulfilled", CreatedAt: t0.Add(26 * time.Hour), Lines: []OrderLine{
		{VariantID: "v1", Quantity: 1, LineTotal: 20},
		{VariantID: "v3", Quantity: 9, LineTotal: 360},
	}})
	return m
}

func TestMemoryStore_TopVariantsByRevenue(t *testing.T) {
	m := seededStore()
	ctx := context.Background()

	ids, err := m.TopVariantsByRevenue(ctx, "s1", t0, 10)
	require.NoError(t, err)
	// v3 is not sellable and the cancelled order is ignored
	assert.Equal(t, []string{"v2", "v1"}, ids)

	ids, err = m.TopVariantsByRevenue(ctx, "s1", t0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, ids)

	ids, err = m.TopVariantsByRevenue(ctx, "s1", t0.Add(48*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_RecentSellableVariants(t *testing.T) {
	m := seededStore()

	ids, err := m.RecentSellableVariants(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2", "v1"}, ids)
}

func TestMemoryStore_LoadCandidates(t *testing.T) {
	m := seededStore()

	cs, err := m.LoadCandidates(context.Background(), "s1", []string{"v1", "v2", "other", "missing"}, t0)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	assert.Equal(t, "v1", cs[0].VariantID)
	assert.Equal(t, int64(3), cs[0].Units30d)
	assert.Equal(t, 60.0, cs[0].Revenue30d)
	assert.Equal(t, int64(2), cs[0].Orders30d)
	assert.Equal(t, 10, cs[0].Available)

	assert.Equal(t, 3, cs[1].Available)
}

func TestMemoryStore_SalesWindow(t *testing.T) {
	m := seededStore()
	ctx := context.Background()

	wm, err := m.SalesWindow(ctx, "s1", []string{"v1", "v2"}, t0, t0.Add(26*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), wm.Units)
	assert.Equal(t, 130.0, wm.Revenue)
	assert.Equal(t, int64(1), wm.Orders)

	// upper bound is exclusive
	wm, err = m.SalesWindow(ctx, "s1", []string{"v1"}, t0, t0.Add(26*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), wm.Units)
	assert.Equal(t, int64(2), wm.Orders)
}

func TestMemoryStore_SetPriceScoped(t *testing.T) {
	m := seededStore()
	ctx := context.Background()

	scoped, err := m.ScopedVariantIDs(ctx, "s1", []string{"v1", "other"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"v1": true}, scoped)

	ca := 25.0
	require.NoError(t, m.SetPrice(ctx, "s1", "v1", 19.99, &ca))
	v, _ := m.Variant("v1")
	assert.Equal(t, 19.99, v.Price)
	require.NotNil(t, v.CompareAtPrice)
	assert.Equal(t, 25.0, *v.CompareAtPrice)

	require.NoError(t, m.SetPrice(ctx, "s1", "v1", 20, nil))
	v, _ = m.Variant("v1")
	assert.Nil(t, v.CompareAtPrice)

	err = m.SetPrice(ctx, "s1", "other", 1, nil)
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
variants:
  - id: v1
    product_id: p1
    store_id: s1
    price: 12.5
    compare_at_price: 15
    on_hand: 7
    sellable: true
    product_active: true
    created_at: 2026-09-01T12:00:00Z
orders:
  - id: o1
    store_id: s1
    status: paid
    created_at: 2026-09-02T12:00:00Z
    lines:
      - variant_id: v1
        quantity: 2
        line_total: 25
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m, err := LoadFixture(path)
	require.NoError(t, err)

	v, ok := m.Variant("v1")
	require.True(t, ok)
	assert.Equal(t, 12.5, v.Price)
	require.NotNil(t, v.CompareAtPrice)
	assert.Equal(t, 15.0, *v.CompareAtPrice)

	wm, err := m.SalesWindow(context.Background(), "s1", []string{"v1"}, t0, t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), wm.Units)
}
