package catalog

import (
	"context"
	"time"

	"github.com/storefront-labs/pricelab/internal/api"
)

// TrailingWindow is the look-back used for candidate performance
const TrailingWindow = 30 * 24 * time.Hour

// ExcludedOrderStatuses never count towards sales aggregates
var ExcludedOrderStatuses = []string{"cancelled", "refunded", "voided"}

// Candidate is a variant considered for a price experiment.
// It is recomputed on every call and never persisted.
type Candidate struct {
	VariantID      string
	ProductID      string
	Price          float64
	CompareAtPrice *float64
	Available      int // on hand minus reserved
	Units30d       int64
	Revenue30d     float64
	Orders30d      int64
}

// Reader is read-only access to variant prices, inventory and sales history
type Reader interface {
	// TopVariantsByRevenue ranks variants of active, sellable products by
	// revenue since the given time, descending.
	TopVariantsByRevenue(ctx context.Context, storeID string, since time.Time, limit int) ([]string, error)

	// RecentSellableVariants returns the most recently created sellable variants.
	RecentSellableVariants(ctx context.Context, storeID string, limit int) ([]string, error)

	// LoadCandidates joins the given variants to price, inventory and
	// performance since the given time. Unknown ids are omitted.
	LoadCandidates(ctx context.Context, storeID string, variantIDs []string, since time.Time) ([]Candidate, error)

	// SalesWindow aggregates units, revenue and distinct orders over [from, to)
	// for the variant set, ignoring ExcludedOrderStatuses.
	SalesWindow(ctx context.Context, storeID string, variantIDs []string, from, to time.Time) (api.WindowMetrics, error)
}

// Writer mutates variant prices
type Writer interface {
	// ScopedVariantIDs returns the subset of ids that belong to the store.
	ScopedVariantIDs(ctx context.Context, storeID string, variantIDs []string) (map[string]bool, error)

	// SetPrice sets price and compare-at price. A nil compareAt clears it.
	SetPrice(ctx context.Context, storeID, variantID string, price float64, compareAt *float64) error
}

// Store is the narrow query interface to the relational store
type Store interface {
	Reader
	Writer
	Close() error
}

func isExcludedStatus(status string) bool {
	for _, s := range ExcludedOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}
