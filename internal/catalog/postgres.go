package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront-labs/pricelab/internal/api"
)

// PostgresStore reads and writes the storefront's relational tables through
// database/sql (pgx stdlib driver). The tables are owned by the storefront;
// this package only relies on the following columns:
//
//	products(id, store_id, status)
//	variants(id, product_id, store_id, price NUMERIC, compare_at_price NUMERIC NULL,
//	         inventory_on_hand INT, inventory_reserved INT, sellable BOOL,
//	         created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ)
//	orders(id, store_id, status, created_at TIMESTAMPTZ)
//	order_items(order_id, variant_id, quantity INT, line_total NUMERIC)
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database. The caller owns db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const topVariantsByRevenueQuery = `
	SELECT oi.variant_id
	FROM order_items oi
	JOIN orders o ON o.id = oi.order_id
	JOIN variants v ON v.id = oi.variant_id
	JOIN products p ON p.id = v.product_id
	WHERE o.store_id = $1
	  AND o.created_at >= $2
	  AND o.status <> ALL($3)
	  AND p.status = 'active'
	  AND v.sellable
	GROUP BY oi.variant_id
	HAVING SUM(oi.line_total) > 0
	ORDER BY SUM(oi.line_total) DESC
	LIMIT $4
`

func (p *PostgresStore) TopVariantsByRevenue(ctx context.Context, storeID string, since time.Time, limit int) ([]string, error) {
	return p.queryIDs(ctx, "top variants by revenue", topVariantsByRevenueQuery,
		storeID, since, ExcludedOrderStatuses, limit)
}

const recentSellableVariantsQuery = `
	SELECT v.id
	FROM variants v
	JOIN products p ON p.id = v.product_id
	WHERE v.store_id = $1
	  AND p.status = 'active'
	  AND v.sellable
	ORDER BY v.created_at DESC
	LIMIT $2
`

func (p *PostgresStore) RecentSellableVariants(ctx context.Context, storeID string, limit int) ([]string, error) {
	return p.queryIDs(ctx, "recent sellable variants", recentSellableVariantsQuery, storeID, limit)
}

const loadCandidatesQuery = `
	SELECT v.id, v.product_id, v.price, v.compare_at_price,
	       v.inventory_on_hand - v.inventory_reserved,
	       COALESCE(s.units, 0), COALESCE(s.revenue, 0), COALESCE(s.orders, 0)
	FROM variants v
	LEFT JOIN (
		SELECT oi.variant_id,
		       SUM(oi.quantity) AS units,
		       SUM(oi.line_total) AS revenue,
		       COUNT(DISTINCT o.id) AS orders
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.store_id = $1
		  AND oi.variant_id = ANY($2)
		  AND o.created_at >= $3
		  AND o.status <> ALL($4)
		GROUP BY oi.variant_id
	) s ON s.variant_id = v.id
	WHERE v.store_id = $1
	  AND v.id = ANY($2)
`

func (p *PostgresStore) LoadCandidates(ctx context.Context, storeID string, variantIDs []string, since time.Time) ([]Candidate, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, loadCandidatesQuery, storeID, variantIDs, since, ExcludedOrderStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c         Candidate
			price     decimal.Decimal
			compareAt decimal.NullDecimal
			revenue   decimal.Decimal
		)
		if err := rows.Scan(&c.VariantID, &c.ProductID, &price, &compareAt,
			&c.Available, &c.Units30d, &revenue, &c.Orders30d); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.Price = price.InexactFloat64()
		if compareAt.Valid {
			v := compareAt.Decimal.InexactFloat64()
			c.CompareAtPrice = &v
		}
		c.Revenue30d = revenue.InexactFloat64()
		out = append(out, c)
	}

	return out, rows.Err()
}

const salesWindowQuery = `
	SELECT COALESCE(SUM(oi.quantity), 0),
	       COALESCE(SUM(oi.line_total), 0),
	       COUNT(DISTINCT o.id)
	FROM order_items oi
	JOIN orders o ON o.id = oi.order_id
	WHERE o.store_id = $1
	  AND oi.variant_id = ANY($2)
	  AND o.created_at >= $3
	  AND o.created_at < $4
	  AND o.status <> ALL($5)
`

func (p *PostgresStore) SalesWindow(ctx context.Context, storeID string, variantIDs []string, from, to time.Time) (api.WindowMetrics, error) {
	wm := api.WindowMetrics{From: from, To: to}
	if len(variantIDs) == 0 {
		return wm, nil
	}

	var revenue decimal.Decimal
	err := p.db.QueryRowContext(ctx, salesWindowQuery, storeID, variantIDs, from, to, ExcludedOrderStatuses).
		Scan(&wm.Units, &revenue, &wm.Orders)
	if err != nil {
		return wm, fmt.Errorf("failed to aggregate sales window: %w", err)
	}
	wm.Revenue = revenue.Round(2).InexactFloat64()
	return wm, nil
}

const scopedVariantIDsQuery = `SELECT id FROM variants WHERE store_id = $1 AND id = ANY($2)`

func (p *PostgresStore) ScopedVariantIDs(ctx context.Context, storeID string, variantIDs []string) (map[string]bool, error) {
	scoped := make(map[string]bool, len(variantIDs))
	if len(variantIDs) == 0 {
		return scoped, nil
	}

	ids, err := p.queryIDs(ctx, "scoped variants", scopedVariantIDsQuery, storeID, variantIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		scoped[id] = true
	}
	return scoped, nil
}

const setPriceQuery = `
	UPDATE variants
	SET price = $3, compare_at_price = $4, updated_at = NOW()
	WHERE store_id = $1 AND id = $2
`

func (p *PostgresStore) SetPrice(ctx context.Context, storeID, variantID string, price float64, compareAt *float64) error {
	var ca decimal.NullDecimal
	if compareAt != nil {
		ca = decimal.NewNullDecimal(decimal.NewFromFloat(*compareAt).Round(2))
	}

	res, err := p.db.ExecContext(ctx, setPriceQuery, storeID, variantID, decimal.NewFromFloat(price).Round(2), ca)
	if err != nil {
		return fmt.Errorf("failed to set price for %s: %w", variantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set price %s: %w", variantID, ErrVariantNotFound)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return nil
}

func (p *PostgresStore) queryIDs(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
