package experiment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/pkg/otel"
)

const (
	phaseApply   = "apply"
	phaseRestore = "restore"
)

// target returns the price and compare-at price one phase writes for a
type target func(a api.Assignment) (float64, *float64)

// applyTarget anchors a discount against the baseline price; a raise keeps
// the baseline compare-at (nil clears it)
func applyTarget(a api.Assignment) (float64, *float64) {
	if a.ProposedPrice < a.BaselinePrice {
		baseline := a.BaselinePrice
		return a.ProposedPrice, &baseline
	}
	return a.ProposedPrice, copyFloat(a.BaselineCompareAtPrice)
}

func restoreTarget(a api.Assignment) (float64, *float64) {
	return a.BaselinePrice, copyFloat(a.BaselineCompareAtPrice)
}

func (s *Service) apply(ctx context.Context, storeID string, assignments []api.Assignment) (int, error) {
	return s.mutate(ctx, storeID, phaseApply, assignments, applyTarget)
}

func (s *Service) restore(ctx context.Context, storeID string, assignments []api.Assignment) (int, error) {
	return s.mutate(ctx, storeID, phaseRestore, assignments, restoreTarget)
}

// mutate writes one price per in-scope assignment, sequentially and without
// a transaction. Assignments outside the store's scope are skipped. The first
// store error aborts; the returned count is what was actually written.
func (s *Service) mutate(ctx context.Context, storeID, phase string, assignments []api.Assignment, to target) (int, error) {
	if len(assignments) == 0 {
		return 0, nil
	}

	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.VariantID
	}

	scoped, err := s.catalog.ScopedVariantIDs(ctx, storeID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to check variant scope: %w", err)
	}

	count := 0
	for _, a := range assignments {
		if !scoped[a.VariantID] {
			continue
		}

		price, compareAt := to(a)
		if err := s.catalog.SetPrice(ctx, storeID, a.VariantID, price, compareAt); err != nil {
			s.metrics.MutationErrors.WithLabelValues(storeID, phase).Inc()
			s.logger.Error("price mutation aborted",
				"phase", phase,
				"store_id", storeID,
				"variant_id", a.VariantID,
				"written", count,
				"error", err)
			otel.AddEvent(trace.SpanFromContext(ctx), phase+".aborted",
				otel.AttrAssignmentCount.Int(len(assignments)),
				otel.AttrAppliedCount.Int(count))
			return count, fmt.Errorf("failed to %s price of variant %s: %w", phase, a.VariantID, err)
		}
		count++
	}

	if skipped := len(assignments) - count; skipped > 0 {
		s.logger.Warn("skipped out-of-scope variants", "phase", phase, "store_id", storeID, "skipped", skipped)
	}

	return count, nil
}
