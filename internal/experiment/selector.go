package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/storefront-labs/pricelab/internal/catalog"
)

// overFetch is how many candidates are loaded per requested variant so that
// enough survive hold decisions and rounding
const overFetch = 3

// selectCandidates returns up to overFetch×maxVariants distinct candidates
// with a positive price. Explicit ids win over inferred ones.
func (s *Service) selectCandidates(ctx context.Context, storeID string, explicit []string, maxVariants int) ([]catalog.Candidate, error) {
	limit := overFetch * maxVariants
	since := s.now().Add(-catalog.TrailingWindow)

	ids := uniqueIDs(explicit, limit)
	if len(explicit) == 0 {
		top, err := s.catalog.TopVariantsByRevenue(ctx, storeID, since, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to rank variants by revenue: %w", err)
		}
		if len(top) == 0 {
			top, err = s.catalog.RecentSellableVariants(ctx, storeID, limit)
			if err != nil {
				return nil, fmt.Errorf("failed to load recent variants: %w", err)
			}
		}
		ids = uniqueIDs(top, limit)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	loaded, err := s.catalog.LoadCandidates(ctx, storeID, ids, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	seen := make(map[string]bool, len(loaded))
	out := make([]catalog.Candidate, 0, len(loaded))
	for _, c := range loaded {
		if c.Price <= 0 || seen[c.VariantID] {
			continue
		}
		seen[c.VariantID] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// uniqueIDs trims, drops blanks and duplicates, preserving first-seen order
func uniqueIDs(ids []string, limit int) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out
}
