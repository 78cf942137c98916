package experiment

import (
	"context"
	"fmt"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/internal/catalog"
	"github.com/storefront-labs/pricelab/internal/policy"
	"github.com/storefront-labs/pricelab/internal/pricing"
	"github.com/storefront-labs/pricelab/pkg/otel"
)

const warnNoEligibleVariants = "no eligible variants"

// Propose computes assignments for the store without mutating anything
func (s *Service) Propose(ctx context.Context, storeID string, req api.ProposalRequest) (api.ProposalResult, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "experiment.Propose", otel.ExperimentAttributes(storeID, "")...)
	defer span.End()

	res, _, err := s.propose(ctx, storeID, req.VariantIDs, req.Guardrails)
	if err != nil {
		otel.RecordError(span, err, "proposal failed")
		return api.ProposalResult{}, err
	}

	span.SetAttributes(otel.AttrAssignmentCount.Int(len(res.Assignments)))
	return res, nil
}

func (s *Service) propose(ctx context.Context, storeID string, ids []string, in *api.GuardrailsInput) (api.ProposalResult, *policy.Policy, error) {
	g, err := pricing.NormalizeGuardrails(in)
	if err != nil {
		return api.ProposalResult{}, nil, err
	}

	pol := s.policies.For(storeID)
	g, warnings := pol.Bound(g)

	candidates, err := s.selectCandidates(ctx, storeID, ids, g.MaxVariants)
	if err != nil {
		return api.ProposalResult{}, nil, err
	}
	if len(candidates) == 0 {
		return api.ProposalResult{}, nil, api.Validationf("no eligible candidates for store %s", storeID)
	}

	assignments := make([]api.Assignment, 0, g.MaxVariants)
	for _, c := range candidates {
		if len(assignments) == g.MaxVariants {
			break
		}

		a, ok := assign(c, g)
		if !ok {
			continue
		}
		if a.DeltaPercent < g.MinDeltaPercent || a.DeltaPercent > g.MaxDeltaPercent {
			warnings = append(warnings, fmt.Sprintf("variant %s: effective delta %+.2f%% outside guardrails after rounding",
				a.VariantID, a.DeltaPercent))
		}
		assignments = append(assignments, a)
	}

	if len(assignments) == 0 {
		warnings = append(warnings, warnNoEligibleVariants)
	}

	s.metrics.Proposals.WithLabelValues(storeID).Inc()
	s.metrics.ProposedAssignments.WithLabelValues(storeID).Add(float64(len(assignments)))
	s.metrics.ProposalWarnings.WithLabelValues(storeID).Add(float64(len(warnings)))

	return api.ProposalResult{
		Assignments: assignments,
		Warnings:    nonNil(warnings),
		Guardrails:  g,
	}, pol, nil
}

// assign runs the policy and rounder for one candidate. Candidates that end
// up with no effective change are dropped.
func assign(c catalog.Candidate, g api.Guardrails) (api.Assignment, bool) {
	d := pricing.Decide(c, g)
	if d.Hold() {
		return api.Assignment{}, false
	}

	price := pricing.PsychologicalPrice(c.Price, d.DeltaPercent)
	if price <= 0 {
		return api.Assignment{}, false
	}

	effective := pricing.EffectiveDelta(c.Price, price)
	if effective == 0 {
		return api.Assignment{}, false
	}

	return api.Assignment{
		VariantID:              c.VariantID,
		ProductID:              c.ProductID,
		BaselinePrice:          c.Price,
		BaselineCompareAtPrice: copyFloat(c.CompareAtPrice),
		ProposedPrice:          price,
		DeltaPercent:           effective,
		Rationale:              d.Rationale,
	}, true
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
