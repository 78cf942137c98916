package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/pkg/otel"
)

// NormalizeWindowDays applies the default and clamps into [3, 60]
func NormalizeWindowDays(days int) int {
	if days == 0 {
		return DefaultWindowDays
	}
	if days < MinWindowDays {
		return MinWindowDays
	}
	if days > MaxWindowDays {
		return MaxWindowDays
	}
	return days
}

// Performance compares sales of the experiment's variants in the window
// before it started with the time it has been (or was) running
func (s *Service) Performance(ctx context.Context, storeID, id string, windowDays int) (api.PerformanceResult, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "experiment.Performance", otel.ExperimentAttributes(storeID, id)...)
	defer span.End()

	windowDays = NormalizeWindowDays(windowDays)
	span.SetAttributes(otel.AttrWindowDays.Int(windowDays))

	res, err := s.performance(ctx, storeID, id, windowDays)
	if err != nil {
		otel.RecordError(span, err, "")
		return api.PerformanceResult{}, err
	}
	return res, nil
}

func (s *Service) performance(ctx context.Context, storeID, id string, windowDays int) (api.PerformanceResult, error) {
	exp, err := s.get(ctx, storeID, id)
	if err != nil {
		return api.PerformanceResult{}, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, exp.StartedAt)
	if err != nil {
		return api.PerformanceResult{}, api.Validationf("experiment %s has an invalid started_at %q", id, exp.StartedAt)
	}

	end := s.now()
	if exp.StoppedAt != nil {
		end, err = time.Parse(time.RFC3339Nano, *exp.StoppedAt)
		if err != nil {
			return api.PerformanceResult{}, api.Validationf("experiment %s has an invalid stopped_at %q", id, *exp.StoppedAt)
		}
	}

	ids := make([]string, len(exp.Assignments))
	for i, a := range exp.Assignments {
		ids[i] = a.VariantID
	}

	preFrom := startedAt.Add(-time.Duration(windowDays) * 24 * time.Hour)
	pre, err := s.catalog.SalesWindow(ctx, storeID, ids, preFrom, startedAt)
	if err != nil {
		return api.PerformanceResult{}, fmt.Errorf("failed to aggregate pre window: %w", err)
	}
	post, err := s.catalog.SalesWindow(ctx, storeID, ids, startedAt, end)
	if err != nil {
		return api.PerformanceResult{}, fmt.Errorf("failed to aggregate post window: %w", err)
	}

	lift := api.Lift{
		UnitsPercent:   percentChange(float64(pre.Units), float64(post.Units)),
		RevenuePercent: percentChange(pre.Revenue, post.Revenue),
		OrdersPercent:  percentChange(float64(pre.Orders), float64(post.Orders)),
	}
	s.metrics.Outcomes.RecordLift(storeID, id, lift)

	return api.PerformanceResult{
		ExperimentID: exp.ID,
		StartedAt:    exp.StartedAt,
		StoppedAt:    exp.StoppedAt,
		WindowDays:   windowDays,
		Pre:          pre,
		Post:         post,
		Lift:         lift,
	}, nil
}

// percentChange is nil when pre is zero or either value is not finite;
// a zero baseline makes lift undefined, not zero
func percentChange(pre, post float64) *float64 {
	if pre == 0 || !finite(pre) || !finite(post) {
		return nil
	}
	v := api.Round2((post - pre) / pre * 100)
	if !finite(v) {
		return nil
	}
	return &v
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
