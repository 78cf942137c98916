package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/storefront-labs/pricelab/internal/api"
)

// OutcomeTracker exports what experiments did to prices and sales
type OutcomeTracker struct {
	mu sync.Mutex

	deltas *prometheus.HistogramVec
	lift   *prometheus.GaugeVec

	// store -> experiment -> latest revenue lift was positive
	latest map[string]map[string]bool
}

func newOutcomeTracker(f promauto.Factory) *OutcomeTracker {
	return &OutcomeTracker{
		deltas: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricelab_assignment_delta_percent",
				Help:    "Distribution of effective price deltas of started experiments",
				Buckets: prometheus.LinearBuckets(-20, 2.5, 17),
			},
			[]string{"store_id"},
		),
		lift: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricelab_experiment_lift_percent",
				Help: "Most recently computed post-vs-pre lift per experiment",
			},
			[]string{"store_id", "experiment_id", "metric"},
		),
		latest: make(map[string]map[string]bool),
	}
}

// RecordAssignments observes the deltas of a started experiment
func (o *OutcomeTracker) RecordAssignments(storeID string, assignments []api.Assignment) {
	h := o.deltas.WithLabelValues(storeID)
	for _, a := range assignments {
		h.Observe(a.DeltaPercent)
	}
}

// RecordLift exports the computable lift values of an experiment. A metric
// that is not computable drops its series instead of keeping a stale value.
func (o *OutcomeTracker) RecordLift(storeID, experimentID string, lift api.Lift) {
	set := func(metric string, v *float64) {
		if v != nil {
			o.lift.WithLabelValues(storeID, experimentID, metric).Set(*v)
		} else {
			o.lift.DeleteLabelValues(storeID, experimentID, metric)
		}
	}
	set("units", lift.UnitsPercent)
	set("revenue", lift.RevenuePercent)
	set("orders", lift.OrdersPercent)

	o.mu.Lock()
	defer o.mu.Unlock()

	exps, ok := o.latest[storeID]
	if !ok {
		exps = make(map[string]bool)
		o.latest[storeID] = exps
	}
	exps[experimentID] = lift.RevenuePercent != nil && *lift.RevenuePercent > 0
}

// OutcomeReport summarizes the latest measurement of each experiment of one store
type OutcomeReport struct {
	GeneratedAt      time.Time `json:"generated_at"`
	StoreID          string    `json:"store_id"`
	Measured         int64     `json:"measured"`
	PositiveRevenue  int64     `json:"positive_revenue"`
	PositiveRevShare float64   `json:"positive_revenue_share"`
}

func (o *OutcomeTracker) Report(storeID string) OutcomeReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := OutcomeReport{
		GeneratedAt: time.Now().UTC(),
		StoreID:     storeID,
	}
	for _, positive := range o.latest[storeID] {
		r.Measured++
		if positive {
			r.PositiveRevenue++
		}
	}
	if r.Measured > 0 {
		r.PositiveRevShare = float64(r.PositiveRevenue) / float64(r.Measured)
	}
	return r
}
