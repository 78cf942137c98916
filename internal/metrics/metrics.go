package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/storefront-labs/pricelab/internal/cache"
)

// Metrics holds all Prometheus collectors for the engine.
// Engine series are labeled by store.
type Metrics struct {
	Proposals            *prometheus.CounterVec
	ProposedAssignments  *prometheus.CounterVec
	ProposalWarnings     *prometheus.CounterVec
	ExperimentsStarted   *prometheus.CounterVec
	ExperimentsStopped   *prometheus.CounterVec
	VariantsApplied      *prometheus.CounterVec
	VariantsRestored     *prometheus.CounterVec
	MutationErrors       *prometheus.CounterVec
	ReservationConflicts *prometheus.CounterVec
	CacheHits            *prometheus.CounterVec
	QuotaExceeded        *prometheus.CounterVec
	StoreRequestsToday   *prometheus.GaugeVec
	RecordsScanned       *prometheus.HistogramVec
	HTTPRequests         *prometheus.CounterVec

	Outcomes *OutcomeTracker

	factory promauto.Factory
}

// New creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer in the server, a fresh registry in tests)
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{

		Proposals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_proposals_total",
				Help: "Number of proposals computed (including those made by start)",
			},
			[]string{"store_id"},
		),
		ProposedAssignments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_proposed_assignments_total",
				Help: "Number of assignments returned by proposals",
			},
			[]string{"store_id"},
		),
		ProposalWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_proposal_warnings_total",
				Help: "Number of warnings attached to proposals",
			},
			[]string{"store_id"},
		),
		ExperimentsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_experiments_started_total",
				Help: "Number of experiments started",
			},
			[]string{"store_id"},
		),
		ExperimentsStopped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_experiments_stopped_total",
				Help: "Number of experiments stopped",
			},
			[]string{"store_id"},
		),
		VariantsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_variants_applied_total",
				Help: "Number of variant prices changed to a proposed price",
			},
			[]string{"store_id"},
		),
		VariantsRestored: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_variants_restored_total",
				Help: "Number of variant prices restored to baseline",
			},
			[]string{"store_id"},
		),
		MutationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_mutation_errors_total",
				Help: "Number of apply/restore runs aborted by a store error",
			},
			[]string{"store_id", "phase"},
		),
		ReservationConflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_reservation_conflicts_total",
				Help: "Number of starts rejected because the experiment id was taken",
			},
			[]string{"store_id"},
		),
		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_experiment_cache_hits_total",
				Help: "Number of experiment lookups served from the stopped-experiment cache",
			},
			[]string{"store_id"},
		),
		QuotaExceeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_quota_exceeded_total",
				Help: "Number of requests rejected by the per-store rate limit",
			},
			[]string{"store_id"},
		),
		StoreRequestsToday: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricelab_store_requests_today",
				Help: "Requests admitted for the store since its daily counter last reset",
			},
			[]string{"store_id"},
		),
		RecordsScanned: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricelab_log_records_scanned",
				Help:    "Event log records read per reconstruction",
				Buckets: prometheus.ExponentialBuckets(1, 4, 7),
			},
			[]string{"store_id", "op"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricelab_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		Outcomes: newOutcomeTracker(f),
		factory:  f,
	}
}

// WatchCache exports the experiment cache counters, read from stats on
// every scrape
func (m *Metrics) WatchCache(stats func() cache.Stats) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pricelab_experiment_cache_entries",
		Help: "Stopped experiments currently held in the cache",
	}, func() float64 { return float64(stats().Size) })

	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "pricelab_experiment_cache_misses_total",
		Help: "Experiment cache lookups that fell through to the event log",
	}, func() float64 { return float64(stats().Misses) })

	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "pricelab_experiment_cache_evictions_total",
		Help: "Experiments evicted from a full cache",
	}, func() float64 { return float64(stats().Evicted) })
}
