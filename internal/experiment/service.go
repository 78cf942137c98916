package experiment

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/internal/cache"
	"github.com/storefront-labs/pricelab/internal/catalog"
	"github.com/storefront-labs/pricelab/internal/eventlog"
	"github.com/storefront-labs/pricelab/internal/metrics"
	"github.com/storefront-labs/pricelab/internal/policy"
	"github.com/storefront-labs/pricelab/internal/reservation"
)

const tracerName = "github.com/storefront-labs/pricelab/internal/experiment"

// Scan bounds for reconstructing experiments from the event log
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	listScanFactor   = 20
	getScanLimit     = 2000
)

// Performance window bounds, in days
const (
	DefaultWindowDays = 14
	MinWindowDays     = 3
	MaxWindowDays     = 60
)

var eventTypes = []string{api.EventExperimentStarted, api.EventExperimentStopped}

// Options wires a Service. Catalog and Log are required.
type Options struct {
	Catalog      catalog.Store
	Log          eventlog.Log
	Reservations reservation.Store
	Policies     *policy.Registry
	Cache        *cache.Experiments
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// ReservationTTL bounds how long an experiment id stays claimed; 0 = forever
	ReservationTTL time.Duration

	Now func() time.Time
}

// Service proposes, starts, stops and measures pricing experiments for any
// number of stores. It holds no experiment state of its own: everything is
// reconstructed from the event log.
type Service struct {
	catalog        catalog.Store
	log            eventlog.Log
	reservations   reservation.Store
	policies       *policy.Registry
	cache          *cache.Experiments
	metrics        *metrics.Metrics
	logger         *slog.Logger
	reservationTTL time.Duration
	now            func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, errors.New("experiment: catalog is required")
	}
	if opts.Log == nil {
		return nil, errors.New("experiment: event log is required")
	}

	s := &Service{
		catalog:        opts.Catalog,
		log:            opts.Log,
		reservations:   opts.Reservations,
		policies:       opts.Policies,
		cache:          opts.Cache,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		reservationTTL: opts.ReservationTTL,
		now:            opts.Now,
	}

	if s.reservations == nil {
		rs, err := reservation.NewMemoryStore("")
		if err != nil {
			return nil, err
		}
		s.reservations = rs
	}
	if s.policies == nil {
		reg, err := policy.NewRegistry(nil)
		if err != nil {
			return nil, err
		}
		s.policies = reg
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}
