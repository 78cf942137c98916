// Package app builds the engine and its backends from configuration. It is
// shared by cmd/server and cmd/pricelab.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/storefront-labs/pricelab/internal/cache"
	"github.com/storefront-labs/pricelab/internal/catalog"
	"github.com/storefront-labs/pricelab/internal/config"
	"github.com/storefront-labs/pricelab/internal/database"
	"github.com/storefront-labs/pricelab/internal/eventlog"
	"github.com/storefront-labs/pricelab/internal/experiment"
	"github.com/storefront-labs/pricelab/internal/metrics"
	"github.com/storefront-labs/pricelab/internal/policy"
	"github.com/storefront-labs/pricelab/internal/reservation"
	"github.com/storefront-labs/pricelab/internal/tenant"
	"github.com/storefront-labs/pricelab/pkg/otel"
)

// App owns every long-lived component. Close releases them in reverse order
// of construction.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Policies *policy.Registry
	Tenants  *tenant.Manager
	Service  *experiment.Service

	// DB is nil unless a backend uses Postgres
	DB *database.DB

	tracer  *sdktrace.TracerProvider
	closers []func() error
}

// NewLogger builds the slog handler selected by LOG_FORMAT and LOG_LEVEL
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// New wires the engine. reg receives the Prometheus collectors.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(reg),
	}

	ready := false
	defer func() {
		if !ready {
			_ = a.Close(context.Background())
		}
	}()

	var err error

	if cfg.OTelEnabled {
		tcfg := otel.DefaultConfig("pricelab")
		tcfg.CollectorEndpoint = cfg.OTelEndpoint
		tcfg.CollectorInsecure = cfg.OTelInsecure
		tcfg.SamplingRate = cfg.OTelSampling
		if a.tracer, err = otel.InitTracer(ctx, tcfg); err != nil {
			return nil, err
		}
	}

	if cfg.UsesPostgres() {
		if a.DB, err = database.Open(ctx, cfg.PostgresConn); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.DB.Close)

		if cfg.MigrateOnStart {
			if err = Migrate(a.DB); err != nil {
				return nil, err
			}
			logger.Info("database migrations applied")
		}
	}

	store, err := a.openCatalog()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	log, err := a.openEventLog()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, log.Close)

	reservations, err := a.openReservations(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, reservations.Close)

	if a.Policies, err = policy.Load(cfg.PolicyFile); err != nil {
		return nil, err
	}
	if a.Tenants, err = newTenants(cfg, a.Policies); err != nil {
		return nil, err
	}

	experiments, err := cache.NewExperiments(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment cache: %w", err)
	}
	if experiments != nil {
		a.Metrics.WatchCache(experiments.Stats)
	}

	a.Service, err = experiment.New(experiment.Options{
		Catalog:        store,
		Log:            log,
		Reservations:   reservations,
		Policies:       a.Policies,
		Cache:          experiments,
		Metrics:        a.Metrics,
		Logger:         logger,
		ReservationTTL: cfg.ReservationTTL,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("engine ready",
		"catalog", cfg.CatalogBackend,
		"event_log", cfg.EventLogBackend,
		"reservations", cfg.ReservationBackend,
		"policy_stores", len(a.Policies.Stores()),
		"cache_size", cfg.CacheSize,
		"tracing", cfg.OTelEnabled)

	ready = true
	return a, nil
}

// Migrate applies the embedded schema
func Migrate(db *database.DB) error {
	mg, err := database.NewMigrator(db.Pool)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Up()
}

func (a *App) openCatalog() (catalog.Store, error) {
	switch a.Config.CatalogBackend {
	case config.BackendPostgres:
		return catalog.NewPostgresStore(a.DB.SQL), nil
	default:
		if a.Config.CatalogFixture == "" {
			a.Logger.Warn("memory catalog has no fixture; every store is empty")
			return catalog.NewMemoryStore(), nil
		}
		return catalog.LoadFixture(a.Config.CatalogFixture)
	}
}

func (a *App) openEventLog() (eventlog.Log, error) {
	switch a.Config.EventLogBackend {
	case config.BackendPostgres:
		return eventlog.NewPostgresLog(a.DB.SQL), nil
	case config.BackendMemory:
		a.Logger.Warn("memory event log: experiments are lost on exit")
		return eventlog.NewMemoryLog(), nil
	default:
		return eventlog.OpenFileLog(a.Config.EventLogDir)
	}
}

func (a *App) openReservations(ctx context.Context) (reservation.Store, error) {
	switch a.Config.ReservationBackend {
	case config.BackendRedis:
		return reservation.NewRedisStore(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	case config.BackendPostgres:
		store := reservation.NewPostgresStore(a.DB.Pool)
		pruned, err := store.CleanupExpired(ctx)
		if err != nil {
			return nil, err
		}
		if pruned > 0 {
			a.Logger.Info("pruned expired reservations", "count", pruned)
		}
		return store, nil
	default:
		return reservation.NewMemoryStore(a.Config.ReservationFile)
	}
}

// newTenants applies the default request budget, every store policy that
// sets its own limits and every suspended store
func newTenants(cfg *config.Config, policies *policy.Registry) (*tenant.Manager, error) {
	tenants := tenant.NewManager(cfg.RequestRate, cfg.RequestBurst)

	for _, id := range policies.Stores() {
		pol := policies.For(id)
		suspended := pol.Enabled(policy.FlagSuspended)
		if pol.Limits == nil && !suspended {
			continue
		}

		store := &tenant.Store{
			ID:        id,
			TokenRate: cfg.RequestRate,
			BurstRate: cfg.RequestBurst,
			Active:    true,
		}
		if pol.Limits != nil {
			store.TokenRate = pol.Limits.RequestsPerSecond
			store.BurstRate = pol.Limits.Burst
			store.DailyQuota = pol.Limits.DailyQuota
		}
		if err := tenants.Register(store); err != nil {
			return nil, fmt.Errorf("failed to register limits for store %s: %w", id, err)
		}
		if suspended {
			if err := tenants.Deactivate(id); err != nil {
				return nil, fmt.Errorf("failed to suspend store %s: %w", id, err)
			}
		}
	}

	return tenants, nil
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if err := otel.Shutdown(ctx, a.tracer); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	a.tracer = nil

	return errors.Join(errs...)
}
