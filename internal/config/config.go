// Package config loads pricelab settings from PRICELAB_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const Prefix = "PRICELAB"

// Backend names accepted by the *_BACKEND variables
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	CatalogBackend     string `envconfig:"CATALOG_BACKEND" default:"memory"`
	CatalogFixture     string `envconfig:"CATALOG_FIXTURE"`
	EventLogBackend    string `envconfig:"EVENT_LOG_BACKEND" default:"file"`
	EventLogDir        string `envconfig:"EVENT_LOG_DIR" default:"data/events"`
	ReservationBackend string `envconfig:"RESERVATION_BACKEND" default:"memory"`
	ReservationFile    string `envconfig:"RESERVATION_SNAPSHOT"`

	PostgresConn   string `envconfig:"POSTGRES_CONN"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// ReservationTTL of zero keeps ids reserved forever
	ReservationTTL time.Duration `envconfig:"RESERVATION_TTL" default:"0s"`

	CacheSize int           `envconfig:"CACHE_SIZE" default:"256"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	PolicyFile string `envconfig:"POLICY_FILE"`

	RequestRate  float64 `envconfig:"REQUEST_RATE" default:"50"`
	RequestBurst int     `envconfig:"REQUEST_BURST" default:"100"`

	MetricsUser string `envconfig:"METRICS_USER"`
	MetricsPass string `envconfig:"METRICS_PASS"`

	AuthRequireVerified bool `envconfig:"AUTH_REQUIRE_VERIFIED" default:"true"`

	OTelEnabled  bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint string  `envconfig:"OTEL_ENDPOINT" default:"localhost:4317"`
	OTelInsecure bool    `envconfig:"OTEL_INSECURE" default:"true"`
	OTelSampling float64 `envconfig:"OTEL_SAMPLING" default:"1.0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the environment and validates the result
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := oneOf("CATALOG_BACKEND", c.CatalogBackend, BackendMemory, BackendPostgres); err != nil {
		return err
	}
	if err := oneOf("EVENT_LOG_BACKEND", c.EventLogBackend, BackendMemory, BackendFile, BackendPostgres); err != nil {
		return err
	}
	if err := oneOf("RESERVATION_BACKEND", c.ReservationBackend, BackendMemory, BackendRedis, BackendPostgres); err != nil {
		return err
	}
	if c.UsesPostgres() && c.PostgresConn == "" {
		return fmt.Errorf("%s_POSTGRES_CONN is required for the postgres backend", Prefix)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%s_CACHE_SIZE must not be negative", Prefix)
	}
	if c.ReservationTTL < 0 {
		return fmt.Errorf("%s_RESERVATION_TTL must not be negative", Prefix)
	}
	if c.OTelSampling < 0 || c.OTelSampling > 1 {
		return fmt.Errorf("%s_OTEL_SAMPLING must be within [0, 1], got %v", Prefix, c.OTelSampling)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return oneOf("LOG_FORMAT", c.LogFormat, "json", "text")
}

// UsesPostgres reports whether any backend needs the Postgres pool
func (c *Config) UsesPostgres() bool {
	return c.CatalogBackend == BackendPostgres ||
		c.EventLogBackend == BackendPostgres ||
		c.ReservationBackend == BackendPostgres
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%s_LOG_LEVEL: %w", Prefix, err)
	}
	return level, nil
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("unknown %s_%s %q (want %s)", Prefix, name, value, strings.Join(allowed, ", "))
}
