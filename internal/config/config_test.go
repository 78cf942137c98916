package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.CatalogBackend)
	assert.Equal(t, BackendFile, cfg.EventLogBackend)
	assert.Equal(t, "data/events", cfg.EventLogDir)
	assert.Equal(t, BackendMemory, cfg.ReservationBackend)
	assert.Equal(t, 256, cfg.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, time.Duration(0), cfg.ReservationTTL)
	assert.Equal(t, 50.0, cfg.RequestRate)
	assert.Equal(t, 100, cfg.RequestBurst)
	assert.True(t, cfg.AuthRequireVerified)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PRICELAB_PORT", "9090")
	t.Setenv("PRICELAB_EVENT_LOG_BACKEND", "postgres")
	t.Setenv("PRICELAB_POSTGRES_CONN", "postgres://localhost/pricelab")
	t.Setenv("PRICELAB_RESERVATION_TTL", "36h")
	t.Setenv("PRICELAB_CACHE_SIZE", "0")
	t.Setenv("PRICELAB_REQUEST_RATE", "2.5")
	t.Setenv("PRICELAB_LOG_LEVEL", "debug")
	t.Setenv("PRICELAB_AUTH_REQUIRE_VERIFIED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, 36*time.Hour, cfg.ReservationTTL)
	assert.Equal(t, 0, cfg.CacheSize)
	assert.Equal(t, 2.5, cfg.RequestRate)
	assert.False(t, cfg.AuthRequireVerified)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown catalog", map[string]string{"PRICELAB_CATALOG_BACKEND": "mysql"}, "CATALOG_BACKEND"},
		{"unknown log backend", map[string]string{"PRICELAB_EVENT_LOG_BACKEND": "kafka"}, "EVENT_LOG_BACKEND"},
		{"redis catalog", map[string]string{"PRICELAB_CATALOG_BACKEND": "redis"}, "CATALOG_BACKEND"},
		{"postgres without conn", map[string]string{"PRICELAB_RESERVATION_BACKEND": "postgres"}, "POSTGRES_CONN"},
		{"negative cache", map[string]string{"PRICELAB_CACHE_SIZE": "-1"}, "CACHE_SIZE"},
		{"sampling above one", map[string]string{"PRICELAB_OTEL_SAMPLING": "1.5"}, "OTEL_SAMPLING"},
		{"bad level", map[string]string{"PRICELAB_LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"bad format", map[string]string{"PRICELAB_LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"bad duration", map[string]string{"PRICELAB_CACHE_TTL": "soon"}, "CACHE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
