package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront-labs/pricelab/internal/app"
	"github.com/storefront-labs/pricelab/internal/config"
	"github.com/storefront-labs/pricelab/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	engine, err := app.New(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	auth := httpapi.DefaultAuthConfig()
	auth.RequireVerified = cfg.AuthRequireVerified
	if !auth.RequireVerified {
		logger.Warn("gateway verification disabled; X-Store-ID is trusted as sent")
	}

	handler := httpapi.NewRouter(
		httpapi.NewHandler(engine.Service, engine.Metrics, logger),
		httpapi.RouterConfig{
			Auth:           auth,
			Tenants:        engine.Tenants,
			Metrics:        engine.Metrics,
			MetricsHandler: httpapi.BasicAuth(promhttp.Handler(), cfg.MetricsUser, cfg.MetricsPass),
		},
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// in-flight requests are done; the event log can be closed safely
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("error closing engine", "error", err)
	}

	logger.Info("server stopped")
}
