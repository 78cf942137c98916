package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/storefront-labs/pricelab/internal/app"
	"github.com/storefront-labs/pricelab/internal/config"
)

type globals struct {
	storeID string
	asJSON  bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "pricelab",
		Short: "Propose, run and measure bounded price experiments",
		Long: `pricelab drives the experiment engine directly against the configured
backends (PRICELAB_* environment variables), without going through the HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.storeID, "store", "s", "", "Store (tenant) id")
	rootCmd.PersistentFlags().BoolVar(&g.asJSON, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&g.verbose, "verbose", false, "Log engine activity to stderr")

	rootCmd.AddCommand(proposeCmd(g))
	rootCmd.AddCommand(startCmd(g))
	rootCmd.AddCommand(stopCmd(g))
	rootCmd.AddCommand(listCmd(g))
	rootCmd.AddCommand(showCmd(g))
	rootCmd.AddCommand(performanceCmd(g))
	rootCmd.AddCommand(policyCmd(g))
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}

func (g *globals) requireStore() error {
	if g.storeID == "" {
		return fmt.Errorf("--store is required")
	}
	return nil
}

// withEngine builds the engine for one command and closes it afterwards
func (g *globals) withEngine(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if err := g.requireStore(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !g.verbose {
		cfg.LogLevel = "error"
	}

	logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	return fn(ctx, a)
}

// emit prints v as JSON when --json is set, otherwise through text
func (g *globals) emit(w io.Writer, v any, text func(io.Writer)) error {
	if g.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
