package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefront-labs/pricelab/internal/config"
	"github.com/storefront-labs/pricelab/internal/database"
)

func migrateCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the event log and reservation schema",
		Long:      `Applies the embedded SQL migrations to PRICELAB_POSTGRES_CONN.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			if action != "up" && action != "down" && action != "version" {
				return fmt.Errorf("unknown migrate action %q", action)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := database.Open(cmd.Context(), cfg.PostgresConn)
			if err != nil {
				return err
			}
			defer db.Close()

			mg, err := database.NewMigrator(db.Pool)
			if err != nil {
				return err
			}
			defer mg.Close()

			out := cmd.OutOrStdout()
			switch action {
			case "up":
				if steps > 0 {
					err = mg.Steps(steps)
				} else {
					err = mg.Up()
				}
			case "down":
				if steps > 0 {
					err = mg.Steps(-steps)
				} else {
					err = mg.Down()
				}
			}
			if err != nil {
				return err
			}

			version, dirty, err := mg.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Schema version: %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply or roll back (0 = all)")

	return cmd
}
