package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/internal/app"
)

type guardrailFlags struct {
	min, max    float64
	maxVariants int
}

func (f *guardrailFlags) register(cmd *cobra.Command) {
	d := api.DefaultGuardrails()
	cmd.Flags().Float64Var(&f.min, "min-delta", d.MinDeltaPercent, "Lowest allowed price change in percent")
	cmd.Flags().Float64Var(&f.max, "max-delta", d.MaxDeltaPercent, "Highest allowed price change in percent")
	cmd.Flags().IntVar(&f.maxVariants, "max-variants", d.MaxVariants, "Maximum number of variants")
}

// input only carries flags the user actually set
func (f *guardrailFlags) input(cmd *cobra.Command) *api.GuardrailsInput {
	var in api.GuardrailsInput
	set := false
	if cmd.Flags().Changed("min-delta") {
		in.MinDeltaPercent = &f.min
		set = true
	}
	if cmd.Flags().Changed("max-delta") {
		in.MaxDeltaPercent = &f.max
		set = true
	}
	if cmd.Flags().Changed("max-variants") {
		in.MaxVariants = &f.maxVariants
		set = true
	}
	if !set {
		return nil
	}
	return &in
}

func proposeCmd(g *globals) *cobra.Command {
	var gf guardrailFlags

	cmd := &cobra.Command{
		Use:   "propose [variant-id...]",
		Short: "Show proposed price changes without applying them",
		Long: `Computes assignments for the given variants, or for the store's top
sellers when none are given. Prices are not changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Propose(ctx, g.storeID, api.ProposalRequest{
					VariantIDs: args,
					Guardrails: gf.input(cmd),
				})
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					printGuardrails(w, res.Guardrails)
					printAssignments(w, res.Assignments)
					printWarnings(w, res.Warnings)
				})
			})
		},
	}
	gf.register(cmd)

	return cmd
}

func startCmd(g *globals) *cobra.Command {
	var (
		gf      guardrailFlags
		name    string
		noApply bool
	)

	cmd := &cobra.Command{
		Use:   "start <experiment-id> [variant-id...]",
		Short: "Start an experiment and apply its prices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				req := api.StartRequest{
					ExperimentID: args[0],
					Name:         name,
					VariantIDs:   args[1:],
					Guardrails:   gf.input(cmd),
				}
				if noApply {
					autoApply := false
					req.AutoApply = &autoApply
				}

				res, err := a.Service.Start(ctx, g.storeID, req)
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Started %s (%s) at %s\n", res.ExperimentID, res.Name, res.StartedAt)
					fmt.Fprintf(w, "Assignments: %d, applied: %d, auto-apply: %t\n",
						res.AssignmentCount, res.AppliedCount, res.AutoApply)
					printAssignments(w, res.Assignments)
					printWarnings(w, res.Warnings)
				})
			})
		},
	}
	gf.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")
	cmd.Flags().BoolVar(&noApply, "no-apply", false, "Record the experiment without changing prices")

	return cmd
}

func stopCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <experiment-id>",
		Short: "Stop an experiment and restore baseline prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Stop(ctx, g.storeID, args[0])
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Stopped %s at %s, restored %d prices\n",
						res.ExperimentID, res.StoppedAt, res.RestoredCount)
				})
			})
		},
	}
}

func listCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Service.List(ctx, g.storeID, limit)
				if err != nil {
					return err
				}
				if items == nil {
					items = []api.ExperimentSummary{}
				}
				return g.emit(cmd.OutOrStdout(), items, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSTARTED\tVARIANTS\tMEAN DELTA")
					for _, e := range items {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%+.2f%%\n",
							e.ID, e.Name, e.Status, e.StartedAt, e.AssignmentCount, e.MeanDeltaPercent)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of experiments (at most 100)")

	return cmd
}

func showCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <experiment-id>",
		Short: "Show one experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				exp, err := a.Service.Get(ctx, g.storeID, args[0])
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), exp, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s): %s\n", exp.ID, exp.Name, exp.Status)
					fmt.Fprintf(w, "Started: %s\n", exp.StartedAt)
					if exp.StoppedAt != nil {
						fmt.Fprintf(w, "Stopped: %s\n", *exp.StoppedAt)
					}
					fmt.Fprintf(w, "Auto-apply: %t, applied: %d\n", exp.AutoApply, exp.AppliedCount)
					if exp.PolicyHash != "" {
						fmt.Fprintf(w, "Policy: %s\n", exp.PolicyHash)
					}
					printGuardrails(w, exp.Guardrails)
					printAssignments(w, exp.Assignments)
				})
			})
		},
	}
}

func performanceCmd(g *globals) *cobra.Command {
	var windowDays int

	cmd := &cobra.Command{
		Use:   "performance <experiment-id>",
		Short: "Compare sales before and after an experiment started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Performance(ctx, g.storeID, args[0], windowDays)
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Experiment %s, %d-day baseline\n", res.ExperimentID, res.WindowDays)
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "\tUNITS\tREVENUE\tORDERS")
					fmt.Fprintf(tw, "pre\t%d\t%.2f\t%d\n", res.Pre.Units, res.Pre.Revenue, res.Pre.Orders)
					fmt.Fprintf(tw, "post\t%d\t%.2f\t%d\n", res.Post.Units, res.Post.Revenue, res.Post.Orders)
					fmt.Fprintf(tw, "lift\t%s\t%s\t%s\n",
						formatLift(res.Lift.UnitsPercent),
						formatLift(res.Lift.RevenuePercent),
						formatLift(res.Lift.OrdersPercent))
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVar(&windowDays, "window-days", 14, "Baseline window in days (3-60)")

	return cmd
}

func policyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show the guardrail policy that applies to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, a *app.App) error {
				p := a.Policies.For(g.storeID)
				hash, err := p.Hash()
				if err != nil {
					return err
				}
				out := map[string]any{"store_id": g.storeID, "policy": p, "hash": hash}
				return g.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "Policy %s for store %s (%s)\n", p.Version, g.storeID, hash)
					fmt.Fprintf(w, "Delta range: %+.2f%% .. %+.2f%%, max variants: %d\n",
						p.MinDeltaPercent, p.MaxDeltaPercent, p.MaxVariants)
					for flag, on := range p.Flags {
						if on {
							fmt.Fprintf(w, "Flag: %s\n", flag)
						}
					}
				})
			})
		},
	}
}

func printGuardrails(w io.Writer, g api.Guardrails) {
	fmt.Fprintf(w, "Guardrails: %+.2f%% .. %+.2f%%, max %d variants\n",
		g.MinDeltaPercent, g.MaxDeltaPercent, g.MaxVariants)
}

func printAssignments(w io.Writer, assignments []api.Assignment) {
	if len(assignments) == 0 {
		fmt.Fprintln(w, "No assignments")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tBASELINE\tPROPOSED\tDELTA\tRATIONALE")
	for _, a := range assignments {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%+.2f%%\t%s\n",
			a.VariantID, a.BaselinePrice, a.ProposedPrice, a.DeltaPercent, a.Rationale)
	}
	tw.Flush()
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
}

func formatLift(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", *v)
}

