package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sergeeey/TERAG111-sub002/internal/advisor"
	"github.com/sergeeey/TERAG111-sub002/internal/detector"
	"github.com/sergeeey/TERAG111-sub002/internal/fingerprint"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

const defaultRunsLimit = 20

func newRunCommand(g *globals) *cobra.Command {
	var (
		threshold float64
		live      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the optimizer once",
		Long:  "Detect slow operations, suggest indexes and, with --live, create them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = g.app.Config.ThresholdMs
			}
			dryRun := g.app.Config.DryRun
			if cmd.Flags().Changed("live") {
				dryRun = !live
			}

			report, err := g.app.Optimizer.Run(cmd.Context(), threshold, dryRun)
			if err != nil {
				return err
			}
			if g.asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Slow operation threshold in milliseconds (default from config)")
	cmd.Flags().BoolVar(&live, "live", false, "Create indexes instead of only suggesting them")
	return cmd
}

func newDetectCommand(g *globals) *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List slow operations without suggesting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = g.app.Config.ThresholdMs
			}
			if threshold < 0 {
				return fmt.Errorf("--threshold must not be negative")
			}

			ops := detector.Collect(g.app.Detector.Detect(cmd.Context(), threshold))
			if g.asJSON {
				if ops == nil {
					ops = []models.SlowOperation{}
				}
				return printJSON(cmd.OutOrStdout(), ops)
			}

			w := cmd.OutOrStdout()
			if len(ops) == 0 {
				fmt.Fprintln(w, "No slow operations found.")
				return nil
			}
			for _, op := range ops {
				fmt.Fprintf(w, "%8.1fms  [%s]  %s\n", op.DurationMs, op.Source, op.OperationText)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Slow operation threshold in milliseconds (default from config)")
	return cmd
}

func newShapesCommand(g *globals) *cobra.Command {
	var (
		threshold float64
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "shapes",
		Short: "Group slow operations by query shape, most total time first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = g.app.Config.ThresholdMs
			}
			if threshold < 0 {
				return fmt.Errorf("--threshold must not be negative")
			}

			shapes := fingerprint.Summarize(g.app.Detector.Detect(cmd.Context(), threshold), fingerprint.DefaultConfig())
			if limit > 0 && len(shapes) > limit {
				shapes = shapes[:limit]
			}
			if g.asJSON {
				if shapes == nil {
					shapes = []fingerprint.Shape{}
				}
				return printJSON(cmd.OutOrStdout(), shapes)
			}

			w := cmd.OutOrStdout()
			if len(shapes) == 0 {
				fmt.Fprintln(w, "No slow operations found.")
				return nil
			}
			for _, s := range shapes {
				fmt.Fprintf(w, "%10.1fms total  %5dx  max %8.1fms  %s\n", s.TotalMs, s.Count, s.MaxMs, s.Template)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Slow operation threshold in milliseconds (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max shapes to show (0 for all)")
	return cmd
}

func newAdviseCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "advise <operation>",
		Short: "Show the index suggestion for one operation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := strings.Join(args, " ")
			w := cmd.OutOrStdout()

			switch res := advisor.Analyze(op).(type) {
			case advisor.Recognized:
				sug := models.NewSuggestion(res.Label, res.Property, op)
				if g.asJSON {
					return printJSON(w, sug)
				}
				fmt.Fprintf(w, "Suggest index %s on :%s(%s) [%s filter]\n", sug.IndexName(), sug.TargetLabel, sug.TargetProperty, res.Operator)
			case advisor.Unrecognized:
				if g.asJSON {
					return printJSON(w, map[string]string{"reason": string(res.Reason)})
				}
				fmt.Fprintf(w, "No suggestion: %s\n", res.Reason)
			}
			return nil
		},
	}
}

func newLedgerCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "List indexes created so far",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := g.app.Store.ListLedger(cmd.Context())
			if err != nil {
				return err
			}
			if g.asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "Ledger is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.CanonicalKey)
			}
			return nil
		},
	}
}

func newBreakerCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "breaker",
		Short: "Show the index-apply breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := g.app.Breaker.Snapshot()
			if g.asJSON {
				return printJSON(cmd.OutOrStdout(), snap)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %s (%d/%d failures, cooldown %s)\n",
				snap.Name, snap.State, snap.FailureCount, snap.FailureThreshold, snap.Cooldown)
			if snap.LastFailureAt != nil {
				fmt.Fprintf(w, "last failure at %s\n", snap.LastFailureAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newRunsCommand(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent optimizer runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := g.app.Store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if g.asJSON {
				return printJSON(cmd.OutOrStdout(), runs)
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(w, "%s  %s  %-7s detected=%d suggested=%d applied=%d failed=%d skipped=%d\n",
					r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, mode(r.DryRun),
					r.DetectedCount, len(r.Suggested), len(r.Applied), r.Failed, r.BreakerSkipped)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultRunsLimit, "Max runs to show")
	return cmd
}

func mode(dryRun bool) string {
	if dryRun {
		return "dry-run"
	}
	return "live"
}

func printReport(w io.Writer, r *models.RunReport) {
	fmt.Fprintf(w, "Run %s (%s, threshold %vms)\n", r.ID, mode(r.DryRun), r.ThresholdMs)
	fmt.Fprintf(w, "  detected: %d\n", r.DetectedCount)
	for _, s := range r.Suggested {
		status := "suggested"
		if s.Applied {
			status = "applied"
		}
		fmt.Fprintf(w, "  %-9s %s\n", status, s.CanonicalKey)
	}
	if r.Failed > 0 || r.BreakerSkipped > 0 {
		fmt.Fprintf(w, "  failed: %d, skipped by breaker: %d\n", r.Failed, r.BreakerSkipped)
	}
	fmt.Fprintf(w, "  breaker: %s\n", r.BreakerState)
}
