package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/formrunner/internal/batch"
	"github.com/Iron-Ham/formrunner/internal/config"
)

var planCmd = &cobra.Command{
	Use:   "plan <items>",
	Short: "Show how items would be spread over sessions",
	Long: `Plan prints the session distribution for a job of the given size
without touching the store or the browser.

Examples:
  formrunner plan 25
  formrunner plan 25 --sessions 5 --batch-size 10 --sub-batch-size 4
  formrunner plan 7 --retry`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var (
	planSessions     int
	planBatchSize    int
	planSubBatchSize int
	planRetry        bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().IntVar(&planSessions, "sessions", 0, "maximum sessions (default from config)")
	planCmd.Flags().IntVar(&planBatchSize, "batch-size", 0, "items per session before another session is used (default from config)")
	planCmd.Flags().IntVar(&planSubBatchSize, "sub-batch-size", 0, "items entered per form (default from config)")
	planCmd.Flags().BoolVar(&planRetry, "retry", false, "show the balanced split used by a retry pass")
}

func runPlan(cmd *cobra.Command, args []string) error {
	var total int
	if _, err := fmt.Sscan(args[0], &total); err != nil || total < 0 {
		return fmt.Errorf("invalid item count %q: must be a non-negative integer", args[0])
	}

	cfg := config.Get()
	sessions := orDefault(planSessions, cfg.Sessions.MaxSessions)
	batchSize := orDefault(planBatchSize, cfg.Sessions.BatchSize)
	subBatch := orDefault(planSubBatchSize, cfg.Sessions.SubBatchSize)

	var counts []int
	if planRetry {
		for _, chunk := range batch.BalancedChunks(make([]struct{}, total), min(sessions, max(total, 1))) {
			counts = append(counts, len(chunk))
		}
	} else {
		counts = batch.Plan(total, sessions, batchSize)
	}
	offsets := batch.Offsets(counts)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d items over %d session(s)\n\n", total, len(counts))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tITEMS\tRANGE\tFORMS")
	for i, n := range counts {
		rng := "-"
		if n > 0 {
			rng = fmt.Sprintf("%d-%d", offsets[i], offsets[i]+n-1)
		}
		forms := n
		if !planRetry {
			forms = len(batch.SubBatches(make([]struct{}, n), subBatch))
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\n", i, n, rng, forms)
	}
	return w.Flush()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
