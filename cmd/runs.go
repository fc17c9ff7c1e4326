package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/policyfit/internal/store"
)

var (
	runsDataDir string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded training runs",
	Long:  `Lists the runs recorded in the local run index, most recent first.`,
	RunE:  runListRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory for run artifacts")
	rootCmd.AddCommand(runsCmd)
}

// indexPath locates the run index database inside a data directory.
func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "runs.db")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	index := store.NewRunIndex(indexPath(runsDataDir))
	if err := index.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to open run index: %w", err)
	}
	defer index.Close()

	records, err := index.ListRuns(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tENV\tSTRATEGY\tGENERATIONS\tBEST REWARD\tFINISHED")
	fmt.Fprintln(w, "------\t---\t--------\t-----------\t-----------\t--------")

	for _, record := range records {
		displayID := record.RunID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3f\t%s\n",
			displayID,
			record.Env,
			record.Strategy,
			record.Generations,
			record.BestReward,
			humanize.Time(record.FinishedAt),
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(records))
	return nil
}
