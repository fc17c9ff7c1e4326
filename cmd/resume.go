package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/policyfit/internal/store"
	"github.com/cwbudde/policyfit/internal/trainer"
)

var (
	resumeDataDir     string
	resumeGenerations int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Restores the checkpointed policy and counters for a run and continues
training for the remaining generation budget. --generations raises the
budget of the resumed run.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for run artifacts")
	resumeCmd.Flags().IntVar(&resumeGenerations, "generations", 0, "New generation budget (0 = keep checkpoint value)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	fs, index, err := openDataDir(resumeDataDir)
	if err != nil {
		return err
	}
	if fs == nil {
		return fmt.Errorf("--data-dir is required")
	}
	defer index.Close()

	checkpoint, err := fs.LoadCheckpoint(runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint for run %s", runID)
		}
		return err
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint for run %s is not restorable: %w", runID, err)
	}

	cfg := checkpoint.Config
	if resumeGenerations > 0 {
		cfg.Generations = resumeGenerations
	}
	if err := checkpoint.IsCompatible(cfg); err != nil {
		return err
	}
	if checkpoint.Generation >= cfg.Generations {
		fmt.Printf("Run %s already completed %d of %d generations; nothing to do.\n",
			runID, checkpoint.Generation, cfg.Generations)
		return nil
	}

	setup, err := trainer.NewSetup(cfg)
	if err != nil {
		return err
	}
	if setup.Mayfly != nil {
		return fmt.Errorf("mayfly runs cannot be resumed")
	}
	if err := setup.Policy.Restore(checkpoint.Params); err != nil {
		return fmt.Errorf("failed to restore checkpoint parameters: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Resuming run",
		"run_id", runID,
		"generation", checkpoint.Generation,
		"generations", cfg.Generations,
		"best_reward", checkpoint.BestReward,
	)

	tr, err := trainer.New(trainer.Config{
		Strategy: setup.Strategy,
		Policy:   setup.Policy,
		Run:      cfg,
		Store:    fs,
		Index:    index,
		Resume:   checkpoint,
	})
	if err != nil {
		return err
	}

	result, err := tr.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && result != nil {
			fmt.Printf("Interrupted at generation %d (best reward: %.3f)\n", result.Generations, result.BestReward)
			return nil
		}
		return err
	}

	fmt.Printf("Run %s resumed to %d generations: best reward %.3f (gen %d), final %.3f, %s\n",
		result.RunID, result.Generations, result.BestReward, result.BestGeneration,
		result.FinalReward, result.Elapsed.Round(time.Millisecond))
	return nil
}
