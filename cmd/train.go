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

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"

	"github.com/cwbudde/policyfit/internal/store"
	"github.com/cwbudde/policyfit/internal/trainer"
)

var (
	trainConfigPath string
	trainDataDir    string
	trainRunID      string
	trainQuiet      bool

	trainEnv         string
	trainStrategy    string
	trainGenerations int
	trainEpisodes    int
	trainSeed        int64
	trainHidden      int
	trainActivation  string
	trainMaxSteps    int

	trainStd       float64
	trainPop       int
	trainLR        float64
	trainPairSeed  bool
	trainNormalize bool
	trainIncumbent bool
	trainWorkers   int
	trainBound     float64

	trainCheckpointEvery int
	trainPatience        int
	trainThreshold       float64
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a training run",
	Long: `Trains a policy on the chosen environment with the chosen strategy.
Progress is printed live; checkpoints and metrics land under --data-dir.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainConfigPath, "config", "", "YAML run configuration (flags override file values)")
	trainCmd.Flags().StringVar(&trainDataDir, "data-dir", "./data", "Base directory for run artifacts (empty = in-memory only)")
	trainCmd.Flags().StringVar(&trainRunID, "run-id", "", "Run identifier (generated when empty)")
	trainCmd.Flags().BoolVarP(&trainQuiet, "quiet", "q", false, "Disable the live progress line")

	trainCmd.Flags().StringVar(&trainEnv, "env", "cartpole", "Environment name")
	trainCmd.Flags().StringVar(&trainStrategy, "strategy", "population", "Strategy: population, zeroth-order, mayfly")
	trainCmd.Flags().IntVar(&trainGenerations, "generations", 100, "Generation budget")
	trainCmd.Flags().IntVar(&trainEpisodes, "episodes", 5, "Evaluation episodes per candidate")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 42, "Random seed (<= 0 for wall-clock)")
	trainCmd.Flags().IntVar(&trainHidden, "hidden", 128, "Hidden layer width")
	trainCmd.Flags().StringVar(&trainActivation, "activation", "tanh", "Hidden activation: tanh, relu")
	trainCmd.Flags().IntVar(&trainMaxSteps, "max-steps", 0, "Episode step limit (0 = environment default)")

	trainCmd.Flags().Float64Var(&trainStd, "std", 0.02, "Perturbation standard deviation")
	trainCmd.Flags().IntVar(&trainPop, "pop", 20, "Population size")
	trainCmd.Flags().Float64Var(&trainLR, "lr", 0.02, "Zeroth-order learning rate")
	trainCmd.Flags().BoolVar(&trainPairSeed, "shared-pair-seed", false, "Evaluate antithetic pairs on shared episode seeds")
	trainCmd.Flags().BoolVar(&trainNormalize, "normalize-grad", false, "Normalize the zeroth-order gradient estimate")
	trainCmd.Flags().BoolVar(&trainIncumbent, "include-incumbent", false, "Re-evaluate the incumbent alongside candidates")
	trainCmd.Flags().IntVar(&trainWorkers, "workers", 1, "Parallel evaluation workers")
	trainCmd.Flags().Float64Var(&trainBound, "bound", 1.0, "Mayfly parameter bound")

	trainCmd.Flags().IntVar(&trainCheckpointEvery, "checkpoint-interval", 30, "Checkpoint every N seconds (0 = final only)")
	trainCmd.Flags().IntVar(&trainPatience, "patience", 0, "Stop after N generations without reward improvement (0 = off)")
	trainCmd.Flags().Float64Var(&trainThreshold, "improvement-threshold", 0.001, "Relative improvement counted as progress")

	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig(cmd)
	if err != nil {
		return err
	}

	setup, err := trainer.NewSetup(*cfg)
	if err != nil {
		return err
	}

	fs, index, err := openDataDir(trainDataDir)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting training", "env", cfg.Env, "strategy", cfg.Strategy, "generations", cfg.Generations)

	// Mayfly runs its own search loop and reports once at the end.
	if setup.Mayfly != nil {
		start := time.Now()
		reward, err := setup.Mayfly.Search(setup.Policy)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		if fs != nil {
			runID := trainRunID
			if runID == "" {
				runID = fmt.Sprintf("mayfly-%d", start.Unix())
			}
			if err := fs.SaveSnapshot(runID, setup.Policy.Params()); err != nil {
				return fmt.Errorf("failed to save snapshot: %w", err)
			}
			fmt.Printf("Snapshot written to %s\n", fs.RunDir(runID))
		}
		fmt.Printf("Mayfly search finished (best reward: %.3f, %s)\n", reward, elapsed.Round(time.Millisecond))
		return nil
	}

	var progress *uilive.Writer
	var onProgress func(trainer.Progress)
	stopProgress := func() {
		if progress != nil {
			progress.Stop()
			progress = nil
		}
	}
	defer stopProgress()
	if !trainQuiet {
		progress = uilive.New()
		progress.Start()
		onProgress = func(p trainer.Progress) {
			gps := float64(0)
			if p.Elapsed.Seconds() > 0 {
				gps = float64(p.Generation) / p.Elapsed.Seconds()
			}
			fmt.Fprintf(progress, "gen %d/%d  reward %.3f  best %.3f  %.1f gen/s\n",
				p.Generation, cfg.Generations, p.Reward, p.BestReward, gps)
		}
	}

	tr, err := trainer.New(trainer.Config{
		RunID:      trainRunID,
		Strategy:   setup.Strategy,
		Policy:     setup.Policy,
		Run:        *cfg,
		Store:      fs,
		Index:      index,
		OnProgress: onProgress,
	})
	if err != nil {
		return err
	}

	result, err := tr.Run(ctx)
	stopProgress()
	if err != nil {
		if errors.Is(err, context.Canceled) && result != nil {
			fmt.Printf("Interrupted at generation %d (best reward: %.3f)\n", result.Generations, result.BestReward)
			return nil
		}
		return err
	}

	fmt.Printf("Run %s finished: %d generations, best reward %.3f (gen %d), final %.3f, %s\n",
		result.RunID, result.Generations, result.BestReward, result.BestGeneration,
		result.FinalReward, result.Elapsed.Round(time.Millisecond))
	if result.Converged {
		fmt.Println("Stopped early: reward plateaued.")
	}
	return nil
}

// buildRunConfig merges the optional config file with command-line flags.
// Flags the user set explicitly win over file values.
func buildRunConfig(cmd *cobra.Command) (*store.RunConfig, error) {
	cfg := &store.RunConfig{}
	if trainConfigPath != "" {
		loaded, err := store.LoadRunConfig(trainConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if trainConfigPath == "" || cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("env", func() { cfg.Env = trainEnv })
	set("strategy", func() { cfg.Strategy = trainStrategy })
	set("generations", func() { cfg.Generations = trainGenerations })
	set("episodes", func() { cfg.EvalEpisodes = trainEpisodes })
	set("seed", func() { cfg.Seed = trainSeed })
	set("hidden", func() { cfg.HiddenSize = trainHidden })
	set("activation", func() { cfg.Activation = trainActivation })
	set("max-steps", func() { cfg.MaxEpisodeSteps = trainMaxSteps })
	set("std", func() { cfg.StdDev = trainStd })
	set("pop", func() { cfg.PopulationSize = trainPop })
	set("lr", func() { cfg.LearningRate = trainLR })
	set("shared-pair-seed", func() { cfg.SharedPairSeed = trainPairSeed })
	set("normalize-grad", func() { cfg.NormalizeGradient = trainNormalize })
	set("include-incumbent", func() { cfg.IncludeIncumbent = trainIncumbent })
	set("workers", func() { cfg.Workers = trainWorkers })
	set("bound", func() { cfg.MayflyBound = trainBound })
	set("checkpoint-interval", func() { cfg.CheckpointInterval = trainCheckpointEvery })
	set("patience", func() { cfg.Patience = trainPatience })
	set("improvement-threshold", func() { cfg.ImprovementThreshold = trainThreshold })

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDataDir builds the store and run index under dir. An empty dir
// disables persistence.
func openDataDir(dir string) (*store.FSStore, *store.RunIndex, error) {
	if dir == "" {
		return nil, nil, nil
	}
	fs, err := store.NewFSStore(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	index := store.NewRunIndex(indexPath(dir))
	if err := index.Init(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to open run index: %w", err)
	}
	return fs, index, nil
}
