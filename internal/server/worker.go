package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/policyfit/internal/store"
	"github.com/cwbudde/policyfit/internal/trainer"
)

// executeRun drives one training run in the background.
func executeRun(ctx context.Context, rm *RunManager, fs *store.FSStore, index *store.RunIndex, runID string) error {
	run, exists := rm.GetRun(runID)
	if !exists {
		return fmt.Errorf("run not found: %s", runID)
	}

	if err := rm.UpdateRun(runID, func(r *Run) {
		r.State = StateRunning
	}); err != nil {
		return err
	}

	slog.Info("Starting run", "run_id", runID, "env", run.Config.Env, "strategy", run.Config.Strategy)

	setup, err := trainer.NewSetup(run.Config)
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}

	start := time.Now()

	// Mayfly runs its own search loop and reports once at the end.
	if setup.Mayfly != nil {
		reward, err := setup.Mayfly.Search(setup.Policy)
		if err != nil {
			markRunFailed(rm, runID, err)
			return err
		}
		if fs != nil {
			if err := fs.SaveSnapshot(runID, setup.Policy.Params()); err != nil {
				markRunFailed(rm, runID, err)
				return err
			}
		}
		markRunCompleted(rm, runID, run.Config.Generations, reward, reward, false)
		return nil
	}

	onProgress := func(p trainer.Progress) {
		rm.UpdateRun(runID, func(r *Run) {
			r.Generation = p.Generation
			r.BestReward = p.BestReward
			r.FinalReward = p.Reward
		})

		var gps float64
		if p.Elapsed.Seconds() > 0 {
			gps = float64(p.Generation) / p.Elapsed.Seconds()
		}
		rm.broadcaster.Broadcast(ProgressEvent{
			RunID:      runID,
			State:      StateRunning,
			Generation: p.Generation,
			Reward:     p.Reward,
			BestReward: p.BestReward,
			GPS:        gps,
			Timestamp:  time.Now(),
		})
	}

	tr, err := trainer.New(trainer.Config{
		RunID:      runID,
		Strategy:   setup.Strategy,
		Policy:     setup.Policy,
		Run:        run.Config,
		Store:      fs,
		Index:      index,
		OnProgress: onProgress,
	})
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}

	result, err := tr.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			markRunCancelled(rm, runID, result.Generations)
			return err
		}
		markRunFailed(rm, runID, err)
		return err
	}

	elapsed := time.Since(start)
	markRunCompleted(rm, runID, result.Generations, result.BestReward, result.FinalReward, result.Converged)

	slog.Info("Run completed",
		"run_id", runID,
		"elapsed", elapsed,
		"generations", result.Generations,
		"best_reward", result.BestReward,
		"converged", result.Converged,
	)
	return nil
}

// markRunCompleted updates the run and broadcasts the final event.
func markRunCompleted(rm *RunManager, runID string, generation int, bestReward, finalReward float64, converged bool) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateCompleted
		r.Generation = generation
		r.BestReward = bestReward
		r.FinalReward = finalReward
		r.Converged = converged
		r.EndTime = &endTime
	})

	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:      runID,
		State:      StateCompleted,
		Generation: generation,
		Reward:     finalReward,
		BestReward: bestReward,
		Timestamp:  endTime,
	})
}

// markRunFailed marks a run as failed with an error message
func markRunFailed(rm *RunManager, runID string, err error) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateFailed
		r.Error = err.Error()
		r.EndTime = &endTime
	})
	slog.Error("Run failed", "run_id", runID, "error", err)
}

// markRunCancelled marks a run as cancelled
func markRunCancelled(rm *RunManager, runID string, generation int) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateCancelled
		r.Generation = generation
		r.EndTime = &endTime
	})
	slog.Info("Run cancelled", "run_id", runID, "generation", generation)
}
