package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/policyfit/internal/opt"
	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/store"
)

// Progress describes one completed generation. It is handed to the
// progress callback after the generation's artifacts have been recorded.
type Progress struct {
	RunID      string
	Generation int
	Reward     float64
	BestReward float64
	Elapsed    time.Duration
}

// Config assembles everything a training run needs. Store and Index are
// optional; a nil Store runs fully in memory, which the tests rely on.
type Config struct {
	// RunID identifies the run. Generated when empty.
	RunID string

	// Strategy produces the next policy each generation.
	Strategy opt.Strategy

	// Policy is the starting point. For resumed runs the caller restores
	// the checkpoint snapshot into it first.
	Policy *policy.Net

	// Run is the validated run configuration.
	Run store.RunConfig

	// Store persists checkpoints, the metric log and the trace.
	Store *store.FSStore

	// Index records the run summary in the catalog when set.
	Index *store.RunIndex

	// Resume carries the checkpoint this run continues from, nil for
	// fresh runs.
	Resume *store.Checkpoint

	// OnProgress is called after every generation when set.
	OnProgress func(Progress)
}

// Result summarizes a finished training run.
type Result struct {
	RunID           string
	Params          *policy.ParamSet
	Generations     int // completed generations, including resumed ones
	BestReward      float64
	BestGeneration  int
	WorstReward     float64
	WorstGeneration int
	FinalReward     float64
	Converged       bool
	Elapsed         time.Duration
}

// Trainer drives a strategy over the configured number of generations,
// recording rewards and checkpoints as it goes.
type Trainer struct {
	cfg     Config
	tracker *ConvergenceTracker
}

// New validates the configuration and builds a trainer.
func New(cfg Config) (*Trainer, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("trainer needs a strategy")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("trainer needs a policy")
	}
	if err := cfg.Run.Validate(); err != nil {
		return nil, err
	}
	if cfg.Resume != nil && cfg.Resume.RunID != "" {
		cfg.RunID = cfg.Resume.RunID
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	convergence := DisabledConvergenceConfig()
	if cfg.Run.Patience > 0 {
		threshold := cfg.Run.ImprovementThreshold
		if threshold <= 0 {
			threshold = DefaultConvergenceConfig().Threshold
		}
		convergence = ConvergenceConfig{
			Enabled:   true,
			Patience:  cfg.Run.Patience,
			Threshold: threshold,
		}
	}

	return &Trainer{
		cfg:     cfg,
		tracker: NewConvergenceTracker(convergence),
	}, nil
}

// RunID returns the identifier the trainer will record artifacts under.
func (t *Trainer) RunID() string {
	return t.cfg.RunID
}

// Run executes the training loop until the generation budget is spent, the
// reward plateaus, or the context is cancelled. Cancellation is not an
// error: the loop stops after the in-flight generation and the partial
// result is still checkpointed.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	current := t.cfg.Policy
	startGeneration := 0

	result := &Result{
		RunID:       t.cfg.RunID,
		BestReward:  math.Inf(-1),
		WorstReward: math.Inf(1),
	}
	if t.cfg.Resume != nil {
		startGeneration = t.cfg.Resume.Generation
		result.Generations = startGeneration
		result.BestReward = t.cfg.Resume.BestReward
		result.BestGeneration = t.cfg.Resume.BestGeneration
		result.WorstReward = t.cfg.Resume.WorstReward
		result.WorstGeneration = t.cfg.Resume.WorstGeneration
	}

	var metrics *store.MetricLog
	var trace *store.TraceWriter
	if t.cfg.Store != nil {
		appendMode := t.cfg.Resume != nil
		var err error
		metrics, err = store.NewMetricLog(t.cfg.Store.BaseDir(), t.cfg.RunID, appendMode)
		if err != nil {
			return nil, fmt.Errorf("failed to open metric log: %w", err)
		}
		defer metrics.Close()

		trace, err = store.NewTraceWriter(t.cfg.Store.BaseDir(), t.cfg.RunID, appendMode)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		defer trace.Close()
	}

	slog.Info("Starting training run",
		"run_id", t.cfg.RunID,
		"strategy", t.cfg.Strategy.Name(),
		"env", t.cfg.Run.Env,
		"generations", t.cfg.Run.Generations,
		"start_generation", startGeneration,
	)

	start := time.Now()
	lastCheckpoint := start
	cancelled := false

	generation := startGeneration
	for generation < t.cfg.Run.Generations {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			slog.Info("Training cancelled", "run_id", t.cfg.RunID, "generation", generation)
			break
		}
		generation++

		next, reward, err := t.cfg.Strategy.Step(current)
		if err != nil {
			return nil, fmt.Errorf("generation %d failed: %w", generation, err)
		}
		current = next

		if reward > result.BestReward {
			result.BestReward = reward
			result.BestGeneration = generation
		}
		if reward < result.WorstReward {
			result.WorstReward = reward
			result.WorstGeneration = generation
		}
		result.FinalReward = reward
		result.Generations = generation

		now := time.Now()
		if metrics != nil {
			if err := metrics.Append(generation, reward); err != nil {
				return nil, err
			}
		}
		if trace != nil {
			entry := store.TraceEntry{
				Generation: generation,
				Reward:     reward,
				BestReward: result.BestReward,
				Timestamp:  now,
			}
			if err := trace.Write(entry); err != nil {
				return nil, err
			}
		}

		if t.cfg.OnProgress != nil {
			t.cfg.OnProgress(Progress{
				RunID:      t.cfg.RunID,
				Generation: generation,
				Reward:     reward,
				BestReward: result.BestReward,
				Elapsed:    now.Sub(start),
			})
		}

		interval := time.Duration(t.cfg.Run.CheckpointInterval) * time.Second
		if t.cfg.Store != nil && interval > 0 && now.Sub(lastCheckpoint) >= interval {
			if err := t.saveCheckpoint(current, result); err != nil {
				slog.Error("Failed to save checkpoint", "run_id", t.cfg.RunID, "error", err)
			} else {
				lastCheckpoint = now
			}
		}

		if t.tracker.Update(reward) {
			result.Converged = true
			break
		}
	}

	result.Elapsed = time.Since(start)
	result.Params = current.Params()

	if trace != nil {
		if err := trace.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "run_id", t.cfg.RunID, "error", err)
		}
	}
	if t.cfg.Store != nil && result.Generations > startGeneration {
		if err := t.saveCheckpoint(current, result); err != nil {
			return nil, err
		}
		if err := t.cfg.Store.SaveSnapshot(t.cfg.RunID, current.Params()); err != nil {
			return nil, err
		}
	}
	if t.cfg.Index != nil {
		record := store.RunRecord{
			RunID:       t.cfg.RunID,
			Env:         t.cfg.Run.Env,
			Strategy:    t.cfg.Run.Strategy,
			Generations: result.Generations,
			BestReward:  result.BestReward,
			FinalReward: result.FinalReward,
			Seed:        t.cfg.Run.Seed,
			StartedAt:   start,
			FinishedAt:  time.Now(),
		}
		// Recorded even when ctx was cancelled, hence the fresh context.
		if err := t.cfg.Index.RecordRun(context.Background(), record); err != nil {
			slog.Warn("Failed to record run in index", "run_id", t.cfg.RunID, "error", err)
		}
	}

	slog.Info("Training run finished",
		"run_id", t.cfg.RunID,
		"generations", result.Generations,
		"best_reward", result.BestReward,
		"best_generation", result.BestGeneration,
		"final_reward", result.FinalReward,
		"converged", result.Converged,
		"elapsed", result.Elapsed,
	)

	if cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

func (t *Trainer) saveCheckpoint(current *policy.Net, result *Result) error {
	checkpoint := &store.Checkpoint{
		RunID:           t.cfg.RunID,
		Params:          current.Params().Clone(),
		Generation:      result.Generations,
		BestReward:      result.BestReward,
		BestGeneration:  result.BestGeneration,
		WorstReward:     result.WorstReward,
		WorstGeneration: result.WorstGeneration,
		Timestamp:       time.Now(),
		Config:          t.cfg.Run,
	}
	return t.cfg.Store.SaveCheckpoint(t.cfg.RunID, checkpoint)
}
