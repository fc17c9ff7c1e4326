package trainer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/store"
)

// scriptedStrategy replays a fixed reward sequence and counts steps.
type scriptedStrategy struct {
	rewards []float64
	calls   int
	failAt  int // 1-based call index that errors, 0 = never
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Step(current *policy.Net) (*policy.Net, float64, error) {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return nil, 0, fmt.Errorf("scripted failure at call %d", s.calls)
	}
	reward := s.rewards[(s.calls-1)%len(s.rewards)]
	return current, reward, nil
}

func newTrainerPolicy(t *testing.T) *policy.Net {
	t.Helper()

	net, err := policy.NewNet(4, 3, 1, policy.ActivationTanh, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Failed to create policy: %v", err)
	}
	return net
}

func testRunConfig(generations int) store.RunConfig {
	cfg := store.RunConfig{Generations: generations}
	cfg.ApplyDefaults()
	cfg.Generations = generations
	cfg.HiddenSize = 3
	return cfg
}

func TestNewValidation(t *testing.T) {
	net := newTrainerPolicy(t)
	strategy := &scriptedStrategy{rewards: []float64{1}}

	if _, err := New(Config{Policy: net, Run: testRunConfig(1)}); err == nil {
		t.Error("Expected error for missing strategy")
	}
	if _, err := New(Config{Strategy: strategy, Run: testRunConfig(1)}); err == nil {
		t.Error("Expected error for missing policy")
	}

	bad := testRunConfig(1)
	bad.Strategy = "nonsense"
	if _, err := New(Config{Strategy: strategy, Policy: net, Run: bad}); err == nil {
		t.Error("Expected error for invalid run config")
	}
}

func TestRunCompletesAllGenerations(t *testing.T) {
	strategy := &scriptedStrategy{rewards: []float64{10, 50, 20, 80, 30}}
	trainer, err := New(Config{
		Strategy: strategy,
		Policy:   newTrainerPolicy(t),
		Run:      testRunConfig(5),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strategy.calls != 5 {
		t.Errorf("Expected 5 strategy steps, got %d", strategy.calls)
	}
	if result.Generations != 5 {
		t.Errorf("Expected 5 generations, got %d", result.Generations)
	}
	if result.BestReward != 80 || result.BestGeneration != 4 {
		t.Errorf("Best: expected 80 at gen 4, got %f at gen %d", result.BestReward, result.BestGeneration)
	}
	if result.WorstReward != 10 || result.WorstGeneration != 1 {
		t.Errorf("Worst: expected 10 at gen 1, got %f at gen %d", result.WorstReward, result.WorstGeneration)
	}
	if result.FinalReward != 30 {
		t.Errorf("Expected final reward 30, got %f", result.FinalReward)
	}
	if result.Converged {
		t.Error("Run should not report convergence without patience set")
	}
	if result.Params == nil {
		t.Error("Result missing final parameters")
	}
	if result.RunID == "" {
		t.Error("Result missing run ID")
	}
}

func TestRunReportsProgress(t *testing.T) {
	strategy := &scriptedStrategy{rewards: []float64{1, 2, 3}}
	var seen []Progress

	trainer, err := New(Config{
		Strategy:   strategy,
		Policy:     newTrainerPolicy(t),
		Run:        testRunConfig(3),
		OnProgress: func(p Progress) { seen = append(seen, p) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("Expected 3 progress reports, got %d", len(seen))
	}
	for i, p := range seen {
		if p.Generation != i+1 {
			t.Errorf("Report %d: expected generation %d, got %d", i, i+1, p.Generation)
		}
		if p.Reward != float64(i+1) {
			t.Errorf("Report %d: expected reward %d, got %f", i, i+1, p.Reward)
		}
	}
	if seen[2].BestReward != 3 {
		t.Errorf("Expected running best 3, got %f", seen[2].BestReward)
	}
}

func TestRunPersistsArtifacts(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	strategy := &scriptedStrategy{rewards: []float64{5, 15, 10}}
	trainer, err := New(Config{
		RunID:    "persist-run",
		Strategy: strategy,
		Policy:   newTrainerPolicy(t),
		Run:      testRunConfig(3),
		Store:    fs,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	checkpoint, err := fs.LoadCheckpoint("persist-run")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if checkpoint.Generation != 3 {
		t.Errorf("Expected checkpoint at generation 3, got %d", checkpoint.Generation)
	}
	if checkpoint.BestReward != 15 {
		t.Errorf("Expected checkpoint best 15, got %f", checkpoint.BestReward)
	}

	snapshot, err := fs.LoadSnapshot("persist-run")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	want := result.Params.Flatten()
	got := snapshot.Flatten()
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("Snapshot differs from final params at %d", i)
		}
	}

	points, err := store.ReadMetricLog(dir, "persist-run")
	if err != nil {
		t.Fatalf("ReadMetricLog failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("Expected 3 metric points, got %d", len(points))
	}
	if points[1].Generation != 2 || points[1].Reward != 15 {
		t.Errorf("Unexpected metric point: %+v", points[1])
	}

	tr, err := store.NewTraceReader(dir, "persist-run")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 trace entries, got %d", len(entries))
	}
	if entries[2].BestReward != 15 {
		t.Errorf("Expected running best 15 in trace, got %f", entries[2].BestReward)
	}
}

func TestRunStopsOnPlateau(t *testing.T) {
	// Constant rewards after the first generation.
	strategy := &scriptedStrategy{rewards: []float64{100}}
	cfg := testRunConfig(50)
	cfg.Patience = 4

	trainer, err := New(Config{
		Strategy: strategy,
		Policy:   newTrainerPolicy(t),
		Run:      cfg,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("Expected early stop on plateau")
	}
	// 1 initial + 4 stale generations.
	if result.Generations != 5 {
		t.Errorf("Expected 5 generations before stop, got %d", result.Generations)
	}
}

func TestRunPropagatesStepError(t *testing.T) {
	strategy := &scriptedStrategy{rewards: []float64{1}, failAt: 3}
	trainer, err := New(Config{
		Strategy: strategy,
		Policy:   newTrainerPolicy(t),
		Run:      testRunConfig(10),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := trainer.Run(context.Background()); err == nil {
		t.Fatal("Expected error from failing step")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	strategy := &scriptedStrategy{rewards: []float64{1}}
	trainer, err := New(Config{
		Strategy: strategy,
		Policy:   newTrainerPolicy(t),
		Run:      testRunConfig(1000),
		OnProgress: func(p Progress) {
			if p.Generation == 3 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := trainer.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if result == nil {
		t.Fatal("Expected partial result on cancellation")
	}
	if result.Generations != 3 {
		t.Errorf("Expected 3 completed generations, got %d", result.Generations)
	}
}

func TestRunResumeContinuesCounters(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	cfg := testRunConfig(10)
	net := newTrainerPolicy(t)

	resume := &store.Checkpoint{
		RunID:           "resume-run",
		Params:          net.Params().Clone(),
		Generation:      6,
		BestReward:      500,
		BestGeneration:  4,
		WorstReward:     2,
		WorstGeneration: 1,
		Config:          cfg,
	}

	strategy := &scriptedStrategy{rewards: []float64{50}}
	trainer, err := New(Config{
		Strategy: strategy,
		Policy:   net,
		Run:      cfg,
		Store:    fs,
		Resume:   resume,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if trainer.RunID() != "resume-run" {
		t.Errorf("Expected resumed run ID, got %s", trainer.RunID())
	}

	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Only the remaining 4 generations were stepped.
	if strategy.calls != 4 {
		t.Errorf("Expected 4 steps, got %d", strategy.calls)
	}
	if result.Generations != 10 {
		t.Errorf("Expected generation counter at 10, got %d", result.Generations)
	}
	// The old best survives; the resumed rewards never beat it.
	if result.BestReward != 500 || result.BestGeneration != 4 {
		t.Errorf("Resume lost best tracking: %f at gen %d", result.BestReward, result.BestGeneration)
	}
}

func TestRunRecordsIndex(t *testing.T) {
	index := store.NewRunIndex(t.TempDir() + "/runs.db")
	if err := index.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer index.Close()

	strategy := &scriptedStrategy{rewards: []float64{7, 9}}
	trainer, err := New(Config{
		RunID:    "indexed-run",
		Strategy: strategy,
		Policy:   newTrainerPolicy(t),
		Run:      testRunConfig(2),
		Index:    index,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	record, found, err := index.GetRun(context.Background(), "indexed-run")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if !found {
		t.Fatal("Run not recorded in index")
	}
	if record.BestReward != 9 || record.Generations != 2 {
		t.Errorf("Unexpected index record: %+v", record)
	}
}
