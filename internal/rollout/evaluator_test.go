package rollout

import (
	"math"
	"testing"

	"github.com/cwbudde/policyfit/internal/env"
	"github.com/cwbudde/policyfit/internal/policy"
	"golang.org/x/exp/rand"
)

// stubEnv is a scripted simulation: fixed-length episodes with a constant
// per-step reward, recording every reset seed it receives.
type stubEnv struct {
	obsDim, actDim int
	episodeSteps   int
	stepReward     float64
	resetSeeds     []int64
	nanRewardAt    int // step index producing a NaN reward, -1 to disable
	nanObsAt       int // step index producing a NaN observation, -1 to disable
	step           int
}

func newStubEnv(obsDim, actDim, episodeSteps int, stepReward float64) *stubEnv {
	return &stubEnv{
		obsDim:       obsDim,
		actDim:       actDim,
		episodeSteps: episodeSteps,
		stepReward:   stepReward,
		nanRewardAt:  -1,
		nanObsAt:     -1,
	}
}

func (s *stubEnv) ObservationSize() int { return s.obsDim }
func (s *stubEnv) ActionSize() int      { return s.actDim }

func (s *stubEnv) Reset(seed int64) ([]float64, error) {
	s.resetSeeds = append(s.resetSeeds, seed)
	s.step = 0
	return make([]float64, s.obsDim), nil
}

func (s *stubEnv) Step(action []float64) (env.StepResult, error) {
	obs := make([]float64, s.obsDim)
	reward := s.stepReward
	if s.step == s.nanRewardAt {
		reward = math.NaN()
	}
	if s.step == s.nanObsAt {
		obs[0] = math.Inf(1)
	}
	s.step++
	return env.StepResult{
		Observation: obs,
		Reward:      reward,
		Done:        s.step >= s.episodeSteps,
	}, nil
}

func testPolicy(t *testing.T, obsDim, actDim int) *policy.Net {
	t.Helper()

	p, err := policy.NewNet(obsDim, 8, actDim, policy.ActivationTanh, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewNet failed: %v", err)
	}
	return p
}

func TestNewEvaluatorValidation(t *testing.T) {
	e := newStubEnv(4, 1, 10, 1)

	if _, err := NewEvaluator(nil, 5); err == nil {
		t.Error("Expected error for nil environment")
	}
	if _, err := NewEvaluator(e, 0); err == nil {
		t.Error("Expected error for zero episodes")
	}
	if _, err := NewEvaluator(e, -3); err == nil {
		t.Error("Expected error for negative episodes")
	}
}

func TestEvaluateMeanReward(t *testing.T) {
	e := newStubEnv(4, 1, 10, 0.5)
	ev, err := NewEvaluator(e, 3)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	mean, err := ev.Evaluate(testPolicy(t, 4, 1), 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// 10 steps of 0.5 per episode, identical across episodes.
	if mean != 5.0 {
		t.Errorf("Expected mean reward 5.0, got %f", mean)
	}
}

func TestEvaluateSeedDerivation(t *testing.T) {
	e := newStubEnv(4, 1, 2, 1)
	ev, err := NewEvaluator(e, 3)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	if _, err := ev.Evaluate(testPolicy(t, 4, 1), 100); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	expected := []int64{100, 101, 102}
	if len(e.resetSeeds) != len(expected) {
		t.Fatalf("Expected %d resets, got %d", len(expected), len(e.resetSeeds))
	}
	for i, want := range expected {
		if e.resetSeeds[i] != want {
			t.Errorf("Reset %d: expected seed %d, got %d", i, want, e.resetSeeds[i])
		}
	}
}

func TestEvaluateUnseeded(t *testing.T) {
	e := newStubEnv(4, 1, 2, 1)
	ev, _ := NewEvaluator(e, 2)

	if _, err := ev.Evaluate(testPolicy(t, 4, 1), 0); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for i, s := range e.resetSeeds {
		if s != 0 {
			t.Errorf("Reset %d: expected unseeded (0), got %d", i, s)
		}
	}
}

func TestEvaluateNonFiniteReward(t *testing.T) {
	e := newStubEnv(4, 1, 10, 1)
	e.nanRewardAt = 3
	ev, _ := NewEvaluator(e, 1)

	if _, err := ev.Evaluate(testPolicy(t, 4, 1), 0); err == nil {
		t.Error("Expected error for non-finite reward")
	}
}

func TestEvaluateNonFiniteObservation(t *testing.T) {
	e := newStubEnv(4, 1, 10, 1)
	e.nanObsAt = 2
	ev, _ := NewEvaluator(e, 1)

	if _, err := ev.Evaluate(testPolicy(t, 4, 1), 0); err == nil {
		t.Error("Expected error for non-finite observation")
	}
}

func TestCheckPolicyDimensions(t *testing.T) {
	e := newStubEnv(4, 1, 10, 1)
	ev, _ := NewEvaluator(e, 1)

	if err := ev.CheckPolicy(testPolicy(t, 4, 1)); err != nil {
		t.Errorf("Expected matching dimensions to pass: %v", err)
	}
	if err := ev.CheckPolicy(testPolicy(t, 8, 1)); err == nil {
		t.Error("Expected observation mismatch error")
	}
	if err := ev.CheckPolicy(testPolicy(t, 4, 2)); err == nil {
		t.Error("Expected action mismatch error")
	}
}

func TestEvaluatorDeterministicWithRealEnvironment(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	environment, err := env.New("cartpole", 100, rng)
	if err != nil {
		t.Fatalf("env.New failed: %v", err)
	}
	ev, err := NewEvaluator(environment, 2)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	p := testPolicy(t, 4, 1)
	r1, err := ev.Evaluate(p, 77)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	r2, err := ev.Evaluate(p, 77)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if r1 != r2 {
		t.Errorf("Seeded evaluation not deterministic: %f vs %f", r1, r2)
	}
}
