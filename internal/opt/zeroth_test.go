package opt

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
)

func TestNewZerothOrderValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	evaluator := newTestEvaluator(t, newActionEnv(4, 1), 1)

	sampler, _ := NewNoiseSampler(0.1, rng)
	if _, err := NewZerothOrder(ZerothOrderConfig{LearningRate: -0.1}, sampler, evaluator, rng); err == nil {
		t.Error("Expected error for negative learning rate")
	}

	zeroSampler, _ := NewNoiseSampler(0, rng)
	if _, err := NewZerothOrder(ZerothOrderConfig{LearningRate: 0.1, Normalize: true}, zeroSampler, evaluator, rng); err == nil {
		t.Error("Expected error for normalized estimator with zero std dev")
	}
}

func TestAntitheticSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	sampler, _ := NewNoiseSampler(0.2, rng)
	original := newTestPolicy(t, 4, 1, 5)

	noise := sampler.Sample(original.Params())
	pos := original.Clone()
	if err := pos.Params().AddScaled(noise, 1); err != nil {
		t.Fatalf("AddScaled failed: %v", err)
	}
	neg := original.Clone()
	if err := neg.Params().AddScaled(noise, -1); err != nil {
		t.Fatalf("AddScaled failed: %v", err)
	}

	// For every tensor the pair is equidistant from the original.
	for _, name := range original.Params().Names() {
		o, _ := original.Params().Tensor(name)
		p, _ := pos.Params().Tensor(name)
		n, _ := neg.Params().Tensor(name)

		var dp, dn mat.Dense
		dp.Sub(p, o)
		dn.Sub(n, o)
		posDist := mat.Norm(&dp, 2)
		negDist := mat.Norm(&dn, 2)
		if math.Abs(posDist-negDist) > 1e-12 {
			t.Errorf("Tensor %s: distances differ, +%f vs -%f", name, posDist, negDist)
		}
		if posDist == 0 {
			t.Errorf("Tensor %s: perturbation is zero", name)
		}
	}
}

func TestZerothOrderZeroLearningRateKeepsParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	sampler, _ := NewNoiseSampler(0.1, rng)
	e := newActionEnv(4, 1)
	evaluator := newTestEvaluator(t, e, 1)
	strategy, err := NewZerothOrder(ZerothOrderConfig{LearningRate: 0}, sampler, evaluator, rng)
	if err != nil {
		t.Fatalf("NewZerothOrder failed: %v", err)
	}

	current := newTestPolicy(t, 4, 1, 31)
	before := current.Params().Flatten()

	for g := 0; g < 5; g++ {
		next, _, err := strategy.Step(current)
		if err != nil {
			t.Fatalf("Step %d failed: %v", g, err)
		}
		if next != current {
			t.Fatal("Zeroth-order must update the live policy in place")
		}
	}

	after := current.Params().Flatten()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("Parameter %d changed with zero learning rate: %f -> %f", i, before[i], after[i])
		}
	}

	// Rewards were still measured: two evaluations per generation.
	if len(e.rewards) != 10 {
		t.Errorf("Expected 10 evaluations, got %d", len(e.rewards))
	}
}

func TestZerothOrderUpdatesInPlace(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	sampler, _ := NewNoiseSampler(0.5, rng)
	evaluator := newTestEvaluator(t, newActionEnv(4, 1), 1)
	strategy, err := NewZerothOrder(ZerothOrderConfig{LearningRate: 0.5}, sampler, evaluator, rng)
	if err != nil {
		t.Fatalf("NewZerothOrder failed: %v", err)
	}

	current := newTestPolicy(t, 4, 1, 37)
	before := current.Params().Flatten()

	next, _, err := strategy.Step(current)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if next != current {
		t.Error("Expected the same policy identity back")
	}

	after := current.Params().Flatten()
	changed := false
	for i := range before {
		if before[i] != after[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("Parameters unchanged after an ascent step")
	}
}

func TestZerothOrderPairSeeds(t *testing.T) {
	t.Run("independent by default", func(t *testing.T) {
		rng := rand.New(rand.NewSource(41))
		sampler, _ := NewNoiseSampler(0.1, rng)
		e := newActionEnv(4, 1)
		evaluator := newTestEvaluator(t, e, 2)
		strategy, _ := NewZerothOrder(ZerothOrderConfig{LearningRate: 0.1}, sampler, evaluator, rng)

		if _, _, err := strategy.Step(newTestPolicy(t, 4, 1, 1)); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		for i, s := range e.resetSeeds {
			if s != 0 {
				t.Errorf("Reset %d: expected unseeded evaluation, got seed %d", i, s)
			}
		}
	})

	t.Run("shared when configured", func(t *testing.T) {
		rng := rand.New(rand.NewSource(41))
		sampler, _ := NewNoiseSampler(0.1, rng)
		e := newActionEnv(4, 1)
		evaluator := newTestEvaluator(t, e, 2)
		strategy, _ := NewZerothOrder(
			ZerothOrderConfig{LearningRate: 0.1, SharedPairSeed: true},
			sampler, evaluator, rng,
		)

		if _, _, err := strategy.Step(newTestPolicy(t, 4, 1, 1)); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if len(e.resetSeeds) != 4 {
			t.Fatalf("Expected 4 resets, got %d", len(e.resetSeeds))
		}
		if e.resetSeeds[0] <= 0 {
			t.Fatalf("Expected positive shared seed, got %d", e.resetSeeds[0])
		}
		// Both pair members see identical per-episode seeds.
		if e.resetSeeds[2] != e.resetSeeds[0] || e.resetSeeds[3] != e.resetSeeds[1] {
			t.Errorf("Pair saw different seeds: %v", e.resetSeeds)
		}
	})
}

func TestZerothOrderReportsBetterOfPair(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	sampler, _ := NewNoiseSampler(0.4, rng)
	e := newActionEnv(4, 1)
	evaluator := newTestEvaluator(t, e, 1)
	strategy, _ := NewZerothOrder(ZerothOrderConfig{LearningRate: 0.1}, sampler, evaluator, rng)

	_, reward, err := strategy.Step(newTestPolicy(t, 4, 1, 3))
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	if len(e.rewards) != 2 {
		t.Fatalf("Expected 2 evaluations, got %d", len(e.rewards))
	}
	want := math.Max(e.rewards[0], e.rewards[1])
	if reward != want {
		t.Errorf("Expected max of pair %f, got %f", want, reward)
	}
}
