package opt

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/cwbudde/policyfit/internal/env"
	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/rollout"
)

// actionEnv is a deterministic one-step environment whose episode reward is
// the policy's first action component at a fixed observation. Reward depends
// only on the policy's parameters, which makes selection behavior exactly
// checkable.
type actionEnv struct {
	obsDim, actDim int
	resetSeeds     []int64
	rewards        []float64
	pending        float64
}

func newActionEnv(obsDim, actDim int) *actionEnv {
	return &actionEnv{obsDim: obsDim, actDim: actDim}
}

func (a *actionEnv) ObservationSize() int { return a.obsDim }
func (a *actionEnv) ActionSize() int      { return a.actDim }

func (a *actionEnv) Reset(seed int64) ([]float64, error) {
	a.resetSeeds = append(a.resetSeeds, seed)
	obs := make([]float64, a.obsDim)
	for i := range obs {
		obs[i] = 0.5
	}
	return obs, nil
}

func (a *actionEnv) Step(action []float64) (env.StepResult, error) {
	a.rewards = append(a.rewards, action[0])
	return env.StepResult{
		Observation: make([]float64, a.obsDim),
		Reward:      action[0],
		Done:        true,
	}, nil
}

func newTestPolicy(t *testing.T, obsDim, actDim int, seed uint64) *policy.Net {
	t.Helper()

	p, err := policy.NewNet(obsDim, 8, actDim, policy.ActivationTanh, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewNet failed: %v", err)
	}
	return p
}

func newTestEvaluator(t *testing.T, e env.Environment, episodes int) *rollout.Evaluator {
	t.Helper()

	ev, err := rollout.NewEvaluator(e, episodes)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return ev
}

func paramsEqual(a, b *policy.Net) bool {
	af := a.Params().Flatten()
	bf := b.Params().Flatten()
	if len(af) != len(bf) {
		return false
	}
	for i := range af {
		if af[i] != bf[i] {
			return false
		}
	}
	return true
}
