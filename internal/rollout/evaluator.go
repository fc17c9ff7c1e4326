// Package rollout runs simulation episodes to score policies.
package rollout

import (
	"fmt"
	"math"

	"github.com/cwbudde/policyfit/internal/env"
	"github.com/cwbudde/policyfit/internal/policy"
)

// Evaluator scores a policy by running full episodes against one simulation
// handle and averaging the cumulative rewards. The handle carries mutable
// episode state, so a single Evaluator must never be used from more than one
// goroutine at a time; parallel callers need one Evaluator each.
type Evaluator struct {
	environment env.Environment
	episodes    int
}

// NewEvaluator creates an evaluator running the given number of episodes per
// evaluation. A non-positive episode count is a configuration error.
func NewEvaluator(environment env.Environment, episodes int) (*Evaluator, error) {
	if environment == nil {
		return nil, fmt.Errorf("environment cannot be nil")
	}
	if episodes <= 0 {
		return nil, fmt.Errorf("episodes per evaluation must be positive, got %d", episodes)
	}
	return &Evaluator{environment: environment, episodes: episodes}, nil
}

// Episodes returns the configured episode count per evaluation.
func (e *Evaluator) Episodes() int { return e.episodes }

// Environment returns the evaluator's simulation handle.
func (e *Evaluator) Environment() env.Environment { return e.environment }

// CheckPolicy verifies that the policy's dimensions match the simulation's.
func (e *Evaluator) CheckPolicy(p *policy.Net) error {
	if p.ObservationSize() != e.environment.ObservationSize() {
		return fmt.Errorf("observation dimension mismatch: policy %d, environment %d",
			p.ObservationSize(), e.environment.ObservationSize())
	}
	if p.ActionSize() != e.environment.ActionSize() {
		return fmt.Errorf("action dimension mismatch: policy %d, environment %d",
			p.ActionSize(), e.environment.ActionSize())
	}
	return nil
}

// Evaluate runs the configured number of episodes and returns the mean
// cumulative reward. A seed > 0 derives per-episode seeds as seed+i, so the
// same seed reproduces the same episode draws; a seed <= 0 leaves episodes
// unseeded. A non-finite reward or observation from the simulation aborts
// the evaluation with an error.
func (e *Evaluator) Evaluate(p *policy.Net, seed int64) (float64, error) {
	total := 0.0
	for i := 0; i < e.episodes; i++ {
		episodeSeed := int64(0)
		if seed > 0 {
			episodeSeed = seed + int64(i)
		}

		reward, err := e.runEpisode(p, episodeSeed)
		if err != nil {
			return 0, fmt.Errorf("episode %d: %w", i, err)
		}
		total += reward
	}
	return total / float64(e.episodes), nil
}

// runEpisode plays one episode from reset to termination or truncation.
func (e *Evaluator) runEpisode(p *policy.Net, seed int64) (float64, error) {
	obs, err := e.environment.Reset(seed)
	if err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	if err := checkFinite(obs); err != nil {
		return 0, err
	}

	cumulative := 0.0
	for {
		action, err := p.Act(obs)
		if err != nil {
			return 0, err
		}

		res, err := e.environment.Step(action)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(res.Reward) || math.IsInf(res.Reward, 0) {
			return 0, fmt.Errorf("simulation produced non-finite reward: %f", res.Reward)
		}
		if err := checkFinite(res.Observation); err != nil {
			return 0, err
		}

		cumulative += res.Reward
		if res.Done || res.Truncated {
			return cumulative, nil
		}
		obs = res.Observation
	}
}

func checkFinite(obs []float64) error {
	for i, v := range obs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("simulation produced non-finite observation at component %d: %f", i, v)
		}
	}
	return nil
}
