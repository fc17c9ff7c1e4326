// Package env defines the narrow simulation interface the trainer drives and
// the built-in environments used to exercise it.
package env

import "fmt"

// StepResult is the outcome of advancing a simulation by one action.
type StepResult struct {
	Observation []float64
	Reward      float64
	Done        bool
	Truncated   bool
}

// Environment is the external-collaborator contract for a simulation.
// Reset begins a new episode and returns the initial observation; a seed > 0
// makes the episode deterministic, a seed <= 0 leaves the episode's
// stochasticity to the environment's own stream. Implementations carry
// mutable episode state and are not safe for concurrent use.
type Environment interface {
	Reset(seed int64) ([]float64, error)
	Step(action []float64) (StepResult, error)
	ObservationSize() int
	ActionSize() int
}

// TimeLimit wraps an environment and truncates episodes after maxSteps,
// guaranteeing termination even if the inner simulation never reports done.
type TimeLimit struct {
	inner    Environment
	maxSteps int
	steps    int
}

// NewTimeLimit creates a step-capped view of inner.
func NewTimeLimit(inner Environment, maxSteps int) (*TimeLimit, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner environment cannot be nil")
	}
	if maxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be positive, got %d", maxSteps)
	}
	return &TimeLimit{inner: inner, maxSteps: maxSteps}, nil
}

func (t *TimeLimit) Reset(seed int64) ([]float64, error) {
	t.steps = 0
	return t.inner.Reset(seed)
}

func (t *TimeLimit) Step(action []float64) (StepResult, error) {
	res, err := t.inner.Step(action)
	if err != nil {
		return StepResult{}, err
	}
	t.steps++
	if t.steps >= t.maxSteps && !res.Done {
		res.Truncated = true
	}
	return res, nil
}

func (t *TimeLimit) ObservationSize() int { return t.inner.ObservationSize() }
func (t *TimeLimit) ActionSize() int      { return t.inner.ActionSize() }
