package opt

import (
	"fmt"
	"math"
	mathrand "math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/rollout"
)

// MayflyConfig configures the global-search mode backed by the external
// Mayfly library.
type MayflyConfig struct {
	Iterations     int
	PopulationSize int
	// Bound is the symmetric box half-width applied to every parameter.
	Bound float64
	Seed  int64
}

// Mayfly searches the flattened parameter vector with the external Mayfly
// metaheuristic. Unlike the generation strategies it runs its own full loop;
// the evaluation seed is fixed for the whole search so candidates stay
// comparable.
type Mayfly struct {
	cfg       MayflyConfig
	evaluator *rollout.Evaluator
}

// NewMayfly creates the global-search mode.
func NewMayfly(cfg MayflyConfig, evaluator *rollout.Evaluator) (*Mayfly, error) {
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", cfg.Iterations)
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be positive, got %d", cfg.PopulationSize)
	}
	if cfg.Bound <= 0 {
		return nil, fmt.Errorf("parameter bound must be positive, got %f", cfg.Bound)
	}
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	return &Mayfly{cfg: cfg, evaluator: evaluator}, nil
}

// Search runs the full optimization and writes the best parameters found
// into p. Returns the best mean reward.
func (m *Mayfly) Search(p *policy.Net) (float64, error) {
	scratch := p.Clone()
	dim := scratch.Params().NumValues()
	evalSeed := m.cfg.Seed
	if evalSeed <= 0 {
		evalSeed = 1
	}

	// The library minimizes, so the objective is the negated mean reward.
	// Evaluation errors are latched and surfaced after the search; the
	// objective reports +Inf so the library steers away in the meantime.
	var evalErr error
	objective := func(x []float64) float64 {
		if evalErr != nil {
			return math.Inf(1)
		}
		if err := scratch.Params().SetFlat(x); err != nil {
			evalErr = err
			return math.Inf(1)
		}
		reward, err := m.evaluator.Evaluate(scratch, evalSeed)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		return -reward
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = objective
	config.ProblemSize = dim
	config.MaxIterations = m.cfg.Iterations
	config.NPop = m.cfg.PopulationSize

	// The library takes scalar bounds applied to every dimension.
	config.LowerBound = -m.cfg.Bound
	config.UpperBound = m.cfg.Bound

	config.Rand = mathrand.New(mathrand.NewSource(m.cfg.Seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return 0, fmt.Errorf("mayfly search: %w", err)
	}
	if evalErr != nil {
		return 0, fmt.Errorf("mayfly search evaluation: %w", evalErr)
	}

	if err := p.Params().SetFlat(result.GlobalBest.Position); err != nil {
		return 0, fmt.Errorf("restoring best parameters: %w", err)
	}
	return -result.GlobalBest.Cost, nil
}
