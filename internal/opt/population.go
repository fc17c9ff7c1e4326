package opt

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/rollout"
)

// PopulationConfig configures the population search strategy.
type PopulationConfig struct {
	// PopulationSize is the number of perturbed candidates per generation.
	PopulationSize int

	// IncludeIncumbent additionally evaluates the unperturbed incoming
	// policy as a candidate, so a generation can never select a policy
	// scoring worse than what it started with. Off by default: the
	// classic behavior is pure hill-climbing within the sampled
	// neighborhood, which may regress.
	IncludeIncumbent bool

	// Workers sets the number of parallel candidate evaluations. Values
	// above 1 require an EvaluatorFactory so every worker gets its own
	// simulation handle.
	Workers int

	// EvaluatorFactory builds an independent evaluator for a worker.
	EvaluatorFactory func() (*rollout.Evaluator, error)
}

// Population is greedy elitist search: each generation evaluates a batch of
// independently perturbed clones under one shared evaluation seed and keeps
// the best. Only the winner's parameters survive into the next generation.
type Population struct {
	cfg       PopulationConfig
	sampler   *NoiseSampler
	evaluator *rollout.Evaluator
	rng       *rand.Rand
}

// NewPopulation creates the strategy. A non-positive population size is a
// configuration error.
func NewPopulation(cfg PopulationConfig, sampler *NoiseSampler, evaluator *rollout.Evaluator, rng *rand.Rand) (*Population, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be positive, got %d", cfg.PopulationSize)
	}
	if sampler == nil || evaluator == nil || rng == nil {
		return nil, fmt.Errorf("sampler, evaluator and random stream are required")
	}
	if cfg.Workers > 1 && cfg.EvaluatorFactory == nil {
		return nil, fmt.Errorf("parallel evaluation requires an evaluator factory")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Population{cfg: cfg, sampler: sampler, evaluator: evaluator, rng: rng}, nil
}

func (p *Population) Name() string { return "population" }

// Step runs one generation. All candidates are judged with the same
// evaluation seed so that reward differences come from the perturbations
// rather than from episode draws.
func (p *Population) Step(current *policy.Net) (*policy.Net, float64, error) {
	seed := drawSeed(p.rng)

	// Candidate construction happens sequentially against the shared
	// random stream so results do not depend on the worker count.
	var candidates []*policy.Net
	if p.cfg.IncludeIncumbent {
		candidates = append(candidates, current.Clone())
	}
	for i := 0; i < p.cfg.PopulationSize; i++ {
		noise := p.sampler.Sample(current.Params())
		candidate := current.Clone()
		if err := candidate.Params().AddScaled(noise, 1); err != nil {
			return nil, 0, fmt.Errorf("perturbing candidate %d: %w", i, err)
		}
		candidates = append(candidates, candidate)
	}

	scores, err := p.evaluateAll(candidates, seed)
	if err != nil {
		return nil, 0, err
	}

	// Argmax with strict comparison: ties go to the first-seen candidate.
	bestIdx := 0
	bestScore := math.Inf(-1)
	for i, score := range scores {
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	slog.Debug("Generation evaluated",
		"strategy", p.Name(),
		"candidates", len(candidates),
		"seed", seed,
		"best_index", bestIdx,
		"best_reward", bestScore,
	)
	return candidates[bestIdx], bestScore, nil
}

// evaluateAll scores every candidate, sequentially or via a worker pool.
// Results are merged by candidate index so selection is deterministic for a
// fixed seed at any worker count.
func (p *Population) evaluateAll(candidates []*policy.Net, seed int64) ([]float64, error) {
	scores := make([]float64, len(candidates))

	if p.cfg.Workers <= 1 || len(candidates) == 1 {
		for i, candidate := range candidates {
			score, err := p.evaluator.Evaluate(candidate, seed)
			if err != nil {
				return nil, fmt.Errorf("candidate %d: %w", i, err)
			}
			scores[i] = score
		}
		return scores, nil
	}

	workers := p.cfg.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}

	jobs := make(chan int)
	errs := make([]error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			evaluator, err := p.cfg.EvaluatorFactory()
			if err != nil {
				errs[worker] = fmt.Errorf("worker %d evaluator: %w", worker, err)
				for range jobs {
					// Drain so the dispatcher never blocks.
				}
				return
			}
			for i := range jobs {
				score, err := evaluator.Evaluate(candidates[i], seed)
				if err != nil {
					errs[worker] = fmt.Errorf("candidate %d: %w", i, err)
					continue
				}
				scores[i] = score
			}
		}(w)
	}

	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return scores, nil
}
