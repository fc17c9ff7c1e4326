package trainer

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"github.com/cwbudde/policyfit/internal/env"
	"github.com/cwbudde/policyfit/internal/opt"
	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/rollout"
	"github.com/cwbudde/policyfit/internal/store"
)

// Setup bundles the live pieces built from a run configuration.
type Setup struct {
	Policy    *policy.Net
	Evaluator *rollout.Evaluator

	// Strategy drives the generation loop. Nil for mayfly runs, which
	// run their own search loop instead.
	Strategy opt.Strategy

	// Mayfly is set only for mayfly runs.
	Mayfly *opt.Mayfly

	Rand *rand.Rand
}

// NewSetup builds the environment, policy, evaluator and strategy from a run
// configuration. A seed <= 0 falls back to wall-clock seeding.
func NewSetup(cfg store.RunConfig) (*Setup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := uint64(time.Now().UnixNano())
	if cfg.Seed > 0 {
		seed = uint64(cfg.Seed)
	}
	rng := rand.New(rand.NewSource(seed))

	environment, err := env.New(cfg.Env, cfg.MaxEpisodeSteps, rng)
	if err != nil {
		return nil, err
	}

	net, err := policy.NewNet(
		environment.ObservationSize(),
		cfg.HiddenSize,
		environment.ActionSize(),
		policy.Activation(cfg.Activation),
		rng,
	)
	if err != nil {
		return nil, err
	}

	evaluator, err := rollout.NewEvaluator(environment, cfg.EvalEpisodes)
	if err != nil {
		return nil, err
	}

	setup := &Setup{Policy: net, Evaluator: evaluator, Rand: rng}

	switch cfg.Strategy {
	case store.StrategyPopulation:
		sampler, err := opt.NewNoiseSampler(cfg.StdDev, rng)
		if err != nil {
			return nil, err
		}
		popCfg := opt.PopulationConfig{
			PopulationSize:   cfg.PopulationSize,
			IncludeIncumbent: cfg.IncludeIncumbent,
			Workers:          cfg.Workers,
		}
		if cfg.Workers > 1 {
			popCfg.EvaluatorFactory = workerEvaluatorFactory(cfg)
		}
		strategy, err := opt.NewPopulation(popCfg, sampler, evaluator, rng)
		if err != nil {
			return nil, err
		}
		setup.Strategy = strategy

	case store.StrategyZerothOrder:
		sampler, err := opt.NewNoiseSampler(cfg.StdDev, rng)
		if err != nil {
			return nil, err
		}
		strategy, err := opt.NewZerothOrder(opt.ZerothOrderConfig{
			LearningRate:   cfg.LearningRate,
			SharedPairSeed: cfg.SharedPairSeed,
			Normalize:      cfg.NormalizeGradient,
		}, sampler, evaluator, rng)
		if err != nil {
			return nil, err
		}
		setup.Strategy = strategy

	case store.StrategyMayfly:
		m, err := opt.NewMayfly(opt.MayflyConfig{
			Iterations:     cfg.Generations,
			PopulationSize: cfg.PopulationSize,
			Bound:          cfg.MayflyBound,
			Seed:           cfg.Seed,
		}, evaluator)
		if err != nil {
			return nil, err
		}
		setup.Mayfly = m

	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}

	return setup, nil
}

// workerEvaluatorFactory hands each pool worker its own environment. The
// worker environments never draw from the shared random stream, so the
// sequential candidate construction stays deterministic at any worker count.
func workerEvaluatorFactory(cfg store.RunConfig) func() (*rollout.Evaluator, error) {
	base := uint64(time.Now().UnixNano())
	if cfg.Seed > 0 {
		base = uint64(cfg.Seed)
	}

	var mu sync.Mutex
	counter := uint64(0)

	return func() (*rollout.Evaluator, error) {
		mu.Lock()
		counter++
		workerSeed := base + counter*0x9e3779b9
		mu.Unlock()

		wrng := rand.New(rand.NewSource(workerSeed))
		environment, err := env.New(cfg.Env, cfg.MaxEpisodeSteps, wrng)
		if err != nil {
			return nil, err
		}
		return rollout.NewEvaluator(environment, cfg.EvalEpisodes)
	}
}
