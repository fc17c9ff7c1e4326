package opt

import (
	"fmt"
	"log/slog"

	"golang.org/x/exp/rand"

	"github.com/cwbudde/policyfit/internal/policy"
	"github.com/cwbudde/policyfit/internal/rollout"
)

// ZerothOrderConfig configures the antithetic gradient-estimate strategy.
type ZerothOrderConfig struct {
	// LearningRate scales the in-place ascent step.
	LearningRate float64

	// SharedPairSeed evaluates the positive and negative perturbations
	// under one shared evaluation seed, removing independent episode
	// draws from the finite-difference estimate. Off by default: the
	// pair is evaluated under independent stochasticity.
	SharedPairSeed bool

	// Normalize divides the estimate by stdDev², the normalized form of
	// the estimator. Off by default: the raw noise is scaled by the half
	// score difference only, which ties the effective step size to the
	// perturbation scale.
	Normalize bool
}

// ZerothOrder performs antithetic zeroth-order ascent: one +/- perturbation
// pair per generation, a finite-difference estimate from the pair's scores,
// and a scaled update applied directly to the live policy.
type ZerothOrder struct {
	cfg       ZerothOrderConfig
	sampler   *NoiseSampler
	evaluator *rollout.Evaluator
	rng       *rand.Rand
}

// NewZerothOrder creates the strategy.
func NewZerothOrder(cfg ZerothOrderConfig, sampler *NoiseSampler, evaluator *rollout.Evaluator, rng *rand.Rand) (*ZerothOrder, error) {
	if sampler == nil || evaluator == nil || rng == nil {
		return nil, fmt.Errorf("sampler, evaluator and random stream are required")
	}
	if cfg.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative, got %f", cfg.LearningRate)
	}
	if cfg.Normalize && sampler.StdDev() == 0 {
		return nil, fmt.Errorf("normalized estimator requires a positive standard deviation")
	}
	return &ZerothOrder{cfg: cfg, sampler: sampler, evaluator: evaluator, rng: rng}, nil
}

func (z *ZerothOrder) Name() string { return "zeroth-order" }

// Step runs one generation against the live policy. The returned policy is
// current itself with updated values; the reported reward is the better of
// the two perturbed evaluations (the post-update policy is never measured).
func (z *ZerothOrder) Step(current *policy.Net) (*policy.Net, float64, error) {
	noise := z.sampler.Sample(current.Params())

	pos := current.Clone()
	if err := pos.Params().AddScaled(noise, 1); err != nil {
		return nil, 0, fmt.Errorf("positive perturbation: %w", err)
	}
	neg := current.Clone()
	if err := neg.Params().AddScaled(noise, -1); err != nil {
		return nil, 0, fmt.Errorf("negative perturbation: %w", err)
	}

	var seed int64
	if z.cfg.SharedPairSeed {
		seed = drawSeed(z.rng)
	}

	posScore, err := z.evaluator.Evaluate(pos, seed)
	if err != nil {
		return nil, 0, fmt.Errorf("positive candidate: %w", err)
	}
	negScore, err := z.evaluator.Evaluate(neg, seed)
	if err != nil {
		return nil, 0, fmt.Errorf("negative candidate: %w", err)
	}

	// gradient ≈ (posScore - negScore) / 2 * noise, optionally normalized
	// by stdDev² so the estimate is invariant to the perturbation scale.
	scale := z.cfg.LearningRate * (posScore - negScore) / 2
	if z.cfg.Normalize {
		std := z.sampler.StdDev()
		scale /= std * std
	}
	if err := current.Params().AddScaled(noise, scale); err != nil {
		return nil, 0, fmt.Errorf("applying update: %w", err)
	}

	reward := posScore
	if negScore > reward {
		reward = negScore
	}

	slog.Debug("Generation evaluated",
		"strategy", z.Name(),
		"pos_reward", posScore,
		"neg_reward", negScore,
		"shared_seed", z.cfg.SharedPairSeed,
	)
	return current, reward, nil
}
