package trainer

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines parameters for detecting a reward plateau.
type ConvergenceConfig struct {
	// Enabled controls whether plateau detection is active
	Enabled bool

	// Patience is the number of generations with no improvement before stopping
	Patience int

	// Threshold is the minimum relative improvement required to count as progress.
	// Example: 0.001 = 0.1% improvement required.
	Threshold float64
}

// DefaultConvergenceConfig returns sensible defaults for plateau detection.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  10,
		Threshold: 0.001, // 0.1% improvement
	}
}

// DisabledConvergenceConfig returns a config with plateau detection disabled.
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker tracks reward history and detects when training has
// plateaued. Rewards are maximized, so improvement means the reward went up.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	rewardHistory   []float64
	bestReward      float64 // Best reward ever seen
	lastSignificant float64 // Last reward that was a significant improvement
	staleCount      int     // Number of generations without significant improvement
}

// NewConvergenceTracker creates a new tracker with the given config.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		rewardHistory:   []float64{},
		bestReward:      math.Inf(-1),
		lastSignificant: math.Inf(-1),
		staleCount:      0,
	}
}

// Update records a new reward value and returns true if a plateau is detected.
func (c *ConvergenceTracker) Update(reward float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.rewardHistory = append(c.rewardHistory, reward)

	if reward > c.bestReward {
		c.bestReward = reward
	}

	// First reward initializes the reference point.
	if len(c.rewardHistory) == 1 {
		c.lastSignificant = reward
		return false
	}

	// Relative improvement over the last significant reward. The denominator
	// is floored at 1 so near-zero rewards don't explode the ratio.
	denom := math.Abs(c.lastSignificant)
	if denom < 1 {
		denom = 1
	}
	relativeImprovement := (reward - c.lastSignificant) / denom

	if relativeImprovement >= c.config.Threshold {
		c.lastSignificant = reward
		c.staleCount = 0
		slog.Debug("Reward improvement detected",
			"reward", reward,
			"relative_improvement", relativeImprovement,
			"stale_count", c.staleCount,
		)
	} else {
		c.staleCount++
		slog.Debug("No significant reward improvement",
			"reward", reward,
			"last_significant", c.lastSignificant,
			"relative_improvement", relativeImprovement,
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
		)

		if c.staleCount >= c.config.Patience {
			slog.Info("Reward plateau detected, stopping early",
				"stale_count", c.staleCount,
				"patience", c.config.Patience,
				"best_reward", c.bestReward,
			)
			return true
		}
	}

	return false
}

// BestReward returns the best reward seen so far.
func (c *ConvergenceTracker) BestReward() float64 {
	return c.bestReward
}

// History returns a copy of the full reward history.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.rewardHistory...)
}

// StaleCount returns the current number of generations without improvement.
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state.
func (c *ConvergenceTracker) Reset() {
	c.rewardHistory = []float64{}
	c.bestReward = math.Inf(-1)
	c.lastSignificant = math.Inf(-1)
	c.staleCount = 0
}
