package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/policyfit/internal/policy"
)

// Strategy names accepted by RunConfig.
const (
	StrategyPopulation  = "population"
	StrategyZerothOrder = "zeroth-order"
	StrategyMayfly      = "mayfly"
)

// RunConfig holds the configuration for one training run. It is consumed by
// the trainer and the server and persisted inside checkpoints so resumed
// runs can be validated for compatibility.
type RunConfig struct {
	Env             string `json:"env" yaml:"env"`
	Strategy        string `json:"strategy" yaml:"strategy"`
	Generations     int    `json:"generations" yaml:"generations"`
	EvalEpisodes    int    `json:"evalEpisodes" yaml:"evalEpisodes"`
	Seed            int64  `json:"seed" yaml:"seed"`
	HiddenSize      int    `json:"hiddenSize" yaml:"hiddenSize"`
	Activation      string `json:"activation" yaml:"activation"`
	MaxEpisodeSteps int    `json:"maxEpisodeSteps" yaml:"maxEpisodeSteps"`

	// Perturbation scale shared by the population and zeroth-order
	// strategies, and the population size shared by population and
	// mayfly.
	StdDev         float64 `json:"stdDev" yaml:"stdDev"`
	PopulationSize int     `json:"populationSize" yaml:"populationSize"`

	// Zeroth-order settings.
	LearningRate      float64 `json:"learningRate" yaml:"learningRate"`
	SharedPairSeed    bool    `json:"sharedPairSeed" yaml:"sharedPairSeed"`
	NormalizeGradient bool    `json:"normalizeGradient" yaml:"normalizeGradient"`

	// Population settings.
	IncludeIncumbent bool `json:"includeIncumbent" yaml:"includeIncumbent"`
	Workers          int  `json:"workers" yaml:"workers"`

	// Mayfly settings.
	MayflyBound float64 `json:"mayflyBound" yaml:"mayflyBound"`

	// CheckpointInterval saves a checkpoint every N seconds (0 = disabled).
	CheckpointInterval int `json:"checkpointInterval,omitempty" yaml:"checkpointInterval"`

	// Early stopping on reward plateau (disabled unless Patience > 0).
	Patience             int     `json:"patience,omitempty" yaml:"patience"`
	ImprovementThreshold float64 `json:"improvementThreshold,omitempty" yaml:"improvementThreshold"`
}

// ApplyDefaults fills unset fields with the standard values.
func (c *RunConfig) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "cartpole"
	}
	if c.Strategy == "" {
		c.Strategy = StrategyPopulation
	}
	if c.Generations <= 0 {
		c.Generations = 100
	}
	if c.EvalEpisodes <= 0 {
		c.EvalEpisodes = 5
	}
	if c.HiddenSize <= 0 {
		c.HiddenSize = 128
	}
	if c.Activation == "" {
		c.Activation = string(policy.ActivationTanh)
	}
	if c.PopulationSize <= 0 && c.Strategy != StrategyZerothOrder {
		c.PopulationSize = 20
	}
	if c.StdDev == 0 && c.Strategy != StrategyMayfly {
		c.StdDev = 0.02
	}
	if c.LearningRate == 0 && c.Strategy == StrategyZerothOrder {
		c.LearningRate = 0.02
	}
	if c.MayflyBound <= 0 && c.Strategy == StrategyMayfly {
		c.MayflyBound = 1.0
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

// Validate checks the configuration for a runnable training run.
func (c *RunConfig) Validate() error {
	if c.Env == "" {
		return &ValidationError{Field: "Env", Reason: "cannot be empty"}
	}
	if c.Generations <= 0 {
		return &ValidationError{Field: "Generations", Reason: "must be positive"}
	}
	if c.EvalEpisodes <= 0 {
		return &ValidationError{Field: "EvalEpisodes", Reason: "must be positive"}
	}
	if c.HiddenSize <= 0 {
		return &ValidationError{Field: "HiddenSize", Reason: "must be positive"}
	}
	if c.StdDev < 0 {
		return &ValidationError{Field: "StdDev", Reason: "cannot be negative"}
	}
	switch c.Strategy {
	case StrategyPopulation:
		if c.PopulationSize <= 0 {
			return &ValidationError{Field: "PopulationSize", Reason: "must be positive"}
		}
	case StrategyZerothOrder:
		if c.LearningRate < 0 {
			return &ValidationError{Field: "LearningRate", Reason: "cannot be negative"}
		}
	case StrategyMayfly:
		if c.PopulationSize <= 0 {
			return &ValidationError{Field: "PopulationSize", Reason: "must be positive"}
		}
		if c.MayflyBound <= 0 {
			return &ValidationError{Field: "MayflyBound", Reason: "must be positive"}
		}
	default:
		return &ValidationError{Field: "Strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Strategy)}
	}
	return nil
}

// LoadRunConfig reads a YAML run configuration from disk.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Checkpoint represents a saved training state that can be resumed later.
//
// The checkpoint carries the current parameter snapshot and progress
// counters but not optimizer-internal state (there is none for the
// generation strategies beyond the policy itself). Resuming restores the
// snapshot into a fresh policy of the same topology and continues for the
// remaining generations; the random stream restarts from the configured
// seed, so a resumed run is reproducible but not a bit-exact continuation
// of the interrupted one.
type Checkpoint struct {
	// RunID is the unique identifier for this training run.
	RunID string `json:"runId"`

	// Params is the policy's full name -> tensor mapping at checkpoint time.
	Params *policy.ParamSet `json:"params"`

	// Generation is the number of completed generations.
	Generation int `json:"generation"`

	// Best/Worst track the extreme generation rewards seen so far.
	BestReward      float64 `json:"bestReward"`
	BestGeneration  int     `json:"bestGeneration"`
	WorstReward     float64 `json:"worstReward"`
	WorstGeneration int     `json:"worstGeneration"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the run configuration, needed for validation during
	// resume: a resumed run must use a compatible topology and strategy.
	Config RunConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the parameter
// data. Used for listing runs without loading tensors.
type CheckpointInfo struct {
	RunID      string    `json:"runId"`
	Strategy   string    `json:"strategy"`
	Env        string    `json:"env"`
	Generation int       `json:"generation"`
	BestReward float64   `json:"bestReward"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToInfo converts a full Checkpoint to its metadata.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:      c.RunID,
		Strategy:   c.Config.Strategy,
		Env:        c.Config.Env,
		Generation: c.Generation,
		BestReward: c.BestReward,
		Timestamp:  c.Timestamp,
	}
}

// Validate checks that the checkpoint has restorable data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Params == nil {
		return &ValidationError{Field: "Params", Reason: "cannot be nil"}
	}
	if len(c.Params.Names()) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}
	return nil
}

// IsCompatible checks whether this checkpoint can be resumed under the given
// configuration. The environment, strategy and topology must match; loop
// hyperparameters may differ.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Env != config.Env {
		return &CompatibilityError{Field: "Env", Expected: c.Config.Env, Actual: config.Env}
	}
	if c.Config.Strategy != config.Strategy {
		return &CompatibilityError{Field: "Strategy", Expected: c.Config.Strategy, Actual: config.Strategy}
	}
	if c.Config.HiddenSize != config.HiddenSize {
		return &CompatibilityError{
			Field:    "HiddenSize",
			Expected: fmt.Sprintf("%d", c.Config.HiddenSize),
			Actual:   fmt.Sprintf("%d", config.HiddenSize),
		}
	}
	if c.Config.Activation != config.Activation {
		return &CompatibilityError{Field: "Activation", Expected: c.Config.Activation, Actual: config.Activation}
	}
	return nil
}

// ValidationError represents a configuration or checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
