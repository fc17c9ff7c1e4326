package env

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// DefaultMaxEpisodeSteps is the step cap applied to built-in environments.
const DefaultMaxEpisodeSteps = 500

// New constructs a named environment wrapped in a step cap. maxSteps <= 0
// selects the default cap.
func New(name string, maxSteps int, rng *rand.Rand) (Environment, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxEpisodeSteps
	}

	var inner Environment
	switch name {
	case "cartpole":
		cp, err := NewCartPole(rng)
		if err != nil {
			return nil, err
		}
		inner = cp
	default:
		return nil, fmt.Errorf("unknown environment: %q", name)
	}

	return NewTimeLimit(inner, maxSteps)
}
