package opt

import (
	"golang.org/x/exp/rand"

	"github.com/cwbudde/policyfit/internal/policy"
)

// Strategy advances a policy by one generation.
// Step returns the policy to carry into the next generation together with the
// generation's reported reward. Implementations either hand back a selected
// candidate (population search) or the same policy updated in place
// (zeroth-order ascent).
type Strategy interface {
	// Name identifies the strategy in logs and run records.
	Name() string

	// Step runs one generation starting from current.
	Step(current *policy.Net) (*policy.Net, float64, error)
}

// drawSeed produces a positive evaluation seed from the run's random stream.
func drawSeed(rng *rand.Rand) int64 {
	return 1 + rng.Int63n((1<<31)-2)
}
