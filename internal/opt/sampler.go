package opt

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cwbudde/policyfit/internal/policy"
)

// NoiseSampler draws isotropic Gaussian perturbation sets. All draws come
// from the run's configured random stream, so seeding that stream makes a
// whole run reproducible.
type NoiseSampler struct {
	stdDev float64
	normal distuv.Normal
}

// NewNoiseSampler creates a sampler with the given standard deviation.
// A standard deviation of zero is allowed and yields all-zero noise.
func NewNoiseSampler(stdDev float64, rng *rand.Rand) (*NoiseSampler, error) {
	if stdDev < 0 {
		return nil, fmt.Errorf("standard deviation cannot be negative, got %f", stdDev)
	}
	if rng == nil {
		return nil, fmt.Errorf("random stream cannot be nil")
	}
	return &NoiseSampler{
		stdDev: stdDev,
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}, nil
}

// StdDev returns the configured standard deviation.
func (s *NoiseSampler) StdDev() float64 { return s.stdDev }

// Sample returns a new parameter set with the same names and shapes as
// params, each entry drawn independently from N(0, stdDev²).
func (s *NoiseSampler) Sample(params *policy.ParamSet) *policy.ParamSet {
	noise := policy.NewParamSet()
	params.Each(func(name string, tensor *mat.Dense) {
		r, c := tensor.Dims()
		n := mat.NewDense(r, c, nil)
		if s.stdDev > 0 {
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					n.Set(i, j, s.normal.Rand()*s.stdDev)
				}
			}
		}
		// Registration cannot fail here: names are unique in the source set.
		noise.Register(name, n)
	})
	return noise
}
