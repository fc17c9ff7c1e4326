package opt

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
)

func TestNewNoiseSamplerValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if _, err := NewNoiseSampler(-0.1, rng); err == nil {
		t.Error("Expected error for negative std dev")
	}
	if _, err := NewNoiseSampler(0.1, nil); err == nil {
		t.Error("Expected error for nil random stream")
	}
}

func TestSampleMatchesShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	sampler, err := NewNoiseSampler(0.1, rng)
	if err != nil {
		t.Fatalf("NewNoiseSampler failed: %v", err)
	}

	params := newTestPolicy(t, 8, 2, 1).Params()
	noise := sampler.Sample(params)

	names := noise.Names()
	paramNames := params.Names()
	if len(names) != len(paramNames) {
		t.Fatalf("Expected %d tensors, got %d", len(paramNames), len(names))
	}
	for i, name := range paramNames {
		if names[i] != name {
			t.Errorf("Name order differs at %d: %s vs %s", i, names[i], name)
		}
		pt, _ := params.Tensor(name)
		nt, ok := noise.Tensor(name)
		if !ok {
			t.Fatalf("Noise missing tensor %s", name)
		}
		pr, pc := pt.Dims()
		nr, nc := nt.Dims()
		if pr != nr || pc != nc {
			t.Errorf("Tensor %s shape mismatch: %dx%d vs %dx%d", name, pr, pc, nr, nc)
		}
	}
}

func TestSampleZeroStdDev(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	sampler, _ := NewNoiseSampler(0, rng)

	noise := sampler.Sample(newTestPolicy(t, 4, 1, 1).Params())
	noise.Each(func(name string, tensor *mat.Dense) {
		r, c := tensor.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if tensor.At(i, j) != 0 {
					t.Errorf("Tensor %s[%d,%d]: expected 0 noise, got %f", name, i, j, tensor.At(i, j))
				}
			}
		}
	})
}

func TestSampleReproducibleFromSeed(t *testing.T) {
	draw := func() []float64 {
		rng := rand.New(rand.NewSource(99))
		sampler, _ := NewNoiseSampler(0.3, rng)
		return sampler.Sample(newTestPolicy(t, 4, 1, 1).Params()).Flatten()
	}

	a := draw()
	b := draw()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Seeded sampling not reproducible at index %d", i)
		}
	}
}

func TestSampleDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	std := 0.5
	sampler, _ := NewNoiseSampler(std, rng)

	params := newTestPolicy(t, 16, 4, 1).Params()
	var values []float64
	for k := 0; k < 20; k++ {
		values = append(values, sampler.Sample(params).Flatten()...)
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	if math.Abs(mean) > 0.05 {
		t.Errorf("Sample mean too far from 0: %f", mean)
	}
	if math.Abs(math.Sqrt(variance)-std) > 0.05 {
		t.Errorf("Sample std dev too far from %f: %f", std, math.Sqrt(variance))
	}
}
