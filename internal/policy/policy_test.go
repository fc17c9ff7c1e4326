package policy

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func testNet(t *testing.T, seed uint64) *Net {
	t.Helper()

	net, err := NewNet(8, 16, 2, ActivationTanh, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewNet failed: %v", err)
	}
	return net
}

func TestNewNetValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cases := []struct {
		name                  string
		obs, hidden, act      int
		activation            Activation
	}{
		{"zero obs", 0, 16, 2, ActivationTanh},
		{"negative hidden", 8, -1, 2, ActivationTanh},
		{"zero act", 8, 16, 0, ActivationTanh},
		{"bad activation", 8, 16, 2, Activation("sigmoid")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewNet(tc.obs, tc.hidden, tc.act, tc.activation, rng); err == nil {
				t.Error("Expected construction error")
			}
		})
	}
}

func TestActDeterministic(t *testing.T) {
	net := testNet(t, 42)
	obs := []float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6, 0.7, -0.8}

	a1, err := net.Act(obs)
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	a2, err := net.Act(obs)
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}

	if len(a1) != 2 {
		t.Fatalf("Expected 2 action components, got %d", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Errorf("Action component %d not deterministic: %f vs %f", i, a1[i], a2[i])
		}
	}
}

func TestActBoundedRegardlessOfParams(t *testing.T) {
	net := testNet(t, 7)

	// Blow up every parameter; the output tanh must still bound actions.
	net.Params().Each(func(name string, tensor *mat.Dense) {
		r, c := tensor.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				tensor.Set(i, j, 1e6)
			}
		}
	})

	action, err := net.Act([]float64{1, 1, 1, 1, 1, 1, 1, 1})
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	for i, a := range action {
		if a < -1 || a > 1 || math.IsNaN(a) {
			t.Errorf("Action component %d out of [-1,1]: %f", i, a)
		}
	}
}

func TestActDimensionMismatch(t *testing.T) {
	net := testNet(t, 1)

	if _, err := net.Act([]float64{1, 2, 3}); err == nil {
		t.Error("Expected dimension mismatch error")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	net := testNet(t, 3)
	obs := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}

	before, _ := net.Act(obs)
	clone := net.Clone()

	// Zero the clone's parameters; the source must be unaffected.
	clone.Params().Each(func(name string, tensor *mat.Dense) {
		tensor.Zero()
	})

	after, _ := net.Act(obs)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("Mutating clone changed source policy output: %f vs %f", before[i], after[i])
		}
	}

	// A zeroed network outputs tanh(0) = 0 on every component.
	cloneAction, _ := clone.Act(obs)
	for i, a := range cloneAction {
		if a != 0 {
			t.Errorf("Zeroed clone action component %d: expected 0, got %f", i, a)
		}
	}
}

func TestInitReproducible(t *testing.T) {
	a := testNet(t, 99)
	b := testNet(t, 99)

	af := a.Params().Flatten()
	bf := b.Params().Flatten()
	for i := range af {
		if af[i] != bf[i] {
			t.Fatalf("Same seed produced different initial parameters at index %d", i)
		}
	}

	c := testNet(t, 100)
	cf := c.Params().Flatten()
	same := true
	for i := range af {
		if af[i] != cf[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Different seeds produced identical initial parameters")
	}
}

func TestRestoreTopologyCheck(t *testing.T) {
	net := testNet(t, 5)
	other := testNet(t, 6)

	if err := net.Restore(other.Params()); err != nil {
		t.Fatalf("Restore with matching topology failed: %v", err)
	}

	small, err := NewNet(4, 8, 1, ActivationTanh, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewNet failed: %v", err)
	}
	if err := net.Restore(small.Params()); err == nil {
		t.Error("Expected topology mismatch error")
	}
}
