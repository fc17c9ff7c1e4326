package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Activation selects the hidden-layer nonlinearity.
type Activation string

const (
	ActivationTanh Activation = "tanh"
	ActivationReLU Activation = "relu"
)

// Net is a fixed-topology control policy: observation -> linear -> hidden
// nonlinearity -> linear -> tanh. The final tanh bounds every action
// component to [-1, 1] regardless of parameter values. The network carries
// no gradient machinery; its parameters only change through an optimizer
// writing into the ParamSet.
type Net struct {
	obsDim     int
	hiddenDim  int
	actDim     int
	activation Activation
	params     *ParamSet
}

// NewNet creates a policy network with randomly initialized parameters.
// Weights are drawn uniformly from [-1/sqrt(fanIn), 1/sqrt(fanIn)] using the
// provided random stream, so a seeded stream makes initialization
// reproducible.
func NewNet(obsDim, hiddenDim, actDim int, activation Activation, rng *rand.Rand) (*Net, error) {
	if obsDim <= 0 || hiddenDim <= 0 || actDim <= 0 {
		return nil, fmt.Errorf("invalid policy dimensions: obs=%d hidden=%d act=%d", obsDim, hiddenDim, actDim)
	}
	switch activation {
	case ActivationTanh, ActivationReLU:
	default:
		return nil, fmt.Errorf("unknown activation: %q", activation)
	}
	if rng == nil {
		return nil, fmt.Errorf("random stream cannot be nil")
	}

	params := NewParamSet()
	layers := []struct {
		weight string
		bias   string
		out    int
		in     int
	}{
		{"fc1.weight", "fc1.bias", hiddenDim, obsDim},
		{"fc2.weight", "fc2.bias", actDim, hiddenDim},
	}
	for _, l := range layers {
		bound := 1.0 / math.Sqrt(float64(l.in))
		w := mat.NewDense(l.out, l.in, nil)
		for i := 0; i < l.out; i++ {
			for j := 0; j < l.in; j++ {
				w.Set(i, j, (2*rng.Float64()-1)*bound)
			}
		}
		b := mat.NewDense(l.out, 1, nil)
		for i := 0; i < l.out; i++ {
			b.Set(i, 0, (2*rng.Float64()-1)*bound)
		}
		if err := params.Register(l.weight, w); err != nil {
			return nil, err
		}
		if err := params.Register(l.bias, b); err != nil {
			return nil, err
		}
	}

	return &Net{
		obsDim:     obsDim,
		hiddenDim:  hiddenDim,
		actDim:     actDim,
		activation: activation,
		params:     params,
	}, nil
}

// ObservationSize returns the expected observation dimension.
func (n *Net) ObservationSize() int { return n.obsDim }

// ActionSize returns the produced action dimension.
func (n *Net) ActionSize() int { return n.actDim }

// Params exposes the network's parameter set for optimizer updates.
func (n *Net) Params() *ParamSet { return n.params }

// Act computes the action for an observation. The mapping is deterministic
// and has no side effects; every action component lies in [-1, 1].
func (n *Net) Act(obs []float64) ([]float64, error) {
	if len(obs) != n.obsDim {
		return nil, fmt.Errorf("observation dimension mismatch: expected %d, got %d", n.obsDim, len(obs))
	}

	w1, _ := n.params.Tensor("fc1.weight")
	b1, _ := n.params.Tensor("fc1.bias")
	w2, _ := n.params.Tensor("fc2.weight")
	b2, _ := n.params.Tensor("fc2.bias")

	hidden := make([]float64, n.hiddenDim)
	x := mat.NewVecDense(n.obsDim, obs)
	var h mat.VecDense
	h.MulVec(w1, x)
	for i := 0; i < n.hiddenDim; i++ {
		v := h.AtVec(i) + b1.At(i, 0)
		switch n.activation {
		case ActivationReLU:
			if v < 0 {
				v = 0
			}
		default:
			v = math.Tanh(v)
		}
		hidden[i] = v
	}

	action := make([]float64, n.actDim)
	var out mat.VecDense
	out.MulVec(w2, mat.NewVecDense(n.hiddenDim, hidden))
	for i := 0; i < n.actDim; i++ {
		action[i] = math.Tanh(out.AtVec(i) + b2.At(i, 0))
	}
	return action, nil
}

// Clone returns a policy with identical topology and value-identical but
// storage-independent parameters.
func (n *Net) Clone() *Net {
	return &Net{
		obsDim:     n.obsDim,
		hiddenDim:  n.hiddenDim,
		actDim:     n.actDim,
		activation: n.activation,
		params:     n.params.Clone(),
	}
}

// Restore overwrites the network's parameters from a snapshot. The snapshot
// must have exactly the same names and shapes as the network's topology.
func (n *Net) Restore(snapshot *ParamSet) error {
	if err := n.params.CopyFrom(snapshot); err != nil {
		return fmt.Errorf("snapshot incompatible with policy topology: %w", err)
	}
	return nil
}
