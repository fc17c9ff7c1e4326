package policy

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ParamSet is an ordered mapping from parameter name to a dense tensor.
// The set of names and each tensor's shape are fixed once construction is
// complete; only the values change afterwards. Optimizers treat the set as
// opaque beyond name/shape/value access.
type ParamSet struct {
	names   []string
	tensors map[string]*mat.Dense
}

// NewParamSet creates an empty parameter set.
func NewParamSet() *ParamSet {
	return &ParamSet{
		tensors: make(map[string]*mat.Dense),
	}
}

// Register adds a named tensor to the set. Names must be unique; the
// registration order defines the iteration order for the lifetime of the set.
func (ps *ParamSet) Register(name string, tensor *mat.Dense) error {
	if name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if tensor == nil {
		return fmt.Errorf("parameter %q: tensor cannot be nil", name)
	}
	if _, exists := ps.tensors[name]; exists {
		return fmt.Errorf("parameter %q already registered", name)
	}
	ps.names = append(ps.names, name)
	ps.tensors[name] = tensor
	return nil
}

// Names returns the parameter names in registration order.
// The returned slice is a copy.
func (ps *ParamSet) Names() []string {
	return append([]string{}, ps.names...)
}

// Tensor returns the tensor registered under name.
func (ps *ParamSet) Tensor(name string) (*mat.Dense, bool) {
	t, ok := ps.tensors[name]
	return t, ok
}

// Each calls fn for every (name, tensor) pair in registration order.
func (ps *ParamSet) Each(fn func(name string, tensor *mat.Dense)) {
	for _, name := range ps.names {
		fn(name, ps.tensors[name])
	}
}

// NumValues returns the total number of scalar values across all tensors.
func (ps *ParamSet) NumValues() int {
	n := 0
	for _, name := range ps.names {
		r, c := ps.tensors[name].Dims()
		n += r * c
	}
	return n
}

// Clone returns a parameter set with the same names and shapes whose tensors
// are value copies. No storage is shared between the original and the clone.
func (ps *ParamSet) Clone() *ParamSet {
	clone := NewParamSet()
	for _, name := range ps.names {
		clone.names = append(clone.names, name)
		clone.tensors[name] = mat.DenseCopyOf(ps.tensors[name])
	}
	return clone
}

// AddScaled applies tensor += scale * delta for every named tensor, in place.
// Shapes are verified for every name before any tensor is touched, so a
// mismatch leaves the set unmodified.
func (ps *ParamSet) AddScaled(delta *ParamSet, scale float64) error {
	if err := ps.compatible(delta); err != nil {
		return err
	}
	for _, name := range ps.names {
		dst := ps.tensors[name]
		src := delta.tensors[name]
		r, c := dst.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				dst.Set(i, j, dst.At(i, j)+scale*src.At(i, j))
			}
		}
	}
	return nil
}

// CopyFrom overwrites every tensor's values with those from src.
// Shapes are verified for every name before any tensor is touched.
func (ps *ParamSet) CopyFrom(src *ParamSet) error {
	if err := ps.compatible(src); err != nil {
		return err
	}
	for _, name := range ps.names {
		ps.tensors[name].Copy(src.tensors[name])
	}
	return nil
}

// compatible reports whether other has exactly the same names and shapes.
func (ps *ParamSet) compatible(other *ParamSet) error {
	if other == nil {
		return fmt.Errorf("parameter set cannot be nil")
	}
	if len(other.names) != len(ps.names) {
		return fmt.Errorf("parameter count mismatch: %d vs %d", len(ps.names), len(other.names))
	}
	for _, name := range ps.names {
		src, ok := other.tensors[name]
		if !ok {
			return fmt.Errorf("parameter %q missing", name)
		}
		r, c := ps.tensors[name].Dims()
		sr, sc := src.Dims()
		if r != sr || c != sc {
			return fmt.Errorf("parameter %q shape mismatch: %dx%d vs %dx%d", name, r, c, sr, sc)
		}
	}
	return nil
}

// Flatten returns all values concatenated in registration order, row-major
// within each tensor. Used by strategies that operate on a flat vector.
func (ps *ParamSet) Flatten() []float64 {
	flat := make([]float64, 0, ps.NumValues())
	for _, name := range ps.names {
		t := ps.tensors[name]
		r, c := t.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				flat = append(flat, t.At(i, j))
			}
		}
	}
	return flat
}

// SetFlat writes values back from a flat vector produced by Flatten.
func (ps *ParamSet) SetFlat(flat []float64) error {
	if len(flat) != ps.NumValues() {
		return fmt.Errorf("flat vector length mismatch: expected %d, got %d", ps.NumValues(), len(flat))
	}
	k := 0
	for _, name := range ps.names {
		t := ps.tensors[name]
		r, c := t.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				t.Set(i, j, flat[k])
				k++
			}
		}
	}
	return nil
}

// tensorJSON is the serialized form of one tensor.
type tensorJSON struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// paramSetJSON is the serialized form of a ParamSet. The explicit name list
// preserves registration order across a round trip.
type paramSetJSON struct {
	Names   []string              `json:"names"`
	Tensors map[string]tensorJSON `json:"tensors"`
}

// MarshalJSON serializes the full name -> tensor mapping.
func (ps *ParamSet) MarshalJSON() ([]byte, error) {
	out := paramSetJSON{
		Names:   ps.names,
		Tensors: make(map[string]tensorJSON, len(ps.names)),
	}
	for _, name := range ps.names {
		t := ps.tensors[name]
		r, c := t.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data = append(data, t.At(i, j))
			}
		}
		out.Tensors[name] = tensorJSON{Rows: r, Cols: c, Data: data}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a parameter set serialized by MarshalJSON.
func (ps *ParamSet) UnmarshalJSON(data []byte) error {
	var in paramSetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	restored := NewParamSet()
	for _, name := range in.Names {
		t, ok := in.Tensors[name]
		if !ok {
			return fmt.Errorf("parameter %q listed but not present", name)
		}
		if t.Rows <= 0 || t.Cols <= 0 {
			return fmt.Errorf("parameter %q has invalid shape %dx%d", name, t.Rows, t.Cols)
		}
		if len(t.Data) != t.Rows*t.Cols {
			return fmt.Errorf("parameter %q data length %d does not match shape %dx%d", name, len(t.Data), t.Rows, t.Cols)
		}
		if err := restored.Register(name, mat.NewDense(t.Rows, t.Cols, append([]float64{}, t.Data...))); err != nil {
			return err
		}
	}
	*ps = *restored
	return nil
}
