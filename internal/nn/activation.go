package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ember-ml/ember/internal/tensor"
)

// ReLU applies max(x, 0) elementwise.
type ReLU struct {
	base
	stateless
}

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU { return &ReLU{} }

// Kind returns KindReLU.
func (r *ReLU) Kind() Kind { return KindReLU }

// Init keeps the incoming shape.
func (r *ReLU) Init(prev tensor.Shape) { r.base = newBase(prev) }

// Forward computes max(x, 0).
func (r *ReLU) Forward(prev Layer) {
	r.batchFrom(prev)
	out := r.values.Data()
	for i, x := range prev.Values().Data() {
		out[i] = max(x, 0)
	}
}

// Backward passes the gradient where the input was positive.
func (r *ReLU) Backward(prev Layer, gradOut *tensor.Tensor) Gradient {
	return Gradient{Input: gate(prev.Values(), gradOut, func(x float32) bool { return x > 0 })}
}

func (r *ReLU) String() string {
	return fmt.Sprintf("ReLU on %d features", r.features())
}

// Clone returns a deep copy.
func (r *ReLU) Clone() Layer { return &ReLU{base: r.cloneBase()} }

// CReLU applies clamp(x, 0, 1) elementwise.
type CReLU struct {
	base
	stateless
}

// NewCReLU creates a clipped ReLU activation layer.
func NewCReLU() *CReLU { return &CReLU{} }

// Kind returns KindCReLU.
func (r *CReLU) Kind() Kind { return KindCReLU }

// Init keeps the incoming shape.
func (r *CReLU) Init(prev tensor.Shape) { r.base = newBase(prev) }

// Forward computes clamp(x, 0, 1).
func (r *CReLU) Forward(prev Layer) {
	r.batchFrom(prev)
	out := r.values.Data()
	for i, x := range prev.Values().Data() {
		out[i] = min(max(x, 0), 1)
	}
}

// Backward passes the gradient where the input was strictly inside (0, 1).
func (r *CReLU) Backward(prev Layer, gradOut *tensor.Tensor) Gradient {
	return Gradient{Input: gate(prev.Values(), gradOut, func(x float32) bool { return x > 0 && x < 1 })}
}

func (r *CReLU) String() string {
	return fmt.Sprintf("CReLU on %d features", r.features())
}

// Clone returns a deep copy.
func (r *CReLU) Clone() Layer { return &CReLU{base: r.cloneBase()} }

// gate returns gradOut masked to the positions where active(input) holds.
func gate(input, gradOut *tensor.Tensor, active func(float32) bool) *tensor.Tensor {
	if input.Len() != gradOut.Len() {
		panic(fmt.Sprintf("activation: gradient %v does not match input %v", gradOut, input))
	}
	gradIn := zerosOn(gradOut, input.Shape()...)
	dst, g := gradIn.Data(), gradOut.Data()
	for i, x := range input.Data() {
		if active(x) {
			dst[i] = g[i]
		}
	}
	return gradIn
}

// Softmax normalizes each sample into a probability distribution.
//
// The per-sample maximum is subtracted before exponentiating. If every
// exponential underflows to zero the sample becomes uniform instead of NaN.
type Softmax struct {
	base
	stateless
}

// NewSoftmax creates a softmax layer.
func NewSoftmax() *Softmax { return &Softmax{} }

// Kind returns KindSoftmax.
func (s *Softmax) Kind() Kind { return KindSoftmax }

// Init keeps the incoming shape.
func (s *Softmax) Init(prev tensor.Shape) { s.base = newBase(prev) }

// Forward computes softmax per sample.
func (s *Softmax) Forward(prev Layer) {
	n := s.batchFrom(prev)
	in := prev.Values().Matrix()
	for b := 0; b < n; b++ {
		softmax(s.values.Row(b), in.Row(b))
	}
}

func softmax(dst, src []float32) {
	peak := math32.Inf(-1)
	for _, v := range src {
		peak = max(peak, v)
	}

	var sum float32
	for i, v := range src {
		dst[i] = math32.Exp(v - peak)
		sum += dst[i]
	}

	if sum == 0 {
		uniform := 1 / float32(len(dst))
		for i := range dst {
			dst[i] = uniform
		}
		return
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// Backward applies the softmax Jacobian without materializing it:
//
//	grad_i = s_i * (gradOut_i - Σ_j s_j*gradOut_j)
func (s *Softmax) Backward(_ Layer, gradOut *tensor.Tensor) Gradient {
	if gradOut.Len() != s.values.Len() {
		panic(fmt.Sprintf("softmax: gradient %v does not match output %v", gradOut, s.values))
	}
	gradIn := zerosOn(s.values, s.values.Shape()...)
	g, dst := gradOut.Matrix(), gradIn.Matrix()

	for b := 0; b < s.values.Dim(0); b++ {
		sm, gb, db := s.values.Row(b), g.Row(b), dst.Row(b)
		var dot float32
		for j := range sm {
			dot += sm[j] * gb[j]
		}
		for i := range sm {
			db[i] = sm[i] * (gb[i] - dot)
		}
	}
	return Gradient{Input: gradIn}
}

func (s *Softmax) String() string {
	return fmt.Sprintf("Softmax over %d classes", s.features())
}

// Clone returns a deep copy.
func (s *Softmax) Clone() Layer { return &Softmax{base: s.cloneBase()} }
