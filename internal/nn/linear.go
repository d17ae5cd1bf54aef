package nn

import (
	"fmt"

	"github.com/ember-ml/ember/internal/tensor"
)

// Input is the first layer of every Network. Network.Forward copies the
// batch straight into its values.
type Input struct {
	base
	stateless
}

// NewInput creates an input layer for samples of the given shape.
//
// Example:
//
//	in := nn.NewInput(28, 28, 1) // greyscale 28x28 images, HWC
func NewInput(dims ...int) *Input {
	shape := tensor.Shape(dims)
	if len(shape) == 0 {
		panic("input: at least one dimension is required")
	}
	return &Input{base: newBase(shape)}
}

// Kind returns KindInput.
func (l *Input) Kind() Kind { return KindInput }

// Init is a no-op: the input layer has no predecessor.
func (l *Input) Init(tensor.Shape) {}

// Forward is a no-op.
func (l *Input) Forward(Layer) {}

// Backward panics: nothing precedes the input layer.
func (l *Input) Backward(Layer, *tensor.Tensor) Gradient {
	panic("input: backward reached the input layer")
}

func (l *Input) String() string {
	return fmt.Sprintf("Input %v (%d features)", []int(l.shape), l.features())
}

// Clone returns a deep copy.
func (l *Input) Clone() Layer {
	return &Input{base: l.cloneBase()}
}

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the previous layer's values viewed as [batch, in]
//   - W is the weight matrix with shape [out, in]
//   - b is the bias vector with shape [out]
//   - y is the output with shape [batch, out]
//
// Multi-dimensional inputs are flattened per sample, so a Linear may follow
// a Convolution or MaxPool directly.
type Linear struct {
	base
	param
	in int
}

// NewLinear creates a Linear layer with out output features. The input
// width is fixed by Init.
func NewLinear(out int) *Linear {
	if out <= 0 {
		panic(fmt.Sprintf("linear: output features must be positive, got %d", out))
	}
	return &Linear{base: newBase(tensor.Shape{out})}
}

// Kind returns KindLinear.
func (l *Linear) Kind() Kind { return KindLinear }

// Init allocates zeroed weights [out, in] and biases [out].
func (l *Linear) Init(prev tensor.Shape) {
	l.in = prev.NumElements()
	out := l.shape[0]
	l.weights = tensor.New(out, l.in)
	l.biases = tensor.New(out)
}

// FanIn returns the input width.
func (l *Linear) FanIn() int { return l.in }

// FanOut returns the output width.
func (l *Linear) FanOut() int { return l.shape[0] }

// Forward computes values = prev · Wᵀ + b in one matrix multiply.
func (l *Linear) Forward(prev Layer) {
	x := prev.Values().Matrix()
	if x.Dim(1) != l.in {
		panic(fmt.Sprintf("linear: expected %d input features, got %d", l.in, x.Dim(1)))
	}

	n := l.batchFrom(prev)
	bias := l.biases.Data()
	for i := 0; i < n; i++ {
		copy(l.values.Row(i), bias)
	}
	l.values.Madd(x, l.weights, false, true)
}

// Backward computes
//
//	gradInput  = gradOut · W
//	weightGrad = gradOutᵀ · prev
//	biasGrad   = columnSum(gradOut)
func (l *Linear) Backward(prev Layer, gradOut *tensor.Tensor) Gradient {
	if gradOut.Len() != l.values.Len() {
		panic(fmt.Sprintf("linear: gradient %v does not match output %v", gradOut, l.values))
	}
	g := gradOut.Matrix()
	x := prev.Values().Matrix()

	gradIn := zerosOn(l.values, prev.Values().Shape()...)
	gradIn.Matrix().Madd(g, l.weights, false, false)

	weightGrad := zerosOn(l.weights, l.weights.Shape()...)
	weightGrad.Madd(g, x, true, false)

	biasGrad := zerosOn(l.biases, l.biases.Shape()...)
	columnSum(biasGrad.Data(), g)

	return Gradient{Input: gradIn, Weights: weightGrad, Biases: biasGrad}
}

func (l *Linear) String() string {
	return fmt.Sprintf("Linear %d -> %d", l.in, l.shape[0])
}

// Clone returns a deep copy including parameters.
func (l *Linear) Clone() Layer {
	return &Linear{base: l.cloneBase(), param: l.cloneParam(), in: l.in}
}
