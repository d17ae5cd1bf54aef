// Package nn implements the layer stack of the Ember training engine.
//
// This package provides:
//   - Layer: the uniform contract every layer kind implements
//   - Input, Linear, Convolution, MaxPool, Flatten: shape-changing layers
//   - ReLU, CReLU, Softmax: elementwise and per-sample activations
//   - Network: an ordered stack of layers with weight initialization
//   - Loss functions: MSE, SigmoidMSE, CrossEntropy
//
// Every layer keeps its output in a batched tensor whose leading dimension
// is the batch size; Shape reports the per-sample dimensions. Backward
// passes are written by hand for each kind: there is no graph autodiff.
package nn

import (
	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

// Kind identifies a layer variant.
type Kind int

// Layer kinds.
const (
	KindInput Kind = iota
	KindLinear
	KindConvolution
	KindMaxPool
	KindFlatten
	KindReLU
	KindCReLU
	KindSoftmax
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindLinear:
		return "Linear"
	case KindConvolution:
		return "Convolution"
	case KindMaxPool:
		return "MaxPool"
	case KindFlatten:
		return "Flatten"
	case KindReLU:
		return "ReLU"
	case KindCReLU:
		return "CReLU"
	case KindSoftmax:
		return "Softmax"
	default:
		return "Unknown"
	}
}

// Gradient is the result of one layer's backward pass for one batch.
//
// Input is the gradient with respect to the layer's input, shaped like the
// previous layer's values. Weights and Biases are nil for layers without
// parameters.
type Gradient struct {
	Input   *tensor.Tensor
	Weights *tensor.Tensor
	Biases  *tensor.Tensor
}

// Layer is the contract shared by every layer kind.
//
// Lifecycle: a layer is constructed once, receives Init with the previous
// layer's per-sample shape when it is placed in a Network, and is then
// forwarded once per batch. Backward must follow a Forward on the same
// batch: layers keep whatever forward state they need (patch matrices,
// argmax indices) until the next Forward.
type Layer interface {
	// Kind reports which variant this layer is.
	Kind() Kind

	// Shape returns the per-sample output dimensions.
	Shape() tensor.Shape

	// Values returns the batched output, shaped [batch, Shape()...].
	Values() *tensor.Tensor

	// Init sizes the layer for inputs of the given per-sample shape.
	// Parameters are allocated zeroed; Network fills them.
	Init(prev tensor.Shape)

	// SetBatchSize resizes Values for a new batch size.
	SetBatchSize(n int)

	// Forward computes Values from prev.Values().
	Forward(prev Layer)

	// Backward propagates gradOut (shaped like Values) to the layer input
	// and, for layers with parameters, to the weights and biases.
	Backward(prev Layer, gradOut *tensor.Tensor) Gradient

	// HasParameters reports whether the layer is trainable.
	HasParameters() bool

	// Parameters returns the weight and bias tensors, or nil for both.
	Parameters() (weights, biases *tensor.Tensor)

	// FanIn and FanOut are the connection counts used by initializers.
	FanIn() int
	FanOut() int

	// ParameterCount returns the number of trainable scalars.
	ParameterCount() int

	// String describes the layer for network summaries.
	String() string

	// Clone returns a deep copy, including parameters and current values.
	Clone() Layer
}

// base holds the state common to every layer: the per-sample shape and the
// batched output.
type base struct {
	shape  tensor.Shape
	values *tensor.Tensor
}

func newBase(shape tensor.Shape) base {
	return base{
		shape:  shape.Clone(),
		values: tensor.New(shape.WithBatch(1)...),
	}
}

func (b *base) Shape() tensor.Shape    { return b.shape.Clone() }
func (b *base) Values() *tensor.Tensor { return b.values }
func (b *base) SetBatchSize(n int)     { b.values.SetDim(0, n) }

// features is the per-sample element count.
func (b *base) features() int { return b.shape.NumElements() }

// batchFrom matches the output batch dimension to prev's and returns it.
func (b *base) batchFrom(prev Layer) int {
	n := prev.Values().Dim(0)
	b.values.SetDim(0, n)
	return n
}

func (b *base) cloneBase() base {
	if b.values == nil {
		return base{}
	}
	return base{shape: b.shape.Clone(), values: b.values.Clone()}
}

// zerosOn allocates a zeroed tensor on ref's device.
func zerosOn(ref *tensor.Tensor, dims ...int) *tensor.Tensor {
	return tensor.NewOn(ref.Device(), dims...)
}

// sampleConfig fans work out one sample at a time.
func sampleConfig() parallel.Config {
	cfg := parallel.Current()
	cfg.MinChunkSize = 1
	return cfg
}

// stateless supplies the parameter methods of non-trainable layers.
type stateless struct{}

func (stateless) HasParameters() bool               { return false }
func (stateless) Parameters() (w, b *tensor.Tensor) { return nil, nil }
func (stateless) FanIn() int                        { return 0 }
func (stateless) FanOut() int                       { return 0 }
func (stateless) ParameterCount() int               { return 0 }

// param is the parameter state shared by Linear and Convolution.
type param struct {
	weights *tensor.Tensor
	biases  *tensor.Tensor
}

func (p *param) HasParameters() bool               { return true }
func (p *param) Parameters() (w, b *tensor.Tensor) { return p.weights, p.biases }
func (p *param) ParameterCount() int               { return p.weights.Len() + p.biases.Len() }

func (p *param) cloneParam() param {
	if p.weights == nil {
		return param{}
	}
	return param{weights: p.weights.Clone(), biases: p.biases.Clone()}
}

// columnSum adds the column sums of g (viewed as [rows, len(dst)]) into dst.
func columnSum(dst []float32, g *tensor.Tensor) {
	cols := len(dst)
	data := g.Data()
	for off := 0; off < len(data); off += cols {
		row := data[off : off+cols]
		for j, v := range row {
			dst[j] += v
		}
	}
}
