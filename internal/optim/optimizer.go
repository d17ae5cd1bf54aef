// Package optim implements the parameter update rules of the Ember engine.
//
// This package provides:
//   - Optimizer interface: gradient accumulation, clipping, update
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with decoupled weight decay
//
// An optimizer is bound to one Network. It owns one weight and one bias
// accumulator per trainable layer, indexed by layer position; positions
// of layers without parameters hold nil.
//
// Example usage:
//
//	opt := optim.NewAdam(net, optim.AdamConfig{})
//
//	// One batch
//	opt.ZeroGrad()
//	net.Forward(input)
//	// ... backward, calling opt.Accumulate(i, grad, 1) per layer ...
//	opt.ClipGrad(1)
//	opt.Step(0.001)
package optim

import (
	"fmt"
	"math"

	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/tensor"
)

// Optimizer is the contract between the training loop and an update rule.
type Optimizer interface {
	// ZeroGrad clears every gradient accumulator.
	ZeroGrad()

	// ClipGrad rescales all accumulated gradients so that their global L2
	// norm is at most maxNorm. A zero norm is left untouched.
	ClipGrad(maxNorm float32)

	// Step applies one update with learning rate lr to every trainable layer.
	Step(lr float32)

	// Accumulate adds scale times the parameter gradients of grad into the
	// accumulators of layer i. Gradients without parameters are ignored.
	Accumulate(i int, grad nn.Gradient, scale float32)

	// Gradients returns the accumulators of layer i, or nil for both when
	// the layer has no parameters.
	Gradients(i int) (weights, biases *tensor.Tensor)
}

// accumulators holds the per-layer gradient buffers shared by every
// optimizer.
type accumulators struct {
	net         *nn.Network
	weightGrads []*tensor.Tensor
	biasGrads   []*tensor.Tensor
}

func newAccumulators(net *nn.Network) accumulators {
	a := accumulators{net: net}
	a.weightGrads, a.biasGrads = a.zerosLikeParameters()
	return a
}

// zerosLikeParameters allocates one zeroed buffer per weight and bias
// tensor, on the parameter's device.
func (a *accumulators) zerosLikeParameters() (weights, biases []*tensor.Tensor) {
	weights = make([]*tensor.Tensor, a.net.Len())
	biases = make([]*tensor.Tensor, a.net.Len())
	for i, l := range a.net.Layers() {
		w, b := l.Parameters()
		if w == nil {
			continue
		}
		weights[i] = tensor.NewOn(w.Device(), w.Shape()...)
		biases[i] = tensor.NewOn(b.Device(), b.Shape()...)
	}
	return weights, biases
}

// ZeroGrad clears every gradient accumulator.
func (a *accumulators) ZeroGrad() {
	for i := range a.weightGrads {
		if a.weightGrads[i] != nil {
			a.weightGrads[i].Zero()
			a.biasGrads[i].Zero()
		}
	}
}

// Accumulate adds scale*grad into the buffers of layer i.
func (a *accumulators) Accumulate(i int, grad nn.Gradient, scale float32) {
	if grad.Weights == nil {
		return
	}
	if a.weightGrads[i] == nil {
		panic(fmt.Sprintf("optim: layer %d has no parameters to accumulate into", i))
	}
	axpy(a.weightGrads[i], grad.Weights, scale)
	axpy(a.biasGrads[i], grad.Biases, scale)
}

func axpy(dst, src *tensor.Tensor, scale float32) {
	if dst.Len() != src.Len() {
		panic(fmt.Sprintf("optim: gradient %v does not match accumulator %v", src, dst))
	}
	d := dst.Data()
	for j, v := range src.Data() {
		d[j] += scale * v
	}
}

// Gradients returns the accumulators of layer i.
func (a *accumulators) Gradients(i int) (weights, biases *tensor.Tensor) {
	return a.weightGrads[i], a.biasGrads[i]
}

// GradNorm returns the global L2 norm of all accumulated gradients.
func (a *accumulators) GradNorm() float32 {
	var sq float64
	for _, buffers := range [][]*tensor.Tensor{a.weightGrads, a.biasGrads} {
		for _, g := range buffers {
			if g == nil {
				continue
			}
			for _, v := range g.Data() {
				sq += float64(v) * float64(v)
			}
		}
	}
	return float32(math.Sqrt(sq))
}

// ClipGrad rescales the gradients to a global norm of at most maxNorm.
func (a *accumulators) ClipGrad(maxNorm float32) {
	norm := a.GradNorm()
	if norm <= maxNorm || norm == 0 {
		return
	}

	scale := maxNorm / norm
	for _, buffers := range [][]*tensor.Tensor{a.weightGrads, a.biasGrads} {
		for _, g := range buffers {
			if g == nil {
				continue
			}
			data := g.Data()
			for j := range data {
				data[j] *= scale
			}
		}
	}
}

// forEachParameter calls f with every (parameter, gradient) pair, weights
// before biases, in layer order.
func (a *accumulators) forEachParameter(f func(i int, bias bool, param, grad []float32)) {
	for i, l := range a.net.Layers() {
		w, b := l.Parameters()
		if w == nil {
			continue
		}
		f(i, false, w.Data(), a.weightGrads[i].Data())
		f(i, true, b.Data(), a.biasGrads[i].Data())
	}
}
