package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ember-ml/ember/internal/tensor"
)

// Loss scores a batch of network outputs against targets.
//
// Forward returns the mean loss over every element of the batch; Backward
// returns the gradient of that mean with respect to output, so layer
// gradients are already averaged over the batch.
type Loss interface {
	Forward(output, target *tensor.Tensor) float32
	Backward(output, target *tensor.Tensor) *tensor.Tensor
}

func checkLoss(name string, output, target *tensor.Tensor) {
	if output.Len() != target.Len() {
		panic(fmt.Sprintf("%s: output %v and target %v differ in size", name, output, target))
	}
}

// MSE is the mean squared error.
type MSE struct{}

// Forward computes mean((o - t)²).
func (MSE) Forward(output, target *tensor.Tensor) float32 {
	checkLoss("mse", output, target)
	var sum float32
	t := target.Data()
	for i, o := range output.Data() {
		d := o - t[i]
		sum += d * d
	}
	return sum / float32(output.Len())
}

// Backward computes 2(o - t)/n.
func (MSE) Backward(output, target *tensor.Tensor) *tensor.Tensor {
	checkLoss("mse", output, target)
	grad := zerosOn(output, output.Shape()...)
	scale := 2 / float32(output.Len())
	g, t := grad.Data(), target.Data()
	for i, o := range output.Data() {
		g[i] = (o - t[i]) * scale
	}
	return grad
}

// SigmoidMSE compares outputs and targets after squashing both through
//
//	f(x) = K / (1 + exp(A + B*x))
//
// The defaults map centipawn-scale chess evaluations onto a win-probability
// like curve.
type SigmoidMSE struct {
	A, B, K float32
}

// Default SigmoidMSE coefficients.
const (
	DefaultSigmoidA float32 = 2.3
	DefaultSigmoidB float32 = -0.17
	DefaultSigmoidK float32 = 3
)

// NewSigmoidMSE returns the loss with default coefficients.
func NewSigmoidMSE() SigmoidMSE {
	return SigmoidMSE{A: DefaultSigmoidA, B: DefaultSigmoidB, K: DefaultSigmoidK}
}

// NewStretchedSigmoidMSE returns the default loss with the curve stretched
// horizontally by the given factor.
func NewStretchedSigmoidMSE(stretch float32) SigmoidMSE {
	if stretch == 0 {
		panic("sigmoid mse: horizontal stretch must be non-zero")
	}
	l := NewSigmoidMSE()
	l.B /= stretch
	return l
}

func (l SigmoidMSE) squash(x float32) float32 {
	return l.K / (1 + math32.Exp(l.A+l.B*x))
}

// Forward computes mean((f(o) - f(t))²).
func (l SigmoidMSE) Forward(output, target *tensor.Tensor) float32 {
	checkLoss("sigmoid mse", output, target)
	var sum float32
	t := target.Data()
	for i, o := range output.Data() {
		d := l.squash(o) - l.squash(t[i])
		sum += d * d
	}
	return sum / float32(output.Len())
}

// Backward computes 2(f(o) - f(t))·f'(o)/n.
func (l SigmoidMSE) Backward(output, target *tensor.Tensor) *tensor.Tensor {
	checkLoss("sigmoid mse", output, target)
	grad := zerosOn(output, output.Shape()...)
	scale := 2 / float32(output.Len())
	g, t := grad.Data(), target.Data()
	for i, o := range output.Data() {
		e := math32.Exp(l.A + l.B*o)
		fo := l.K / (1 + e)
		ft := l.squash(t[i])
		dfo := -l.K * l.B * e / ((1 + e) * (1 + e))
		g[i] = scale * (fo - ft) * dfo
	}
	return grad
}

// Probability bounds applied by CrossEntropy before taking logarithms.
const (
	minProbability float32 = 1e-10
	maxProbability float32 = 1
)

// CrossEntropy expects probabilities (a Softmax output) and non-negative
// targets, typically one-hot.
type CrossEntropy struct{}

// Forward computes -mean(t·log(clamp(o))).
func (CrossEntropy) Forward(output, target *tensor.Tensor) float32 {
	checkLoss("cross entropy", output, target)
	var sum float32
	t := target.Data()
	for i, o := range output.Data() {
		if t[i] < 0 {
			panic(fmt.Sprintf("cross entropy: negative target %v at %d", t[i], i))
		}
		p := min(max(o, minProbability), maxProbability)
		sum -= t[i] * math32.Log(p)
	}
	return sum / float32(output.Len())
}

// Backward computes -t/(n·max(o, 1e-10)).
func (CrossEntropy) Backward(output, target *tensor.Tensor) *tensor.Tensor {
	checkLoss("cross entropy", output, target)
	grad := zerosOn(output, output.Shape()...)
	scale := 1 / float32(output.Len())
	g, t := grad.Data(), target.Data()
	for i, o := range output.Data() {
		g[i] = -t[i] / max(o, minProbability) * scale
	}
	return grad
}
