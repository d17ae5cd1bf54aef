package nn

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/ember-ml/ember/internal/tensor"
)

func TestMSE(t *testing.T) {
	out := tensor.FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	target := tensor.FromSlice([]float32{1, 0, 3, 2}, 2, 2)

	var loss MSE
	assert.InDelta(t, 2, loss.Forward(out, target), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1, 0, 1}, loss.Backward(out, target).Data(), 1e-6)
}

func TestLossSizeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { MSE{}.Forward(tensor.New(2), tensor.New(3)) })
	assert.Panics(t, func() { CrossEntropy{}.Backward(tensor.New(2), tensor.New(3)) })
}

func TestCrossEntropyClampsProbabilities(t *testing.T) {
	out := tensor.FromSlice([]float32{0, 1, 0.5, 0.5}, 2, 2)
	target := tensor.FromSlice([]float32{1, 0, 0, 1}, 2, 2)

	var loss CrossEntropy
	want := (-math.Log(1e-10) - math.Log(0.5)) / 4
	assert.InDelta(t, want, loss.Forward(out, target), 1e-3)

	grad := loss.Backward(out, target).Data()
	assert.False(t, math.IsInf(float64(grad[0]), 0))
	assert.InDelta(t, -0.5, grad[3], 1e-6)
}

// lossGradientCheck compares Backward with central differences of Forward.
func lossGradientCheck(t *testing.T, loss Loss, out, target *tensor.Tensor) {
	t.Helper()
	x := make([]float64, out.Len())
	for i, v := range out.Data() {
		x[i] = float64(v)
	}
	numeric := fd.Gradient(nil, func(p []float64) float64 {
		probe := out.Clone()
		for i, v := range p {
			probe.Data()[i] = float32(v)
		}
		return float64(loss.Forward(probe, target))
	}, x, &fd.Settings{Formula: fd.Central, Step: 1e-2})

	got := loss.Backward(out, target).Data()
	want := make([]float32, len(numeric))
	for i, g := range numeric {
		want[i] = float32(g)
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("loss gradient mismatch (-numeric +analytic):\n%s", diff)
	}
}

func TestLossGradients(t *testing.T) {
	out := tensor.FromSlice([]float32{0.2, 0.7, 0.1, 0.3, 0.3, 0.4}, 2, 3)
	target := tensor.FromSlice([]float32{0, 1, 0, 1, 0, 0}, 2, 3)

	t.Run("mse", func(t *testing.T) { lossGradientCheck(t, MSE{}, out, target) })
	t.Run("cross entropy", func(t *testing.T) { lossGradientCheck(t, CrossEntropy{}, out, target) })

	evals := tensor.FromSlice([]float32{-3, 0.5, 12}, 3, 1)
	truth := tensor.FromSlice([]float32{1, 0, 8}, 3, 1)
	t.Run("sigmoid mse", func(t *testing.T) { lossGradientCheck(t, NewSigmoidMSE(), evals, truth) })
}

func TestSigmoidMSE(t *testing.T) {
	l := NewSigmoidMSE()
	same := tensor.FromSlice([]float32{3, -2}, 2, 1)
	assert.Equal(t, float32(0), l.Forward(same, same))

	stretched := NewStretchedSigmoidMSE(2)
	assert.InDelta(t, DefaultSigmoidB/2, stretched.B, 1e-7)
	assert.Equal(t, DefaultSigmoidA, stretched.A)
	assert.Panics(t, func() { NewStretchedSigmoidMSE(0) })
}
