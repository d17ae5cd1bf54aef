package nn

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

var approx = cmpopts.EquateApprox(0.01, 1e-2)

// fillRandom fills dst with uniform values in [-1, 1).
func fillRandom(dst []float32, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, 1))
	for i := range dst {
		dst[i] = float32(rng.Float64()*2 - 1)
	}
}

// fillSeparated fills dst with a permutation of values spaced 0.1 apart and
// offset from 0 and 1, so small perturbations never cross a kink or change
// an argmax.
func fillSeparated(dst []float32, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, 2))
	for i, p := range rng.Perm(len(dst)) {
		dst[i] = float32(p-len(dst)/2)*0.1 + 0.05
	}
}

// harness wires a single layer behind an input layer.
type harness struct {
	in    *Input
	layer Layer
	probe []float32 // objective weights: L = Σ probe_i * y_i
}

func newHarness(layer Layer, batch int, fill func([]float32, uint64), dims ...int) *harness {
	in := NewInput(dims...)
	layer.Init(in.Shape())
	in.SetBatchSize(batch)
	fill(in.Values().Data(), 1)
	if w, b := layer.Parameters(); w != nil {
		fillRandom(w.Data(), 2)
		fillRandom(b.Data(), 3)
	}

	h := &harness{in: in, layer: layer}
	layer.Forward(in)
	h.probe = make([]float32, layer.Values().Len())
	fillRandom(h.probe, 4)
	return h
}

func (h *harness) objective() float64 {
	h.layer.Forward(h.in)
	var s float64
	for i, v := range h.layer.Values().Data() {
		s += float64(v) * float64(h.probe[i])
	}
	return s
}

func (h *harness) analytic() Gradient {
	h.layer.Forward(h.in)
	gradOut := tensor.FromSlice(h.probe, h.layer.Values().Shape()...)
	return h.layer.Backward(h.in, gradOut)
}

// numeric differentiates the objective with respect to every element of
// target using central differences, restoring target afterwards.
func (h *harness) numeric(target []float32) []float32 {
	orig := append([]float32(nil), target...)
	x := make([]float64, len(target))
	for i, v := range target {
		x[i] = float64(v)
	}

	grad := fd.Gradient(nil, func(p []float64) float64 {
		for i, v := range p {
			target[i] = float32(v)
		}
		return h.objective()
	}, x, &fd.Settings{Formula: fd.Central, Step: 1e-2})

	copy(target, orig)
	out := make([]float32, len(grad))
	for i, g := range grad {
		out[i] = float32(g)
	}
	return out
}

func checkGradients(t *testing.T, h *harness) {
	t.Helper()
	got := h.analytic()

	require.NotNil(t, got.Input)
	assert.Equal(t, h.in.Values().Shape(), got.Input.Shape(), "input gradient shape")
	if diff := cmp.Diff(h.numeric(h.in.Values().Data()), got.Input.Data(), approx); diff != "" {
		t.Errorf("input gradient mismatch (-numeric +analytic):\n%s", diff)
	}

	w, b := h.layer.Parameters()
	if w == nil {
		assert.Nil(t, got.Weights)
		assert.Nil(t, got.Biases)
		return
	}
	if diff := cmp.Diff(h.numeric(w.Data()), got.Weights.Data(), approx); diff != "" {
		t.Errorf("weight gradient mismatch (-numeric +analytic):\n%s", diff)
	}
	if diff := cmp.Diff(h.numeric(b.Data()), got.Biases.Data(), approx); diff != "" {
		t.Errorf("bias gradient mismatch (-numeric +analytic):\n%s", diff)
	}
}

func TestLinearGradients(t *testing.T) {
	checkGradients(t, newHarness(NewLinear(4), 3, fillRandom, 5))
}

func TestLinearFlattensMultiDimensionalInput(t *testing.T) {
	checkGradients(t, newHarness(NewLinear(3), 2, fillRandom, 2, 2, 2))
}

func TestConvolutionGradients(t *testing.T) {
	t.Run("overlapping", func(t *testing.T) {
		checkGradients(t, newHarness(NewConvolution(3, 3, 1), 2, fillRandom, 5, 5, 2))
	})
	t.Run("strided", func(t *testing.T) {
		checkGradients(t, newHarness(NewConvolution(2, 2, 2), 3, fillRandom, 6, 4, 1))
	})
}

func TestMaxPoolGradients(t *testing.T) {
	checkGradients(t, newHarness(NewMaxPool(2), 2, fillSeparated, 4, 4, 2))
}

func TestFlattenGradients(t *testing.T) {
	checkGradients(t, newHarness(NewFlatten(), 2, fillRandom, 3, 2, 2))
}

func TestReLUGradients(t *testing.T) {
	checkGradients(t, newHarness(NewReLU(), 2, fillSeparated, 10))
}

func TestCReLUGradients(t *testing.T) {
	checkGradients(t, newHarness(NewCReLU(), 3, fillSeparated, 12))
}

func TestSoftmaxGradients(t *testing.T) {
	checkGradients(t, newHarness(NewSoftmax(), 3, fillRandom, 6))
}

func TestConvolutionShapes(t *testing.T) {
	c := NewConvolution(4, 3, 2)
	c.Init(tensor.Shape{7, 9, 3})

	assert.Equal(t, tensor.Shape{3, 4, 4}, c.Shape())
	w, b := c.Parameters()
	assert.Equal(t, tensor.Shape{4, 27}, w.Shape())
	assert.Equal(t, tensor.Shape{4}, b.Shape())
	assert.Equal(t, 27, c.FanIn())
	assert.Equal(t, 36, c.FanOut())
	assert.Equal(t, 4*27+4, c.ParameterCount())
}

func TestConvolutionSinglePosition(t *testing.T) {
	// A kernel covering the whole input is a dot product plus bias.
	c := NewConvolution(1, 2, 1)
	in := NewInput(2, 2, 1)
	c.Init(in.Shape())
	copy(in.Values().Data(), []float32{1, 2, 3, 4})
	w, b := c.Parameters()
	copy(w.Data(), []float32{1, 0, -1, 0.5})
	b.Data()[0] = 0.25

	c.Forward(in)

	assert.InDelta(t, 1-3+2+0.25, c.Values().Data()[0], 1e-6)
}

func TestMaxPoolRoutesToArgmax(t *testing.T) {
	p := NewMaxPool(2)
	in := NewInput(2, 2, 1)
	p.Init(in.Shape())
	copy(in.Values().Data(), []float32{0.1, 0.9, 0.3, 0.2})

	p.Forward(in)
	require.Equal(t, []float32{0.9}, p.Values().Data())

	grad := p.Backward(in, tensor.FromSlice([]float32{5}, 1, 1, 1, 1))
	assert.Equal(t, []float32{0, 5, 0, 0}, grad.Input.Data())
}

func TestMaxPoolPerChannel(t *testing.T) {
	p := NewMaxPool(2)
	in := NewInput(2, 2, 2)
	p.Init(in.Shape())
	// HWC: channel 0 = {1, 4, 2, 3}, channel 1 = {8, 5, 7, 6}.
	copy(in.Values().Data(), []float32{1, 8, 4, 5, 2, 7, 3, 6})

	p.Forward(in)
	assert.Equal(t, []float32{4, 8}, p.Values().Data())

	grad := p.Backward(in, tensor.FromSlice([]float32{1, 2}, 1, 1, 1, 2))
	assert.Equal(t, []float32{0, 2, 1, 0, 0, 0, 0, 0}, grad.Input.Data())
}

func TestMaxPoolSplitsSamplesAndChannels(t *testing.T) {
	defer parallel.SetWorkers(0)

	const batch, side, channels = 3, 4, 5
	in := NewInput(side, side, channels)
	in.SetBatchSize(batch)
	fillRandom(in.Values().Data(), 11)

	// Reference maximum of every 2x2 window, per sample and channel.
	x := in.Values().Data()
	var want []float32
	for b := 0; b < batch; b++ {
		for oy := 0; oy < side/2; oy++ {
			for ox := 0; ox < side/2; ox++ {
				for ch := 0; ch < channels; ch++ {
					best := float32(-2)
					for ky := 0; ky < 2; ky++ {
						for kx := 0; kx < 2; kx++ {
							best = max(best, x[b*side*side*channels+((2*oy+ky)*side+2*ox+kx)*channels+ch])
						}
					}
					want = append(want, best)
				}
			}
		}
	}

	for _, workers := range []int{1, 4} {
		parallel.SetWorkers(workers)
		p := NewMaxPool(2)
		p.Init(in.Shape())
		p.Forward(in)
		assert.Equal(t, want, p.Values().Data(), "workers=%d", workers)
	}
}

func TestMaxPoolRejectsIndivisibleInput(t *testing.T) {
	assert.Panics(t, func() { NewMaxPool(2).Init(tensor.Shape{5, 4, 1}) })
	assert.Panics(t, func() { NewMaxPool(3).Init(tensor.Shape{6, 4, 1}) })
}

func TestSoftmaxProperties(t *testing.T) {
	s := NewSoftmax()
	in := NewInput(5)
	s.Init(in.Shape())
	in.SetBatchSize(2)
	copy(in.Values().Data(), []float32{1, 2, 3, 4, 5, -100, 0, 100, 3, 3})

	s.Forward(in)
	first := append([]float32(nil), s.Values().Row(0)...)
	for b := 0; b < 2; b++ {
		var sum float32
		for _, v := range s.Values().Row(b) {
			assert.GreaterOrEqual(t, v, float32(0))
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-5, "row %d", b)
	}

	// Shifting every logit by a constant leaves the distribution unchanged.
	for i := range in.Values().Row(0) {
		in.Values().Row(0)[i] += 1000
	}
	s.Forward(in)
	assert.True(t, cmp.Equal(first, s.Values().Row(0), cmpopts.EquateApprox(0, 1e-6)))
}

func TestActivationForward(t *testing.T) {
	in := NewInput(4)
	copy(in.Values().Data(), []float32{-1, 0.5, 2, 0})

	r := NewReLU()
	r.Init(in.Shape())
	r.Forward(in)
	assert.Equal(t, []float32{0, 0.5, 2, 0}, r.Values().Data())

	c := NewCReLU()
	c.Init(in.Shape())
	c.Forward(in)
	assert.Equal(t, []float32{0, 0.5, 1, 0}, c.Values().Data())
}

func TestFlattenShapes(t *testing.T) {
	f := NewFlatten()
	f.Init(tensor.Shape{2, 3, 4})
	assert.Equal(t, tensor.Shape{24}, f.Shape())

	in := NewInput(2, 3, 4)
	in.SetBatchSize(2)
	f.Forward(in)
	assert.Equal(t, tensor.Shape{2, 24}, f.Values().Shape())

	grad := f.Backward(in, tensor.New(2, 24))
	assert.Equal(t, tensor.Shape{2, 2, 3, 4}, grad.Input.Shape())
}

func TestLayerKinds(t *testing.T) {
	layers := []Layer{NewInput(1), NewLinear(1), NewConvolution(1, 1, 1), NewMaxPool(1),
		NewFlatten(), NewReLU(), NewCReLU(), NewSoftmax()}
	want := []Kind{KindInput, KindLinear, KindConvolution, KindMaxPool,
		KindFlatten, KindReLU, KindCReLU, KindSoftmax}

	for i, l := range layers {
		assert.Equal(t, want[i], l.Kind())
		assert.Equal(t, want[i] == KindLinear || want[i] == KindConvolution, l.HasParameters(), "%s", want[i])
	}
}

func TestInputBackwardPanics(t *testing.T) {
	in := NewInput(2)
	assert.Panics(t, func() { in.Backward(in, tensor.New(1, 2)) })
}
