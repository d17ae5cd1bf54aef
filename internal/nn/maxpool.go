package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

// MaxPool downsamples HWC samples by taking the maximum of each
// non-overlapping window x window region, per channel.
//
// The input height and width must be divisible by the window.
type MaxPool struct {
	base
	stateless

	window        int
	inH, inW, inC int

	// argmax holds, per output element, the flat in-sample index of the
	// input element that produced it.
	argmax []int
}

// NewMaxPool creates a pooling layer whose window equals its stride.
func NewMaxPool(window int) *MaxPool {
	if window <= 0 {
		panic(fmt.Sprintf("maxpool: window must be positive, got %d", window))
	}
	return &MaxPool{window: window}
}

// Kind returns KindMaxPool.
func (p *MaxPool) Kind() Kind { return KindMaxPool }

// Init sizes the layer for [H, W, C] inputs.
func (p *MaxPool) Init(prev tensor.Shape) {
	if len(prev) != 3 {
		panic(fmt.Sprintf("maxpool: expected [H, W, C] input, got %v", []int(prev)))
	}
	p.inH, p.inW, p.inC = prev[0], prev[1], prev[2]
	if p.inH%p.window != 0 || p.inW%p.window != 0 {
		panic(fmt.Sprintf("maxpool: %dx%d input is not divisible by window %d", p.inH, p.inW, p.window))
	}
	p.base = newBase(tensor.Shape{p.inH / p.window, p.inW / p.window, p.inC})
}

// Forward selects the maximum of every window and records its source.
func (p *MaxPool) Forward(prev Layer) {
	n := p.batchFrom(prev)
	outSize := p.features()
	inSize := p.inH * p.inW * p.inC
	if cap(p.argmax) < n*outSize {
		p.argmax = make([]int, n*outSize)
	}
	p.argmax = p.argmax[:n*outSize]

	in, out := prev.Values().Data(), p.values.Data()
	outH, outW := p.shape[0], p.shape[1]

	parallel.ForBatch(n, p.inC, func(b, ch int) {
		x := in[b*inSize : (b+1)*inSize]
		y := out[b*outSize : (b+1)*outSize]
		idx := p.argmax[b*outSize : (b+1)*outSize]

		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				best, bestIdx := math32.Inf(-1), -1
				for ky := 0; ky < p.window; ky++ {
					for kx := 0; kx < p.window; kx++ {
						i := ((oy*p.window+ky)*p.inW+ox*p.window+kx)*p.inC + ch
						if bestIdx < 0 || x[i] > best {
							best, bestIdx = x[i], i
						}
					}
				}
				o := (oy*outW+ox)*p.inC + ch
				y[o] = best
				idx[o] = bestIdx
			}
		}
	}, sampleConfig())
}

// Backward routes each output gradient to the input element recorded by
// Forward; every other input position receives zero.
func (p *MaxPool) Backward(prev Layer, gradOut *tensor.Tensor) Gradient {
	if gradOut.Len() != len(p.argmax) {
		panic(fmt.Sprintf("maxpool: gradient %v does not match the last forward pass", gradOut))
	}
	gradIn := zerosOn(p.values, prev.Values().Shape()...)
	n := p.values.Dim(0)
	outSize := p.features()
	inSize := p.inH * p.inW * p.inC

	g, dst := gradOut.Data(), gradIn.Data()
	parallel.For(n, func(b int) {
		gi := dst[b*inSize : (b+1)*inSize]
		for o, src := range p.argmax[b*outSize : (b+1)*outSize] {
			gi[src] += g[b*outSize+o]
		}
	}, sampleConfig())

	return Gradient{Input: gradIn}
}

func (p *MaxPool) String() string {
	return fmt.Sprintf("MaxPool %dx%d: %dx%dx%d -> %dx%dx%d",
		p.window, p.window, p.inH, p.inW, p.inC, p.shape[0], p.shape[1], p.inC)
}

// Clone returns a deep copy.
func (p *MaxPool) Clone() Layer {
	clone := *p
	clone.base = p.cloneBase()
	clone.argmax = append([]int(nil), p.argmax...)
	return &clone
}

// Flatten reshapes each sample to one dimension.
type Flatten struct {
	base
	stateless
	from tensor.Shape
}

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten { return &Flatten{} }

// Kind returns KindFlatten.
func (f *Flatten) Kind() Kind { return KindFlatten }

// Init records the incoming shape.
func (f *Flatten) Init(prev tensor.Shape) {
	f.from = prev.Clone()
	f.base = newBase(tensor.Shape{prev.NumElements()})
}

// Forward copies prev's values unchanged.
func (f *Flatten) Forward(prev Layer) {
	f.batchFrom(prev)
	f.values.CopyFrom(prev.Values())
}

// Backward restores the original per-sample shape.
func (f *Flatten) Backward(prev Layer, gradOut *tensor.Tensor) Gradient {
	gradIn := gradOut.Clone()
	gradIn.Reshape(prev.Values().Shape()...)
	return Gradient{Input: gradIn}
}

func (f *Flatten) String() string {
	return fmt.Sprintf("Flatten %v -> %d", []int(f.from), f.features())
}

// Clone returns a deep copy.
func (f *Flatten) Clone() Layer {
	return &Flatten{base: f.cloneBase(), from: f.from.Clone()}
}
