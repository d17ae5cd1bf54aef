package nn

import (
	"fmt"

	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

// Convolution implements a 2D convolution over HWC samples.
//
// Input per-sample shape: [H, W, C]
// Output per-sample shape: [outH, outW, kernels]
// where outH = (H-size)/stride + 1 and outW = (W-size)/stride + 1.
//
// The forward pass lowers the whole batch to a patch matrix (im2col) of
// shape [batch*outH*outW, size*size*C] and multiplies it against the
// flattened kernels W [kernels, size*size*C] in a single GEMM. There is one
// bias per output channel.
type Convolution struct {
	base
	param

	kernels int
	size    int
	stride  int

	inH, inW, inC int
	outH, outW    int

	patches *tensor.Tensor // forward im2col buffer, reused by Backward
}

// NewConvolution creates a convolution layer with the given number of
// square kernels.
//
// Parameters:
//   - kernels: Number of output channels
//   - size: Kernel height and width
//   - stride: Step between windows
func NewConvolution(kernels, size, stride int) *Convolution {
	if kernels <= 0 || size <= 0 || stride <= 0 {
		panic(fmt.Sprintf("convolution: kernels, size and stride must be positive, got %d, %d, %d",
			kernels, size, stride))
	}
	return &Convolution{kernels: kernels, size: size, stride: stride}
}

// Kind returns KindConvolution.
func (c *Convolution) Kind() Kind { return KindConvolution }

// Init sizes the layer for [H, W, C] inputs.
func (c *Convolution) Init(prev tensor.Shape) {
	if len(prev) != 3 {
		panic(fmt.Sprintf("convolution: expected [H, W, C] input, got %v", []int(prev)))
	}
	c.inH, c.inW, c.inC = prev[0], prev[1], prev[2]
	if c.inH < c.size || c.inW < c.size {
		panic(fmt.Sprintf("convolution: %dx%d kernel does not fit %dx%d input", c.size, c.size, c.inH, c.inW))
	}

	c.outH = (c.inH-c.size)/c.stride + 1
	c.outW = (c.inW-c.size)/c.stride + 1
	c.base = newBase(tensor.Shape{c.outH, c.outW, c.kernels})

	c.weights = tensor.New(c.kernels, c.patchWidth())
	c.biases = tensor.New(c.kernels)
	c.patches = tensor.New(c.positions(), c.patchWidth())
}

func (c *Convolution) patchWidth() int { return c.size * c.size * c.inC }
func (c *Convolution) positions() int  { return c.outH * c.outW }
func (c *Convolution) inputSize() int  { return c.inH * c.inW * c.inC }

// FanIn returns size*size*C.
func (c *Convolution) FanIn() int { return c.patchWidth() }

// FanOut returns size*size*kernels.
func (c *Convolution) FanOut() int { return c.size * c.size * c.kernels }

// Forward computes the convolution of prev's values with every kernel.
func (c *Convolution) Forward(prev Layer) {
	x := prev.Values()
	if x.Len() != x.Dim(0)*c.inputSize() {
		panic(fmt.Sprintf("convolution: input %v does not match [%d, %d, %d]", x, c.inH, c.inW, c.inC))
	}

	n := c.batchFrom(prev)
	rows := n * c.positions()
	if c.patches.Device() != c.values.Device() {
		c.patches.To(c.values.Device())
	}
	c.patches.SetDim(0, rows)

	in, patches := x.Data(), c.patches.Data()
	inSize, patchSize := c.inputSize(), c.positions()*c.patchWidth()
	parallel.For(n, func(b int) {
		c.im2col(in[b*inSize:(b+1)*inSize], patches[b*patchSize:(b+1)*patchSize])
	}, sampleConfig())

	out := c.values.View(rows, c.kernels)
	bias := c.biases.Data()
	for r := 0; r < rows; r++ {
		copy(out.Row(r), bias)
	}
	out.Madd(c.patches, c.weights, false, true)
}

// Backward computes
//
//	biasGrad[k] = Σ gradOut[:, k]
//	weightGrad  = gradOutᵀ · patches
//	colGrad     = gradOut · W, scatter-added back to the input (col2im)
func (c *Convolution) Backward(prev Layer, gradOut *tensor.Tensor) Gradient {
	if gradOut.Len() != c.values.Len() {
		panic(fmt.Sprintf("convolution: gradient %v does not match output %v", gradOut, c.values))
	}
	n := c.values.Dim(0)
	rows := n * c.positions()
	g := gradOut.View(rows, c.kernels)

	biasGrad := zerosOn(c.biases, c.kernels)
	columnSum(biasGrad.Data(), g)

	weightGrad := zerosOn(c.weights, c.kernels, c.patchWidth())
	weightGrad.Madd(g, c.patches, true, false)

	colGrad := zerosOn(c.values, rows, c.patchWidth())
	colGrad.Madd(g, c.weights, false, false)

	gradIn := zerosOn(c.values, prev.Values().Shape()...)
	in, cols := gradIn.Data(), colGrad.Data()
	inSize, patchSize := c.inputSize(), c.positions()*c.patchWidth()
	parallel.For(n, func(b int) {
		c.col2im(cols[b*patchSize:(b+1)*patchSize], in[b*inSize:(b+1)*inSize])
	}, sampleConfig())

	return Gradient{Input: gradIn, Weights: weightGrad, Biases: biasGrad}
}

// im2col copies every receptive window of one sample into a patch row.
// Within a window the layout is (ky, kx, c), so each kernel row is one
// contiguous span of the HWC input.
func (c *Convolution) im2col(in, patches []float32) {
	width := c.patchWidth()
	span := c.size * c.inC
	rowStride := c.inW * c.inC

	for oy := 0; oy < c.outH; oy++ {
		for ox := 0; ox < c.outW; ox++ {
			row := patches[(oy*c.outW+ox)*width:][:width]
			origin := oy*c.stride*rowStride + ox*c.stride*c.inC
			for ky := 0; ky < c.size; ky++ {
				src := origin + ky*rowStride
				copy(row[ky*span:(ky+1)*span], in[src:src+span])
			}
		}
	}
}

// col2im is the adjoint of im2col: overlapping windows accumulate.
func (c *Convolution) col2im(patches, in []float32) {
	width := c.patchWidth()
	span := c.size * c.inC
	rowStride := c.inW * c.inC

	for oy := 0; oy < c.outH; oy++ {
		for ox := 0; ox < c.outW; ox++ {
			row := patches[(oy*c.outW+ox)*width:][:width]
			origin := oy*c.stride*rowStride + ox*c.stride*c.inC
			for ky := 0; ky < c.size; ky++ {
				dst := in[origin+ky*rowStride:][:span]
				for i, v := range row[ky*span : (ky+1)*span] {
					dst[i] += v
				}
			}
		}
	}
}

func (c *Convolution) String() string {
	return fmt.Sprintf("Convolution %d %dx%d kernels, stride %d: %dx%dx%d -> %dx%dx%d",
		c.kernels, c.size, c.size, c.stride, c.inH, c.inW, c.inC, c.outH, c.outW, c.kernels)
}

// Clone returns a deep copy including parameters.
func (c *Convolution) Clone() Layer {
	clone := *c
	clone.base = c.cloneBase()
	clone.param = c.cloneParam()
	if c.patches != nil {
		clone.patches = c.patches.Clone()
	}
	return &clone
}
