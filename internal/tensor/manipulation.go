package tensor

import (
	"fmt"
)

// Resize changes the dimensions, reallocating storage on the current
// device. Contents are not preserved: the resized tensor is zero-filled.
func (t *Tensor) Resize(dims ...int) {
	shape := Shape(dims)
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor: resize: %v", err))
	}

	n := shape.NumElements()
	if t.store != nil && len(t.store.floats()) == n {
		clear(t.store.floats())
	} else {
		device := t.Device()
		if t.store != nil {
			t.store.release()
		}
		t.store = allocate(device, n)
	}

	t.shape = shape.Clone()
	t.strides = shape.ComputeStrides()
}

// SetDim resizes a single dimension, typically the batch dimension.
func (t *Tensor) SetDim(dim, size int) {
	if dim < 0 || dim >= len(t.shape) {
		panic(fmt.Sprintf("tensor: set dim %d out of range for rank %d", dim, len(t.shape)))
	}
	if t.shape[dim] == size && t.store != nil {
		return
	}
	dims := t.shape.Clone()
	dims[dim] = size
	t.Resize(dims...)
}

// Reshape changes the interpretation of the data without moving it.
// Panics if the element count would change.
func (t *Tensor) Reshape(dims ...int) {
	shape := Shape(dims)
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor: reshape: %v", err))
	}
	if shape.NumElements() != t.Len() {
		panic(fmt.Sprintf("tensor: reshape %v -> %v: dimensionality mismatch (%d != %d elements)",
			[]int(t.shape), dims, t.Len(), shape.NumElements()))
	}

	t.shape = shape.Clone()
	t.strides = shape.ComputeStrides()
}

// Unsqueeze adds a leading dimension of size 1.
func (t *Tensor) Unsqueeze() {
	t.Reshape(t.shape.WithBatch(1)...)
}

// Matrix returns a two-dimensional [Dim(0), Len()/Dim(0)] view that shares
// the tensor's storage.
func (t *Tensor) Matrix() *Tensor {
	if len(t.shape) == 0 {
		panic("tensor: matrix view of a scalar")
	}
	return t.View(t.shape[0], t.shape[1:].NumElements())
}

// View returns a tensor with the given dimensions that shares t's storage.
// The view must not outlive the next Resize, To or Release of t; releasing
// the view is a no-op. Panics if the element count differs.
func (t *Tensor) View(dims ...int) *Tensor {
	shape := Shape(dims)
	if shape.NumElements() != t.Len() {
		panic(fmt.Sprintf("tensor: view %v as %v: dimensionality mismatch (%d != %d elements)",
			[]int(t.shape), dims, t.Len(), shape.NumElements()))
	}
	return &Tensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		store:   borrowed{owner: t.store},
	}
}

// Rows returns a view of rows [start, end) along the leading dimension,
// sharing t's storage. The same lifetime rules as View apply.
func (t *Tensor) Rows(start, end int) *Tensor {
	rows := t.Dim(0)
	if start < 0 || end > rows || start > end {
		panic(fmt.Sprintf("tensor: rows [%d, %d) out of range [0, %d)", start, end, rows))
	}
	width := t.shape[1:].NumElements()
	shape := t.shape.Clone()
	shape[0] = end - start
	return &Tensor{
		shape:   shape,
		strides: shape.ComputeStrides(),
		store:   window{owner: t.store, lo: start * width, hi: end * width},
	}
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float32) {
	data := t.Data()
	for i := range data {
		data[i] = value
	}
}

// Zero sets every element to zero.
func (t *Tensor) Zero() {
	clear(t.Data())
}

// CopyFrom copies src's elements into t. Element counts must match;
// shapes and devices may differ.
func (t *Tensor) CopyFrom(src *Tensor) {
	if src.Len() != t.Len() {
		panic(fmt.Sprintf("tensor: copy %v into %v: element count mismatch", src, t))
	}
	copy(t.Data(), src.Data())
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	var s float32
	for _, v := range t.Data() {
		s += v
	}
	return s
}
