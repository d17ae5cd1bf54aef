// Package tensor provides the N-dimensional float32 array used by every
// layer, optimizer and data loader in Ember.
//
// A Tensor owns its storage exclusively. Storage is row-major and
// contiguous; strides are derived from the dimensions and never set
// directly. Contract violations (wrong index count, out-of-range index,
// size-changing reshape, device mismatch) panic: they indicate a
// construction bug, not a recoverable condition.
package tensor

import (
	"fmt"
)

// Tensor is an N-dimensional strided float32 array.
//
// Example:
//
//	t := tensor.New(2, 3)
//	t.Set(1.5, 1, 2)
//	v := t.At(1, 2) // 1.5
type Tensor struct {
	shape   Shape
	strides []int
	store   storage
}

// New creates a zero-filled CPU tensor with the given dimensions.
func New(dims ...int) *Tensor {
	return NewOn(CPU, dims...)
}

// NewOn creates a zero-filled tensor on the given device.
func NewOn(device Device, dims ...int) *Tensor {
	shape := Shape(dims)
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor: %v", err))
	}

	return &Tensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		store:   allocate(device, shape.NumElements()),
	}
}

// FromSlice creates a CPU tensor holding a copy of data.
// With no dims the tensor is one-dimensional with len(data) elements.
func FromSlice(data []float32, dims ...int) *Tensor {
	if len(dims) == 0 {
		dims = []int{len(data)}
	}
	t := New(dims...)
	if t.Len() != len(data) {
		panic(fmt.Sprintf("tensor: shape %v requires %d elements, but got %d", t.shape, t.Len(), len(data)))
	}
	copy(t.Data(), data)
	return t
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.shape) {
		panic(fmt.Sprintf("tensor: dimension %d out of range for rank %d", i, len(t.shape)))
	}
	return t.shape[i]
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Strides returns the row-major strides.
func (t *Tensor) Strides() []int {
	return append([]int(nil), t.strides...)
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	if t.store == nil {
		return 0
	}
	return len(t.store.floats())
}

// Device returns where the tensor's storage lives.
func (t *Tensor) Device() Device {
	if t.store == nil {
		return CPU
	}
	return t.store.device()
}

// Data returns the flat backing slice (zero-copy).
//
// The slice is only valid until the next Resize, SetDim, To or Release.
func (t *Tensor) Data() []float32 {
	if t.store == nil {
		return nil
	}
	return t.store.floats()
}

// Row returns the i-th slice along the leading dimension (zero-copy).
// For a batched layer output this is sample i.
func (t *Tensor) Row(i int) []float32 {
	rows := t.Dim(0)
	if i < 0 || i >= rows {
		panic(fmt.Sprintf("tensor: row %d out of range [0, %d)", i, rows))
	}
	width := t.Len() / rows
	return t.Data()[i*width : (i+1)*width]
}

// Offset returns the flat index of the element at the given indices.
func (t *Tensor) Offset(indices ...int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of bounds for dimension %d (size %d)", idx, i, t.shape[i]))
		}
		offset += idx * t.strides[i]
	}
	return offset
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data()[t.Offset(indices...)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(value float32, indices ...int) {
	t.Data()[t.Offset(indices...)] = value
}

// String returns a short description, not the contents.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v on %s", []int(t.shape), t.Device())
}

// Clone creates a deep copy of the tensor on the same device.
func (t *Tensor) Clone() *Tensor {
	c := NewOn(t.Device(), t.shape...)
	copy(c.Data(), t.Data())
	return c
}

// To moves the tensor's storage to the given device.
//
// The previous backing memory is released: slices obtained from Data
// before the call must not be used afterwards.
func (t *Tensor) To(device Device) {
	if t.Device() == device && t.store != nil {
		return
	}

	moved := allocate(device, t.shape.NumElements())
	if t.store != nil {
		copy(moved.floats(), t.store.floats())
		t.store.release()
	}
	t.store = moved
}

// Release frees the tensor's storage. The tensor must not be used again
// except through Resize, which allocates fresh CPU storage.
func (t *Tensor) Release() {
	if t.store != nil {
		t.store.release()
		t.store = nil
	}
}
