//go:build !unix

package tensor

// heapAccelStorage stands in for mapped memory where mmap is unavailable.
// It keeps the same transfer and release contract as the unix variant.
type heapAccelStorage struct {
	data []float32
}

func newAcceleratorStorage(n int) storage {
	return &heapAccelStorage{data: make([]float32, n)}
}

func (h *heapAccelStorage) floats() []float32 { return h.data }
func (h *heapAccelStorage) device() Device    { return Accelerator }
func (h *heapAccelStorage) release()          { h.data = nil }
