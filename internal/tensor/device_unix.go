//go:build unix

package tensor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mappedStorage holds float32 data in an anonymous memory mapping.
// Unmapping is explicit (Resize, To, Release); slices handed out by
// Data() do not keep the mapping alive.
type mappedStorage struct {
	region []byte
	data   []float32
}

func newAcceleratorStorage(n int) storage {
	s := &mappedStorage{}
	if n == 0 {
		return s
	}

	region, err := unix.Mmap(-1, 0, n*4, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(fmt.Sprintf("tensor: accelerator allocation of %d bytes failed: %v", n*4, err))
	}

	s.region = region
	//nolint:gosec // unsafe.Slice over a mapping sized for exactly n float32 values
	s.data = unsafe.Slice((*float32)(unsafe.Pointer(&region[0])), n)
	return s
}

func (m *mappedStorage) floats() []float32 { return m.data }
func (m *mappedStorage) device() Device    { return Accelerator }

func (m *mappedStorage) release() {
	if m.region == nil {
		return
	}
	region := m.region
	m.region = nil
	m.data = nil
	if err := unix.Munmap(region); err != nil {
		panic(fmt.Sprintf("tensor: accelerator release failed: %v", err))
	}
}
