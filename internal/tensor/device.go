package tensor

// Device represents where a tensor's backing storage lives.
type Device int

// Supported devices.
const (
	// CPU storage is an ordinary Go heap slice.
	CPU Device = iota
	// Accelerator storage is a page-aligned region allocated outside the Go
	// heap, suitable for handing to a device driver for DMA. Host kernels
	// still read it directly.
	Accelerator
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case Accelerator:
		return "Accelerator"
	default:
		return "Unknown"
	}
}

// storage is the device-tagged backing store of a Tensor.
//
// Only Tensor.To and Tensor.Release end a storage's lifetime; slices
// obtained from floats() before that point must not be used afterwards.
type storage interface {
	floats() []float32
	device() Device
	release()
}

// allocate creates zeroed storage for n float32 values on the given device.
func allocate(d Device, n int) storage {
	switch d {
	case CPU:
		return &hostStorage{data: make([]float32, n)}
	case Accelerator:
		return newAcceleratorStorage(n)
	default:
		panic("tensor: unknown device " + d.String())
	}
}

// hostStorage keeps data in the Go heap.
type hostStorage struct {
	data []float32
}

func (h *hostStorage) floats() []float32 { return h.data }
func (h *hostStorage) device() Device    { return CPU }
func (h *hostStorage) release()          { h.data = nil }

// borrowed wraps the storage of another tensor for views.
// Releasing a view never frees the owner's memory.
type borrowed struct {
	owner storage
}

func (b borrowed) floats() []float32 { return b.owner.floats() }
func (b borrowed) device() Device    { return b.owner.device() }
func (b borrowed) release()          {}

// window is a borrowed sub-range [lo, hi) of another storage.
type window struct {
	owner  storage
	lo, hi int
}

func (w window) floats() []float32 { return w.owner.floats()[w.lo:w.hi] }
func (w window) device() Device    { return w.owner.device() }
func (w window) release()          {}
