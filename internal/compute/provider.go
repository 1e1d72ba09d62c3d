package compute

import (
	"fmt"
	"strings"
)

// NotifyFunc receives asynchronous driver notifications for a context. It may be
// called from a driver-owned thread at any time while the context is alive and
// must not block.
type NotifyFunc func(message string)

// Provider is the capability surface a compute session needs from a driver.
type Provider interface {
	Name() string
	Platforms() ([]Platform, error)
	// CreateContext binds the given devices into a new context. notify may be nil.
	CreateContext(devices []Device, notify NotifyFunc) (Context, error)
}

// Platform is a vendor runtime exposing zero or more devices.
type Platform interface {
	Info() (PlatformInfo, error)
	Devices() ([]Device, error)
}

// Device is a compute unit belonging to a platform.
type Device interface {
	Info() (DeviceInfo, error)
}

// Context owns every program, queue and buffer created against it.
type Context interface {
	CreateProgramWithSource(source string) (Program, error)
	// CreateCommandQueue creates an in-order queue with default properties.
	CreateCommandQueue(device Device) (CommandQueue, error)
	CreateBuffer(flags MemFlags, size int) (Buffer, error)
	Release() error
}

// Program is kernel source compiled for a context.
type Program interface {
	Build(devices []Device, options string) error
	BuildStatus(device Device) (BuildStatus, error)
	BuildLog(device Device) (string, error)
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a named entry point of a built program.
type Kernel interface {
	Name() string
	SetArgBuffer(index int, buffer Buffer) error
	Release() error
}

// CommandQueue submits commands to one device in submission order.
type CommandQueue interface {
	// Host transfers must be blocking; blocking=false returns ErrNonBlocking.
	EnqueueWriteBuffer(buffer Buffer, blocking bool, offset int, data []int32) error
	// EnqueueNDRangeKernel launches kernel over len(global) dimensions. A nil local
	// leaves the work-group size to the driver.
	EnqueueNDRangeKernel(kernel Kernel, global, local []int) error
	EnqueueReadBuffer(buffer Buffer, blocking bool, offset int, dst []int32) error
	Finish() error
	Flush() error
	Release() error
}

// Buffer is a device-resident memory region.
type Buffer interface {
	Size() int
	Flags() MemFlags
	Release() error
}

// Backend identifies a provider implementation.
type Backend string

const (
	BackendOpenCL Backend = "opencl"
	BackendMock   Backend = "mock"
)

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gpu", "opencl", "cl":
		return BackendOpenCL
	case "mock", "cpu":
		return BackendMock
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by Open.
func SupportedBackends() []Backend {
	return []Backend{BackendOpenCL, BackendMock}
}

// Open constructs the requested provider.
func Open(name string) (Provider, error) {
	switch backend := NormalizeBackend(name); backend {
	case BackendOpenCL:
		return NewOpenCL()
	case BackendMock:
		return NewMockProvider(DefaultMockConfig()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}
