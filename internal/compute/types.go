package compute

import "strings"

// DeviceType describes the class of an OpenCL device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// DeviceInfo captures metadata about an OpenCL device.
type DeviceInfo struct {
	Name            string
	Vendor          string
	Version         string
	Type            DeviceType
	MaxComputeUnits uint32
	ImageSupport    bool
}

// PlatformInfo captures metadata about an OpenCL platform.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
}

// MemFlags mirrors the cl_mem_flags access bits used for buffer allocation.
type MemFlags uint32

const (
	MemReadWrite MemFlags = 1 << 0
	MemWriteOnly MemFlags = 1 << 1
	MemReadOnly  MemFlags = 1 << 2
)

func (f MemFlags) String() string {
	var parts []string
	if f&MemReadWrite != 0 {
		parts = append(parts, "read_write")
	}
	if f&MemWriteOnly != 0 {
		parts = append(parts, "write_only")
	}
	if f&MemReadOnly != 0 {
		parts = append(parts, "read_only")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// BuildStatus is the per-device outcome of a program build.
type BuildStatus int32

const (
	BuildSuccess    BuildStatus = 0
	BuildNone       BuildStatus = -1
	BuildError      BuildStatus = -2
	BuildInProgress BuildStatus = -3
)

func (s BuildStatus) String() string {
	switch s {
	case BuildSuccess:
		return "CL_BUILD_SUCCESS"
	case BuildNone:
		return "CL_BUILD_NONE"
	case BuildError:
		return "CL_BUILD_ERROR"
	case BuildInProgress:
		return "CL_BUILD_IN_PROGRESS"
	default:
		return "CL_BUILD_UNKNOWN"
	}
}
