package compute

import "errors"

var (
	// ErrUnknownBackend is returned when the name does not match a known provider.
	ErrUnknownBackend = errors.New("compute: unknown backend")

	// ErrNotBuilt indicates the binary was built without OpenCL support.
	ErrNotBuilt = errors.New("compute: opencl support requires building with '-tags gpu'")

	// ErrForeignHandle is returned when a handle from another provider is passed in.
	ErrForeignHandle = errors.New("compute: handle belongs to a different provider")

	// ErrReleased is returned when a released object is used again.
	ErrReleased = errors.New("compute: object already released")

	// ErrNonBlocking is returned for host transfers that do not block. The host
	// slice is only valid for the duration of the call.
	ErrNonBlocking = errors.New("compute: only blocking transfers are supported")
)
