//go:build !gpu

package compute

// NewOpenCL returns an error when OpenCL support is not compiled in.
func NewOpenCL() (Provider, error) {
	return nil, ErrNotBuilt
}
