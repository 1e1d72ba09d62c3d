package session

import (
	"errors"
	"fmt"

	"github.com/cwbudde/clvecadd/internal/compute"
)

var (
	// ErrNoDevices is returned when no platform exposes a device.
	ErrNoDevices = errors.New("session: no devices found")

	// ErrNoImageSupport is returned when the selected device lacks image support
	// and the session requires it.
	ErrNoImageSupport = errors.New("session: selected device has no image support")

	// ErrSourceNotFound is returned when the kernel source file does not exist.
	ErrSourceNotFound = errors.New("session: kernel source not found")

	// ErrBuildFailed is returned when the program does not reach a successful build.
	ErrBuildFailed = errors.New("session: program build failed")

	// ErrInvalidOptions is returned for option sets a session cannot run with.
	ErrInvalidOptions = errors.New("session: invalid options")
)

// SourceError reports the resolved path of a missing kernel source file.
type SourceError struct {
	Path string
}

func (e *SourceError) Error() string {
	return "program doesn't exist at path " + e.Path
}

func (e *SourceError) Unwrap() error {
	return ErrSourceNotFound
}

// BuildError carries the device build log of a failed program build.
type BuildError struct {
	Status compute.BuildStatus
	Log    string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("program build failed (%s)", e.Status)
}

func (e *BuildError) Unwrap() error {
	return ErrBuildFailed
}

// StepError records a failed driver call made by the session. Fatal step errors
// end the session; the others are collected in the report.
type StepError struct {
	Op    string
	Err   error
	Fatal bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Code is the driver status name of the failure, or the error text when the
// failure did not come from the driver.
func (e *StepError) Code() string {
	return statusCode(e.Err)
}

func statusCode(err error) string {
	if status := compute.StatusOf(err); status != compute.StatusUnknown {
		return status.String()
	}
	return err.Error()
}
