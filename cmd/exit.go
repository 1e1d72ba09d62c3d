package main

import (
	"errors"

	"github.com/cwbudde/clvecadd/internal/session"
)

// Process exit codes for failed sessions.
const (
	exitFailure          = 1
	exitNoDevices        = 3
	exitNoImageSupport   = 4
	exitSourceNotFound   = 5
	exitBuildFailed      = 6
	exitDriverCallFailed = 7
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// exitErrorFor maps a session error to its exit code. nil stays nil.
func exitErrorFor(err error) error {
	if err == nil {
		return nil
	}

	code := exitFailure
	var stepErr *session.StepError
	switch {
	case errors.Is(err, session.ErrNoDevices):
		code = exitNoDevices
	case errors.Is(err, session.ErrNoImageSupport):
		code = exitNoImageSupport
	case errors.Is(err, session.ErrSourceNotFound):
		code = exitSourceNotFound
	case errors.Is(err, session.ErrBuildFailed):
		code = exitBuildFailed
	case errors.As(err, &stepErr) && stepErr.Fatal:
		code = exitDriverCallFailed
	}
	return &ExitError{Code: code, Message: err.Error()}
}
