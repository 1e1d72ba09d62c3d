package store

import (
	"time"

	"github.com/google/uuid"
)

// RunRecord is the persisted outcome of one compute session.
// All fields are serialized to JSON for persistence.
type RunRecord struct {
	// ID is a random UUID assigned when the run starts
	ID string `json:"id"`

	// Timestamp records when the session started
	Timestamp time.Time `json:"timestamp"`

	// Backend is the provider the session ran against (opencl, mock)
	Backend string `json:"backend"`

	// Platform and Device name the selected device; empty when the session
	// ended before selection
	Platform string `json:"platform,omitempty"`
	Device   string `json:"device,omitempty"`

	KernelPath string `json:"kernelPath,omitempty"`

	// FinalState is the last lifecycle state reached before exit
	FinalState string `json:"finalState"`

	// States lists every state entered, in order
	States []string `json:"states,omitempty"`

	// Result holds the vector read back from the device
	Result []int32 `json:"result,omitempty"`

	// Error is the fatal error that ended the session, if any
	Error string `json:"error,omitempty"`

	// SoftErrors are failures that were logged without ending the session
	SoftErrors []string `json:"softErrors,omitempty"`

	// Elapsed is the wall time of the session
	Elapsed time.Duration `json:"elapsed"`
}

// RunInfo contains metadata about a run without its result data.
type RunInfo struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Backend    string        `json:"backend"`
	Device     string        `json:"device,omitempty"`
	FinalState string        `json:"finalState"`
	Failed     bool          `json:"failed"`
	Elapsed    time.Duration `json:"elapsed"`
}

// NewRunRecord creates a record with a fresh ID and the current time.
func NewRunRecord(backend string) *RunRecord {
	return &RunRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Backend:   backend,
	}
}

// Succeeded reports whether the session completed without a fatal error.
func (r *RunRecord) Succeeded() bool {
	return r.Error == ""
}

// ToInfo converts a full RunRecord to RunInfo (metadata only).
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Backend:    r.Backend,
		Device:     r.Device,
		FinalState: r.FinalState,
		Failed:     !r.Succeeded(),
		Elapsed:    r.Elapsed,
	}
}

// Validate checks if the record has valid data.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return &ValidationError{Field: "ID", Reason: "must be a UUID"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if r.Backend == "" {
		return &ValidationError{Field: "Backend", Reason: "cannot be empty"}
	}
	if r.FinalState == "" {
		return &ValidationError{Field: "FinalState", Reason: "cannot be empty"}
	}
	if r.Elapsed < 0 {
		return &ValidationError{Field: "Elapsed", Reason: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
