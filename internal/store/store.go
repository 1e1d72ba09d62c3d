package store

import "fmt"

// Store defines the interface for run record persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a record doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun validates and saves a record, overwriting any record with the
	// same ID.
	SaveRun(record *RunRecord) error

	// LoadRun retrieves the record with the given ID.
	LoadRun(id string) (*RunRecord, error)

	// ListRuns returns metadata for all stored runs, newest first.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the record and any artifacts stored with it.
	DeleteRun(id string) error

	Close() error
}

// Kind names a Store implementation.
type Kind string

const (
	KindFS     Kind = "fs"
	KindBolt   Kind = "bolt"
	KindBadger Kind = "badger"
)

// Open constructs the store of the given kind rooted at dir.
func Open(kind Kind, dir string) (Store, error) {
	switch kind {
	case KindFS:
		return NewFSStore(dir)
	case KindBolt:
		return NewBoltStore(dir)
	case KindBadger:
		return NewBadgerStore(dir)
	default:
		return nil, fmt.Errorf("unknown store type: %q", kind)
	}
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run record.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
