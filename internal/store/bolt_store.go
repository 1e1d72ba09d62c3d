package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const runsBucket = "runs"

// BoltStore keeps run records in a single BoltDB file at <dir>/runs.db,
// keyed by run ID in the "runs" bucket.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

// NewBoltStore opens (or creates) the database under dir.
func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "runs.db")
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (b *BoltStore) Path() string {
	return b.path
}

// SaveRun stores a record, overwriting any record with the same ID.
func (b *BoltStore) SaveRun(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize run record: %w", err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).Put([]byte(record.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", record.ID, err)
	}

	slog.Debug("Run record saved", "runID", record.ID, "path", b.path)
	return nil
}

// LoadRun retrieves the record for the given run.
func (b *BoltStore) LoadRun(id string) (*RunRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	var record RunRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return &NotFoundError{RunID: id}
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRuns returns metadata for all stored runs, newest first.
func (b *BoltStore) ListRuns() ([]RunInfo, error) {
	infos := []RunInfo{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var record RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				slog.Warn("Failed to decode run record for listing", "runID", string(k), "error", err)
				return nil
			}
			infos = append(infos, record.ToInfo())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sortNewestFirst(infos)
	return infos, nil
}

// DeleteRun removes the record for the given run.
func (b *BoltStore) DeleteRun(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket))
		if bucket.Get([]byte(id)) == nil {
			return &NotFoundError{RunID: id}
		}
		return bucket.Delete([]byte(id))
	})
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
