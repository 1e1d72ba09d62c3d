package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

const runKeyPrefix = "run:"

// BadgerStore keeps run records in a BadgerDB directory at <dir>/badger,
// one key per run ("run:<id>").
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens (or creates) the database under dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	path := filepath.Join(dir, "badger")
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", path, err)
	}

	return &BadgerStore{db: db, path: path}, nil
}

func runKey(id string) []byte {
	return []byte(runKeyPrefix + id)
}

// SaveRun stores a record, overwriting any record with the same ID.
func (b *BadgerStore) SaveRun(record *RunRecord) error {
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

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(record.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", record.ID, err)
	}

	slog.Debug("Run record saved", "runID", record.ID, "path", b.path)
	return nil
}

// LoadRun retrieves the record for the given run.
func (b *BadgerStore) LoadRun(id string) (*RunRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	var record RunRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{RunID: id}
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRuns returns metadata for all stored runs, newest first.
func (b *BadgerStore) ListRuns() ([]RunInfo, error) {
	infos := []RunInfo{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(runKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var record RunRecord
				if err := json.Unmarshal(val, &record); err != nil {
					slog.Warn("Failed to decode run record for listing", "key", string(item.Key()), "error", err)
					return nil
				}
				infos = append(infos, record.ToInfo())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sortNewestFirst(infos)
	return infos, nil
}

// DeleteRun removes the record for the given run.
func (b *BadgerStore) DeleteRun(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{RunID: id}
		} else if err != nil {
			return err
		}
		return txn.Delete(runKey(id))
	})
}

// Close flushes and closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
