package badger

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB wraps the badgerhold store backing the durable profile. Memory
// records, index metadata, pipeline state and the step queues share this one
// database.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerDB opens the database at path, wiping it first when
// resetOnStartup is set.
func NewBadgerDB(logger arbor.ILogger, path string, resetOnStartup bool) (*BadgerDB, error) {
	if resetOnStartup {
		logger.Debug().Str("path", path).Msg("Resetting badger database")
		if err := os.RemoveAll(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Reset of database directory failed")
		}
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // arbor owns the log stream

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", path, err)
	}

	logger.Debug().Str("path", path).Msg("Badger database open")

	return &BadgerDB{store: store, logger: logger}, nil
}

// Store exposes the badgerhold handle for the record and queue layers.
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
