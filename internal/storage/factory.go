package storage

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/storage/badger"
	"github.com/ternarybob/mnemo/internal/storage/files"
)

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Volatile {
		logger.Warn().Msg("Volatile storage enabled, data will not survive a restart")
		return NewVolatileManager(), nil
	}

	// Records and blobs are one dataset; a reset must cover both or
	// leftover status files would describe vectors that no longer exist.
	if config.Storage.ResetOnStartup {
		if err := os.RemoveAll(config.DocumentsPath()); err != nil {
			logger.Warn().Err(err).Str("path", config.DocumentsPath()).Msg("Reset of documents directory failed")
		}
	}

	db, err := badger.NewBadgerDB(logger, config.BadgerPath(), config.Storage.ResetOnStartup)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	documents, err := files.NewDocumentStore(config.DocumentsPath(), logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}

	manager := &Manager{
		db:        db,
		documents: documents,
		records:   badger.NewRecordStorage(db, logger),
		logger:    logger,
	}

	logger.Info().
		Str("documents", config.DocumentsPath()).
		Str("badger", config.BadgerPath()).
		Msg("Storage manager initialized")

	return manager, nil
}
