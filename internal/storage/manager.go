package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/storage/badger"
	"github.com/ternarybob/mnemo/internal/storage/memory"
)

// Manager implements the StorageManager interface for the durable profile:
// filesystem blobs plus badger-backed vector records.
type Manager struct {
	db        *badger.BadgerDB
	documents interfaces.DocumentStore
	records   interfaces.MemoryDb
	logger    arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// DocumentStore returns the blob store.
func (m *Manager) DocumentStore() interfaces.DocumentStore {
	return m.documents
}

// MemoryDb returns the vector store.
func (m *Manager) MemoryDb() interfaces.MemoryDb {
	return m.records
}

// DB returns the underlying badgerhold store for components that share the
// database, such as the durable queues.
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// VolatileManager implements the StorageManager interface entirely in memory.
// Nothing survives a restart; tests and the volatile profile use it.
type VolatileManager struct {
	documents *memory.DocumentStore
	records   *memory.RecordStore
}

var _ interfaces.StorageManager = (*VolatileManager)(nil)

// NewVolatileManager creates an in-memory storage manager.
func NewVolatileManager() *VolatileManager {
	return &VolatileManager{
		documents: memory.NewDocumentStore(),
		records:   memory.NewRecordStore(),
	}
}

func (m *VolatileManager) DocumentStore() interfaces.DocumentStore {
	return m.documents
}

func (m *VolatileManager) MemoryDb() interfaces.MemoryDb {
	return m.records
}

// DB returns nil; the volatile profile has no shared database.
func (m *VolatileManager) DB() interface{} {
	return nil
}

func (m *VolatileManager) Close() error {
	return nil
}
