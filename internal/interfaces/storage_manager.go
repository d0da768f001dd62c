package interfaces

// StorageManager bundles the stores one deployment uses and owns their
// shared connections.
type StorageManager interface {
	DocumentStore() DocumentStore
	MemoryDb() MemoryDb

	// DB returns the underlying database connection when the deployment has
	// one (the badgerhold store), nil for volatile managers.
	DB() interface{}

	// Close closes the database connection
	Close() error
}
