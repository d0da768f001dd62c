package interfaces

import (
	"context"
	"io"

	"github.com/ternarybob/mnemo/internal/models"
)

// DocumentStore persists raw uploads and pipeline artifacts as blobs keyed
// index/documentId/fileName. Implementations must serialize concurrent
// writes to the same key and return models.ErrNotFound for missing blobs.
type DocumentStore interface {
	// Index directories
	CreateIndexDirectory(ctx context.Context, index string) error
	DeleteIndexDirectory(ctx context.Context, index string) error

	// Document directories
	CreateDocumentDirectory(ctx context.Context, index, documentID string) error
	// EmptyDocumentDirectory removes every file except the pipeline status
	// file, so status stays reportable after a deletion pipeline.
	EmptyDocumentDirectory(ctx context.Context, index, documentID string) error
	DeleteDocumentDirectory(ctx context.Context, index, documentID string) error

	// Blob operations
	WriteFile(ctx context.Context, index, documentID, name string, content io.Reader) error
	ReadFile(ctx context.Context, index, documentID, name string) (*models.StreamableFile, error)
	DeleteFile(ctx context.Context, index, documentID, name string) error
	ListFiles(ctx context.Context, index, documentID string) ([]string, error)

	// Directory listings, used by the maintenance sweep to find pipelines
	// without going through the vector store.
	ListIndexDirectories(ctx context.Context) ([]string, error)
	ListDocumentDirectories(ctx context.Context, index string) ([]string, error)
}
