package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// DocumentStore is the filesystem blob store: one directory per index, one
// per document, one file per blob. Writes go through a temp file plus rename
// and a per-key lock, so concurrent writers to the same key serialize and
// readers never observe partial content.
type DocumentStore struct {
	baseDir string
	logger  arbor.ILogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Compile-time interface assertion
var _ interfaces.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates the blob store rooted at baseDir.
func NewDocumentStore(baseDir string, logger arbor.ILogger) (*DocumentStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create document store directory: %w", err)
	}
	return &DocumentStore{
		baseDir: baseDir,
		logger:  logger,
		locks:   map[string]*sync.Mutex{},
	}, nil
}

// CreateIndexDirectory creates the directory backing an index. Idempotent.
func (s *DocumentStore) CreateIndexDirectory(ctx context.Context, index string) error {
	dir, err := s.indexDir(index)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.Transient(fmt.Errorf("failed to create index directory %s: %w", index, err))
	}
	return nil
}

// DeleteIndexDirectory removes the index directory and everything in it.
func (s *DocumentStore) DeleteIndexDirectory(ctx context.Context, index string) error {
	dir, err := s.indexDir(index)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return models.Transient(fmt.Errorf("failed to delete index directory %s: %w", index, err))
	}
	s.logger.Info().Str("index", index).Msg("Index directory deleted")
	return nil
}

// CreateDocumentDirectory creates the directory for one document. Idempotent.
func (s *DocumentStore) CreateDocumentDirectory(ctx context.Context, index, documentID string) error {
	dir, err := s.documentDir(index, documentID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.Transient(fmt.Errorf("failed to create document directory %s/%s: %w", index, documentID, err))
	}
	return nil
}

// EmptyDocumentDirectory deletes every blob except the pipeline status file,
// which stays so deletion pipelines remain reportable.
func (s *DocumentStore) EmptyDocumentDirectory(ctx context.Context, index, documentID string) error {
	dir, err := s.documentDir(index, documentID)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return models.Transient(fmt.Errorf("failed to list document directory %s/%s: %w", index, documentID, err))
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == models.StatusFilename {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return models.Transient(fmt.Errorf("failed to delete %s: %w", entry.Name(), err))
		}
	}
	s.logger.Debug().Str("index", index).Str("document_id", documentID).Msg("Document directory emptied")
	return nil
}

// DeleteDocumentDirectory removes the document directory entirely, status
// file included.
func (s *DocumentStore) DeleteDocumentDirectory(ctx context.Context, index, documentID string) error {
	dir, err := s.documentDir(index, documentID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return models.Transient(fmt.Errorf("failed to delete document directory %s/%s: %w", index, documentID, err))
	}
	return nil
}

// WriteFile stores a blob with overwrite semantics.
func (s *DocumentStore) WriteFile(ctx context.Context, index, documentID, name string, content io.Reader) error {
	path, err := s.filePath(index, documentID, name)
	if err != nil {
		return err
	}

	lock := s.keyLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.Transient(fmt.Errorf("failed to create document directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return models.Transient(fmt.Errorf("failed to create temp file for %s: %w", name, err))
	}
	written, err := io.Copy(tmp, content)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return models.Transient(fmt.Errorf("failed to write %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return models.Transient(fmt.Errorf("failed to flush %s: %w", name, err))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return models.Transient(fmt.Errorf("failed to commit %s: %w", name, err))
	}

	if written == 0 {
		s.logger.Warn().Str("index", index).Str("document_id", documentID).Str("file", name).Msg("Wrote zero-byte file")
	}
	return nil
}

// ReadFile returns the blob's metadata and a deferred stream opener.
func (s *DocumentStore) ReadFile(ctx context.Context, index, documentID, name string) (*models.StreamableFile, error) {
	path, err := s.filePath(index, documentID, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s/%s/%s: %w", index, documentID, name, models.ErrNotFound)
		}
		return nil, models.Transient(fmt.Errorf("failed to stat %s: %w", name, err))
	}
	return models.NewStreamableFile(name, info.Size(), contentTypeByName(name), info.ModTime().UTC(), func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("file %s/%s/%s: %w", index, documentID, name, models.ErrNotFound)
			}
			return nil, models.Transient(err)
		}
		return f, nil
	}), nil
}

// DeleteFile removes one blob. Missing blobs are not an error.
func (s *DocumentStore) DeleteFile(ctx context.Context, index, documentID, name string) error {
	path, err := s.filePath(index, documentID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return models.Transient(fmt.Errorf("failed to delete %s: %w", name, err))
	}
	return nil
}

// ListFiles returns the blob names in a document directory.
func (s *DocumentStore) ListFiles(ctx context.Context, index, documentID string) ([]string, error) {
	dir, err := s.documentDir(index, documentID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document %s/%s: %w", index, documentID, models.ErrNotFound)
		}
		return nil, models.Transient(fmt.Errorf("failed to list document %s/%s: %w", index, documentID, err))
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".write-") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// ListIndexDirectories returns the index names the store holds.
func (s *DocumentStore) ListIndexDirectories(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, models.Transient(fmt.Errorf("failed to list index directories: %w", err))
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// ListDocumentDirectories returns the document ids stored under an index.
// An unknown index lists as empty.
func (s *DocumentStore) ListDocumentDirectories(ctx context.Context, index string) ([]string, error) {
	dir, err := s.indexDir(index)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, models.Transient(fmt.Errorf("failed to list documents of index %s: %w", index, err))
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *DocumentStore) keyLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

func (s *DocumentStore) indexDir(index string) (string, error) {
	if err := checkPathSegment(index); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, index), nil
}

func (s *DocumentStore) documentDir(index, documentID string) (string, error) {
	if err := checkPathSegment(index); err != nil {
		return "", err
	}
	if err := checkPathSegment(documentID); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, index, documentID), nil
}

func (s *DocumentStore) filePath(index, documentID, name string) (string, error) {
	dir, err := s.documentDir(index, documentID)
	if err != nil {
		return "", err
	}
	if err := checkPathSegment(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// checkPathSegment rejects anything that could escape the store root. The
// orchestrator normalizes names before they get here; this is the backstop.
func checkPathSegment(segment string) error {
	if segment == "" {
		return models.NewValidationError("empty path segment")
	}
	if segment == "." || segment == ".." {
		return models.NewValidationError(fmt.Sprintf("illegal path segment %q", segment))
	}
	if strings.ContainsAny(segment, `/\`) {
		return models.NewValidationError(fmt.Sprintf("path segment %q contains a separator", segment))
	}
	return nil
}

func contentTypeByName(name string) string {
	return models.DetectMimeType(name)
}
