package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

type storedBlob struct {
	content     []byte
	contentType string
	lastWrite   time.Time
}

// DocumentStore is the volatile blob store. Everything lives in process
// memory; restarts lose it all. Used by tests and the volatile deployment
// profile.
type DocumentStore struct {
	mu sync.RWMutex
	// index -> documentID -> fileName -> blob
	indexes map[string]map[string]map[string]*storedBlob
}

var _ interfaces.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{indexes: map[string]map[string]map[string]*storedBlob{}}
}

func (s *DocumentStore) CreateIndexDirectory(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[index]; !ok {
		s.indexes[index] = map[string]map[string]*storedBlob{}
	}
	return nil
}

func (s *DocumentStore) DeleteIndexDirectory(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, index)
	return nil
}

func (s *DocumentStore) CreateDocumentDirectory(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.indexes[index]
	if !ok {
		docs = map[string]map[string]*storedBlob{}
		s.indexes[index] = docs
	}
	if _, ok := docs[documentID]; !ok {
		docs[documentID] = map[string]*storedBlob{}
	}
	return nil
}

func (s *DocumentStore) EmptyDocumentDirectory(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.document(index, documentID)
	if !ok {
		return nil
	}
	for name := range files {
		if name == models.StatusFilename {
			continue
		}
		delete(files, name)
	}
	return nil
}

func (s *DocumentStore) DeleteDocumentDirectory(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if docs, ok := s.indexes[index]; ok {
		delete(docs, documentID)
	}
	return nil
}

func (s *DocumentStore) WriteFile(ctx context.Context, index, documentID, name string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return models.Transient(fmt.Errorf("failed to read content for %s: %w", name, err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.indexes[index]
	if !ok {
		docs = map[string]map[string]*storedBlob{}
		s.indexes[index] = docs
	}
	files, ok := docs[documentID]
	if !ok {
		files = map[string]*storedBlob{}
		docs[documentID] = files
	}
	files[name] = &storedBlob{content: data, contentType: models.DetectMimeType(name), lastWrite: time.Now().UTC()}
	return nil
}

func (s *DocumentStore) ReadFile(ctx context.Context, index, documentID, name string) (*models.StreamableFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.document(index, documentID)
	if !ok {
		return nil, fmt.Errorf("file %s/%s/%s: %w", index, documentID, name, models.ErrNotFound)
	}
	blob, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("file %s/%s/%s: %w", index, documentID, name, models.ErrNotFound)
	}
	data := make([]byte, len(blob.content))
	copy(data, blob.content)
	return models.NewStreamableFile(name, int64(len(data)), blob.contentType, blob.lastWrite, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}), nil
}

func (s *DocumentStore) DeleteFile(ctx context.Context, index, documentID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if files, ok := s.document(index, documentID); ok {
		delete(files, name)
	}
	return nil
}

func (s *DocumentStore) ListFiles(ctx context.Context, index, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.document(index, documentID)
	if !ok {
		return nil, fmt.Errorf("document %s/%s: %w", index, documentID, models.ErrNotFound)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *DocumentStore) ListIndexDirectories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *DocumentStore) ListDocumentDirectories(ctx context.Context, index string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, ok := s.indexes[index]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// document assumes the caller holds a lock.
func (s *DocumentStore) document(index, documentID string) (map[string]*storedBlob, bool) {
	docs, ok := s.indexes[index]
	if !ok {
		return nil, false
	}
	files, ok := docs[documentID]
	return files, ok
}
