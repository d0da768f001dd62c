package models

import (
	"fmt"
	"io"
	"time"
)

// StreamableFile is a read result from the document store: metadata plus a
// deferred stream opener, so listings never hold file handles open.
type StreamableFile struct {
	Name        string
	Size        int64
	ContentType string
	LastWrite   time.Time

	open func() (io.ReadCloser, error)
}

// NewStreamableFile wraps file metadata and an opener.
func NewStreamableFile(name string, size int64, contentType string, lastWrite time.Time, open func() (io.ReadCloser, error)) *StreamableFile {
	return &StreamableFile{
		Name:        name,
		Size:        size,
		ContentType: contentType,
		LastWrite:   lastWrite,
		open:        open,
	}
}

// Open returns the content stream. The caller owns the returned closer.
func (f *StreamableFile) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no stream opener", f.Name)
	}
	return f.open()
}

// ReadAll opens the stream and drains it.
func (f *StreamableFile) ReadAll() ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
