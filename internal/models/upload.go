package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Mime types the pipeline recognizes. WebPageURL marks the content.url
// pointer file the extract step fetches.
const (
	MimePlainText  = "text/plain"
	MimeMarkdown   = "text/markdown"
	MimeHTML       = "text/html"
	MimeJSON       = "application/json"
	MimePDF        = "application/pdf"
	MimeWebPageURL = "text/x-uri"
)

// URLFilename is the name given to the pointer file materialized from a URL
// upload. Its body is the absolute URL; the extract step fetches it.
const URLFilename = "content.url"

// DetectMimeType maps a file name onto the mime types the pipeline handles.
// Unknown extensions fall back to octet-stream; without a decoder for it the
// extract step stores an empty extraction and keeps the pipeline moving.
func DetectMimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return MimePlainText
	case ".md":
		return MimeMarkdown
	case ".html", ".htm":
		return MimeHTML
	case ".json":
		return MimeJSON
	case ".pdf":
		return MimePDF
	case ".url":
		return MimeWebPageURL
	default:
		return "application/octet-stream"
	}
}

// UploadedFile is one named byte stream inside an upload request.
type UploadedFile struct {
	Name    string `json:"name"`
	Content []byte `json:"-"`
}

// DocumentUploadRequest describes one ingestion request. Index and
// DocumentID are normalized before use; empty DocumentID gets a generated
// one. Steps empty means the default ingestion pipeline.
type DocumentUploadRequest struct {
	Index      string          `json:"index"`
	DocumentID string          `json:"document_id"`
	Tags       TagCollection   `json:"tags"`
	Files      []*UploadedFile `json:"files"`
	Steps      []string        `json:"steps,omitempty"`
}

// Validate checks the request holds something to ingest and that no file
// name collides with the pipeline status file.
func (r *DocumentUploadRequest) Validate() error {
	if len(r.Files) == 0 {
		return NewValidationError("upload request carries no files")
	}
	for _, f := range r.Files {
		if strings.TrimSpace(f.Name) == "" {
			return NewValidationError("upload request carries a file without a name")
		}
		if f.Name == StatusFilename {
			return NewValidationError(fmt.Sprintf("file name %q is reserved", StatusFilename))
		}
	}
	if r.Tags != nil {
		if err := r.Tags.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DedupFileNames renames colliding file names by appending a stable hash of
// the file's position and original name, so one document can carry files
// from different directories sharing a base name.
func (r *DocumentUploadRequest) DedupFileNames() {
	seen := make(map[string]bool, len(r.Files))
	for i, f := range r.Files {
		if !seen[f.Name] {
			seen[f.Name] = true
			continue
		}
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d/%s", i, f.Name)))
		suffix := hex.EncodeToString(sum[:4])
		ext := ""
		base := f.Name
		if idx := strings.LastIndex(f.Name, "."); idx > 0 {
			base, ext = f.Name[:idx], f.Name[idx:]
		}
		f.Name = fmt.Sprintf("%s-%s%s", base, suffix, ext)
		seen[f.Name] = true
	}
}
