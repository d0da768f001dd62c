package files

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/models"
)

func newTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	store, err := NewDocumentStore(t.TempDir(), arbor.NewLogger())
	if err != nil {
		t.Fatalf("Failed to create document store: %v", err)
	}
	return store
}

func writeTestFile(t *testing.T, store *DocumentStore, index, documentID, name, content string) {
	t.Helper()
	if err := store.WriteFile(context.Background(), index, documentID, name, strings.NewReader(content)); err != nil {
		t.Fatalf("WriteFile %s failed: %v", name, err)
	}
}

func readTestFile(t *testing.T, store *DocumentStore, index, documentID, name string) string {
	t.Helper()
	file, err := store.ReadFile(context.Background(), index, documentID, name)
	if err != nil {
		t.Fatalf("ReadFile %s failed: %v", name, err)
	}
	data, err := file.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll %s failed: %v", name, err)
	}
	return string(data)
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	writeTestFile(t, store, "default", "doc_1", "content.txt", "hello memory")

	if got := readTestFile(t, store, "default", "doc_1", "content.txt"); got != "hello memory" {
		t.Errorf("Expected %q, got %q", "hello memory", got)
	}

	// Overwrite replaces content
	writeTestFile(t, store, "default", "doc_1", "content.txt", "rewritten")
	if got := readTestFile(t, store, "default", "doc_1", "content.txt"); got != "rewritten" {
		t.Errorf("Expected overwrite, got %q", got)
	}
}

func TestReadMissingFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ReadFile(context.Background(), "default", "doc_1", "nope.txt")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestStreamableFileMetadata(t *testing.T) {
	store := newTestStore(t)

	writeTestFile(t, store, "default", "doc_1", "page.html", "<html></html>")

	file, err := store.ReadFile(context.Background(), "default", "doc_1", "page.html")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if file.Size != int64(len("<html></html>")) {
		t.Errorf("Expected size %d, got %d", len("<html></html>"), file.Size)
	}
	if file.ContentType != models.MimeHTML {
		t.Errorf("Expected %s, got %s", models.MimeHTML, file.ContentType)
	}

	reader, err := file.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("Unexpected content: %s", data)
	}
}

func TestListFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeTestFile(t, store, "default", "doc_1", "a.txt", "a")
	writeTestFile(t, store, "default", "doc_1", "b.txt", "b")
	writeTestFile(t, store, "default", "doc_1", models.StatusFilename, "{}")

	names, err := store.ListFiles(ctx, "default", "doc_1")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("Expected 3 files, got %v", names)
	}

	_, err = store.ListFiles(ctx, "default", "missing_doc")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing document, got %v", err)
	}
}

func TestEmptyDocumentDirectoryKeepsStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeTestFile(t, store, "default", "doc_1", "a.txt", "a")
	writeTestFile(t, store, "default", "doc_1", "a.txt.partition.0.txt", "part")
	writeTestFile(t, store, "default", "doc_1", models.StatusFilename, `{"index":"default"}`)

	if err := store.EmptyDocumentDirectory(ctx, "default", "doc_1"); err != nil {
		t.Fatalf("EmptyDocumentDirectory failed: %v", err)
	}

	names, err := store.ListFiles(ctx, "default", "doc_1")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(names) != 1 || names[0] != models.StatusFilename {
		t.Fatalf("Expected only the status file to survive, got %v", names)
	}
}

func TestDeleteDocumentDirectory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeTestFile(t, store, "default", "doc_1", models.StatusFilename, "{}")

	if err := store.DeleteDocumentDirectory(ctx, "default", "doc_1"); err != nil {
		t.Fatalf("DeleteDocumentDirectory failed: %v", err)
	}
	if _, err := store.ListFiles(ctx, "default", "doc_1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected document gone, got %v", err)
	}

	// Idempotent
	if err := store.DeleteDocumentDirectory(ctx, "default", "doc_1"); err != nil {
		t.Fatalf("Second delete should be a no-op: %v", err)
	}
}

func TestDeleteIndexDirectory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeTestFile(t, store, "notes", "doc_1", "a.txt", "a")
	writeTestFile(t, store, "notes", "doc_2", "b.txt", "b")
	writeTestFile(t, store, "other", "doc_3", "c.txt", "c")

	if err := store.DeleteIndexDirectory(ctx, "notes"); err != nil {
		t.Fatalf("DeleteIndexDirectory failed: %v", err)
	}

	if _, err := store.ListFiles(ctx, "notes", "doc_1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected notes/doc_1 gone, got %v", err)
	}
	if got := readTestFile(t, store, "other", "doc_3", "c.txt"); got != "c" {
		t.Errorf("Sibling index must survive, got %q", got)
	}
}

func TestPathSegmentValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		index      string
		documentID string
		name       string
	}{
		{"../escape", "doc_1", "a.txt"},
		{"default", "..", "a.txt"},
		{"default", "doc_1", "../../etc/passwd"},
		{"default", "doc_1", "a/b.txt"},
		{"", "doc_1", "a.txt"},
	}
	for _, tc := range cases {
		err := store.WriteFile(ctx, tc.index, tc.documentID, tc.name, strings.NewReader("x"))
		if !models.IsValidation(err) {
			t.Errorf("WriteFile(%q,%q,%q): expected validation error, got %v", tc.index, tc.documentID, tc.name, err)
		}
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeTestFile(t, store, "default", "doc_1", "a.txt", "a")

	if err := store.DeleteFile(ctx, "default", "doc_1", "a.txt"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if err := store.DeleteFile(ctx, "default", "doc_1", "a.txt"); err != nil {
		t.Fatalf("Deleting a missing file should be a no-op: %v", err)
	}
}
