package interfaces

import (
	"context"

	"github.com/ternarybob/mnemo/internal/models"
)

// DecodedSection is one section of decoded content: a page for paginated
// formats, the whole body for flat ones. Numbers start at 1 for paginated
// formats and are 0 for flat ones.
type DecodedSection struct {
	Number int
	Text   string
}

// DecodedContent is the outcome of decoding one uploaded file. Tags carry
// metadata found inside the content itself (markdown front matter, HTML
// title); the extract step merges them onto the artifact.
type DecodedContent struct {
	Sections []DecodedSection
	Tags     models.TagCollection
}

// ContentDecoder turns one uploaded file format into plain text sections.
// The extract handler picks a decoder by mime type.
type ContentDecoder interface {
	// SupportsMimeType reports whether this decoder handles the given mime.
	SupportsMimeType(mimeType string) bool

	// Decode extracts text sections from raw content.
	Decode(ctx context.Context, filename string, content []byte) (*DecodedContent, error)
}
