package decoders

import (
	"context"
	"strings"

	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// TextDecoder handles flat text formats: plain text and JSON bodies are
// passed through as one section.
type TextDecoder struct{}

var _ interfaces.ContentDecoder = (*TextDecoder)(nil)

func NewTextDecoder() *TextDecoder {
	return &TextDecoder{}
}

func (d *TextDecoder) SupportsMimeType(mimeType string) bool {
	return mimeType == models.MimePlainText || mimeType == models.MimeJSON
}

func (d *TextDecoder) Decode(ctx context.Context, filename string, content []byte) (*interfaces.DecodedContent, error) {
	text := normalizeNewlines(string(content))
	return &interfaces.DecodedContent{
		Sections: []interfaces.DecodedSection{{Number: 0, Text: text}},
		Tags:     models.NewTagCollection(),
	}, nil
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
