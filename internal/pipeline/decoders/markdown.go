package decoders

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"gopkg.in/yaml.v3"
)

// MarkdownDecoder handles markdown files. YAML front matter is stripped from
// the text and surfaced as tags so records inherit the document's own
// metadata.
type MarkdownDecoder struct {
	logger arbor.ILogger
}

var _ interfaces.ContentDecoder = (*MarkdownDecoder)(nil)

func NewMarkdownDecoder(logger arbor.ILogger) *MarkdownDecoder {
	return &MarkdownDecoder{logger: logger}
}

func (d *MarkdownDecoder) SupportsMimeType(mimeType string) bool {
	return mimeType == models.MimeMarkdown
}

func (d *MarkdownDecoder) Decode(ctx context.Context, filename string, content []byte) (*interfaces.DecodedContent, error) {
	text := normalizeNewlines(string(content))
	tags := models.NewTagCollection()

	if meta, body, ok := splitFrontMatter(text); ok {
		var fields map[string]any
		if err := yaml.Unmarshal([]byte(meta), &fields); err != nil {
			d.logger.Warn().
				Err(err).
				Str("file", filename).
				Msg("Unparsable front matter kept as body text")
		} else {
			text = body
			frontMatterTags(fields, tags)
		}
	}

	return &interfaces.DecodedContent{
		Sections: []interfaces.DecodedSection{{Number: 0, Text: text}},
		Tags:     tags,
	}, nil
}

// splitFrontMatter detects a leading "---" YAML block. Returns the block
// body, the remaining text, and whether a block was found.
func splitFrontMatter(text string) (meta, body string, ok bool) {
	if !strings.HasPrefix(text, "---\n") {
		return "", text, false
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", text, false
	}
	meta = rest[:end]
	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, true
}

// frontMatterTags flattens scalar and list-of-scalar front matter fields into
// tags. Nested structures and keys that would violate tag rules are dropped.
func frontMatterTags(fields map[string]any, tags models.TagCollection) {
	for key, value := range fields {
		if models.ValidateTagKey(key, false) != nil {
			continue
		}
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				addScalarTag(tags, key, item)
			}
		case map[string]any:
			continue
		default:
			addScalarTag(tags, key, v)
		}
	}
}

func addScalarTag(tags models.TagCollection, key string, value any) {
	switch value.(type) {
	case map[string]any, []any, nil:
		return
	}
	text := fmt.Sprint(value)
	if models.ValidateTagValue(text) != nil {
		return
	}
	tags.Add(key, text)
}
