package decoders

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

var (
	spaceRegex   = regexp.MustCompile(`[ \t]+`)
	newlineRegex = regexp.MustCompile(`\n{3,}`)
)

// HTMLDecoder converts web pages to markdown text. Boilerplate elements are
// stripped before conversion and the page title surfaces as a tag.
type HTMLDecoder struct {
	logger arbor.ILogger
}

var _ interfaces.ContentDecoder = (*HTMLDecoder)(nil)

func NewHTMLDecoder(logger arbor.ILogger) *HTMLDecoder {
	return &HTMLDecoder{logger: logger}
}

func (d *HTMLDecoder) SupportsMimeType(mimeType string) bool {
	return mimeType == models.MimeHTML
}

func (d *HTMLDecoder) Decode(ctx context.Context, filename string, content []byte) (*interfaces.DecodedContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", filename, err)
	}

	tags := models.NewTagCollection()
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		if models.ValidateTagValue(title) == nil {
			tags.Add("title", title)
		}
	}

	body := doc.Find("body")
	body.Find("script, style, noscript, nav, header, footer, aside").Remove()

	text := d.toMarkdown(filename, body)
	if text == "" {
		text = cleanWhitespace(body.Text())
	}

	return &interfaces.DecodedContent{
		Sections: []interfaces.DecodedSection{{Number: 0, Text: text}},
		Tags:     tags,
	}, nil
}

func (d *HTMLDecoder) toMarkdown(filename string, body *goquery.Selection) string {
	html, err := body.Html()
	if err != nil {
		d.logger.Warn().Err(err).Str("file", filename).Msg("Failed to serialize HTML body, falling back to plain text")
		return ""
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		d.logger.Warn().Err(err).Str("file", filename).Msg("Failed to convert HTML to markdown, falling back to plain text")
		return ""
	}
	return cleanWhitespace(markdown)
}

func cleanWhitespace(text string) string {
	text = normalizeNewlines(text)
	text = spaceRegex.ReplaceAllString(text, " ")
	text = newlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
