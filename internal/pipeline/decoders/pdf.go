package decoders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// pdfStringLiteral matches parenthesized string literals inside PDF content
// streams; text-showing operators carry their payload this way.
var pdfStringLiteral = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)

// PDFDecoder extracts text page by page. Section numbers are page numbers.
// pdfcpu exposes raw content streams rather than laid-out text, so the
// decoder pulls the string literals out of the stream, which recovers the
// text of ordinary generated PDFs but not of scanned ones.
type PDFDecoder struct {
	logger  arbor.ILogger
	tempDir string
}

var _ interfaces.ContentDecoder = (*PDFDecoder)(nil)

func NewPDFDecoder(logger arbor.ILogger) *PDFDecoder {
	tempDir := filepath.Join(os.TempDir(), "mnemo-pdf")
	os.MkdirAll(tempDir, 0755)
	return &PDFDecoder{
		logger:  logger,
		tempDir: tempDir,
	}
}

func (d *PDFDecoder) SupportsMimeType(mimeType string) bool {
	return mimeType == models.MimePDF
}

func (d *PDFDecoder) Decode(ctx context.Context, filename string, content []byte) (*interfaces.DecodedContent, error) {
	tempFile, err := os.CreateTemp(d.tempDir, "extract-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	if _, err := tempFile.Write(content); err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(tempPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf %s: %w", filename, err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp(d.tempDir, "pages-*")
	if err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempPath, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("extract pdf content %s: %w", filename, err)
	}

	pageTexts := make(map[int]string, pageCount)
	entries, _ := os.ReadDir(outDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pageNum, ok := pageNumberFromName(entry.Name())
		if !ok {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			d.logger.Warn().Err(err).Str("page_file", entry.Name()).Msg("Failed to read extracted page content")
			continue
		}
		pageTexts[pageNum] = textFromContentStream(string(raw))
	}

	sections := make([]interfaces.DecodedSection, 0, pageCount)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		sections = append(sections, interfaces.DecodedSection{
			Number: pageNum,
			Text:   pageTexts[pageNum],
		})
	}

	d.logger.Debug().
		Str("file", filename).
		Int("pages", pageCount).
		Msg("Decoded PDF")

	return &interfaces.DecodedContent{
		Sections: sections,
		Tags:     models.NewTagCollection(),
	}, nil
}

// pageNumberFromName parses the page number out of pdfcpu's extracted
// content file names ("Content_page_3.txt" style).
func pageNumberFromName(name string) (int, bool) {
	var pageNum int
	if _, err := fmt.Sscanf(name, "Content_page_%d", &pageNum); err == nil {
		return pageNum, true
	}
	if _, err := fmt.Sscanf(name, "page_%d", &pageNum); err == nil {
		return pageNum, true
	}
	return 0, false
}

// textFromContentStream recovers the string literals of a page content
// stream and joins them into readable text.
func textFromContentStream(stream string) string {
	matches := pdfStringLiteral.FindAllStringSubmatch(stream, -1)
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		run := unescapePDFString(m[1])
		if strings.TrimSpace(run) == "" {
			continue
		}
		parts = append(parts, run)
	}
	return cleanWhitespace(strings.Join(parts, " "))
}

func unescapePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '(', ')', '\\':
			b.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			end := i
			for end < len(s) && end-i < 3 && s[end] >= '0' && s[end] <= '7' {
				end++
			}
			if code, err := strconv.ParseUint(s[i:end], 8, 16); err == nil && code < 256 {
				b.WriteByte(byte(code))
			}
			i = end - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
