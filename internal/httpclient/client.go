package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/mnemo/internal/models"
)

// DefaultMaxBodySize caps fetched web pages at 10MB so one oversized URL
// cannot exhaust worker memory.
const DefaultMaxBodySize = 10 << 20

// NewDefaultHTTPClient creates a simple HTTP client with a timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// FetchResult is one downloaded page: body plus the normalized content type
// the decoders route on.
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// Fetcher downloads URL uploads for the extract step with bounded body size.
type Fetcher struct {
	client      *http.Client
	maxBodySize int64
}

// NewFetcher creates a fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:      NewDefaultHTTPClient(timeout),
		maxBodySize: DefaultMaxBodySize,
	}
}

// Fetch downloads the URL. Non-2xx responses and network errors are
// transient; a body over the size cap is a validation error since retrying
// will not shrink it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, models.NewValidationError(fmt.Sprintf("URL %q is not absolute http(s)", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("invalid URL %q: %v", rawURL, err))
	}
	req.Header.Set("Accept", "text/html, text/plain, application/pdf, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, models.NewValidationError(fmt.Sprintf("fetch %s: status %d", rawURL, resp.StatusCode))
		}
		return nil, models.Transient(fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, models.Transient(fmt.Errorf("read %s: %w", rawURL, err))
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, models.NewValidationError(fmt.Sprintf("fetch %s: body exceeds %d bytes", rawURL, f.maxBodySize))
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if contentType == "" {
		contentType = models.MimeHTML
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResult{
		Body:        body,
		ContentType: contentType,
		FinalURL:    finalURL,
	}, nil
}
