// Package capture fetches a live page and produces the raw material for one
// archive snapshot: the HTML document, its inline stylesheet text, the page
// title, and a rendered screenshot.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/keycodec"
	"github.com/c9-archive/internet-archiver/internal/metrics"
)

// Config controls the fetch and render behaviour of a capture Service.
type Config struct {
	UserAgent            string
	RequestTimeout       time.Duration
	RenderTimeout        time.Duration
	RenderMaxConcurrency int
	RenderDomainQPS      float64
	ViewportWidth        int64
	ViewportHeight       int64
}

// Page is the raw result of fetching a URL.
type Page struct {
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Fetcher retrieves the HTML document for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer produces a PNG screenshot of a URL.
type Renderer interface {
	Screenshot(ctx context.Context, rawURL string) ([]byte, error)
}

// Service implements archive.Capturer by combining an HTML fetcher with a
// screenshot renderer. The fetch is load-bearing; the screenshot is
// best-effort and a render failure degrades to a snapshot without one.
type Service struct {
	fetcher  Fetcher
	renderer Renderer
	clock    archive.Clock
	logger   *zap.Logger
}

// NewService constructs a capture Service. renderer may be nil, in which
// case snapshots carry no screenshot.
func NewService(fetcher Fetcher, renderer Renderer, clock archive.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher:  fetcher,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
	}
}

// Capture fetches the URL and assembles a CaptureResult. URLs whose domain
// cannot be parsed, failed fetches, and non-2xx/3xx responses all wrap
// ErrCaptureFailed; nothing is written anywhere on failure.
func (s *Service) Capture(ctx context.Context, rawURL string) (archive.CaptureResult, error) {
	domain, ok := keycodec.ParseDomain(rawURL)
	if !ok {
		metrics.ObserveCapture(rawURL, "bad_url", 0)
		return archive.CaptureResult{}, fmt.Errorf("%w: no domain in %q", archive.ErrCaptureFailed, rawURL)
	}

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		metrics.ObserveCapture(rawURL, "fetch_error", 0)
		return archive.CaptureResult{}, fmt.Errorf("%w: fetch %s: %v", archive.ErrCaptureFailed, rawURL, err)
	}
	if page.StatusCode >= http.StatusBadRequest {
		metrics.ObserveCapture(rawURL, "http_error", len(page.Body))
		return archive.CaptureResult{}, fmt.Errorf("%w: fetch %s: status %d", archive.ErrCaptureFailed, rawURL, page.StatusCode)
	}
	if len(page.Body) == 0 {
		metrics.ObserveCapture(rawURL, "empty_body", 0)
		return archive.CaptureResult{}, fmt.Errorf("%w: fetch %s: empty body", archive.ErrCaptureFailed, rawURL)
	}

	title, css, err := extractDocument(page.Body)
	if err != nil {
		metrics.ObserveCapture(rawURL, "parse_error", len(page.Body))
		return archive.CaptureResult{}, fmt.Errorf("%w: parse %s: %v", archive.ErrCaptureFailed, rawURL, err)
	}

	var screenshot []byte
	if s.renderer != nil {
		screenshot, err = s.renderer.Screenshot(ctx, rawURL)
		if err != nil {
			// The HTML snapshot is still worth keeping.
			s.logger.Warn("screenshot render failed", zap.String("url", rawURL), zap.Error(err))
			screenshot = nil
		}
	}

	metrics.ObserveCapture(rawURL, "success", len(page.Body))
	return archive.CaptureResult{
		URL:        rawURL,
		Domain:     domain,
		Title:      title,
		CapturedAt: s.clock.Now(),
		HTML:       page.Body,
		CSS:        []byte(css),
		Screenshot: screenshot,
	}, nil
}

// extractDocument pulls the title and the concatenated inline stylesheet
// text out of an HTML document.
func extractDocument(body []byte) (title string, css string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "Untitled"
	}

	var sheets []string
	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			sheets = append(sheets, text)
		}
	})
	return title, strings.Join(sheets, "\n\n"), nil
}
