// Package pipeline implements the periodic re-scrape loop that keeps every
// known URL's history growing without user action.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

// EventArchiveCompleted is the event name published after each successful
// automated ingestion.
const EventArchiveCompleted = "archive.completed"

// ArchiveCompleted is the JSON payload published per archived snapshot.
type ArchiveCompleted struct {
	URLID      int64     `json:"url_id"`
	URL        string    `json:"url"`
	ScrapeAt   time.Time `json:"scrape_at"`
	HTMLRef    string    `json:"html_ref"`
	Provenance string    `json:"provenance"`
}

// Ingestor is the slice of the ingestion coordinator the pipeline needs.
type Ingestor interface {
	Ingest(ctx context.Context, cap archive.CaptureResult, prov archive.Provenance, class archive.Classification) (archive.Receipt, error)
}

// Config controls the re-scrape loop.
type Config struct {
	Interval      time.Duration
	PerURLTimeout time.Duration
}

// Pipeline re-captures every known URL on a fixed interval.
type Pipeline struct {
	meta       archive.MetadataStore
	capturer   archive.Capturer
	classifier archive.Classifier
	ingestor   Ingestor
	publisher  archive.Publisher
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Pipeline. classifier and publisher may be nil; the loop
// then skips classification and event publishing respectively.
func New(meta archive.MetadataStore, capturer archive.Capturer, classifier archive.Classifier, ingestor Ingestor, publisher archive.Publisher, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerURLTimeout <= 0 {
		cfg.PerURLTimeout = 2 * time.Minute
	}
	return &Pipeline{
		meta:       meta,
		capturer:   capturer,
		classifier: classifier,
		ingestor:   ingestor,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, sweeping all known URLs once per interval until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("re-scrape pipeline started", zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("re-scrape pipeline stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps every known URL a single time. Per-URL failures are logged
// and skipped; one broken site never stalls the rest of the sweep.
func (p *Pipeline) RunOnce(ctx context.Context) {
	urls, err := p.meta.KnownURLs(ctx)
	if err != nil {
		p.logger.Error("list known urls", zap.Error(err))
		return
	}

	var ok, failed int
	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		if err := p.rescrape(ctx, url); err != nil {
			p.logger.Warn("re-scrape failed", zap.String("url", url), zap.Error(err))
			failed++
			continue
		}
		ok++
	}
	p.logger.Info("re-scrape sweep finished", zap.Int("ok", ok), zap.Int("failed", failed))
}

func (p *Pipeline) rescrape(ctx context.Context, url string) error {
	urlCtx, cancel := context.WithTimeout(ctx, p.cfg.PerURLTimeout)
	defer cancel()

	cap, err := p.capturer.Capture(urlCtx, url)
	if err != nil {
		return err
	}

	var class archive.Classification
	if p.classifier != nil {
		class, err = p.classifier.Classify(urlCtx, cap.HTML)
		if err != nil {
			// Classification never blocks the snapshot.
			p.logger.Warn("classification failed", zap.String("url", url), zap.Error(err))
			class = archive.Classification{}
		}
	}

	receipt, err := p.ingestor.Ingest(urlCtx, cap, archive.ProvenanceAutomated, class)
	if err != nil {
		return err
	}

	if p.publisher != nil {
		if _, err := p.publisher.Publish(urlCtx, EventArchiveCompleted, ArchiveCompleted{
			URLID:      receipt.URLID,
			URL:        receipt.URL,
			ScrapeAt:   receipt.ScrapeAt,
			HTMLRef:    receipt.HTMLRef,
			Provenance: string(archive.ProvenanceAutomated),
		}); err != nil {
			p.logger.Warn("publish archive event", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}
