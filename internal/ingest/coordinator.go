// Package ingest registers freshly captured snapshots across the artifact
// and metadata stores.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/keycodec"
	"github.com/c9-archive/internet-archiver/internal/metrics"
)

// Content types written alongside each artifact.
const (
	htmlContentType = "text/html; charset=utf-8"
	cssContentType  = "text/css; charset=utf-8"
	pngContentType  = "image/png"
)

// Coordinator performs the idempotent find-or-create-url, append-scrape,
// append-interaction write sequence for one captured snapshot.
type Coordinator struct {
	meta   archive.MetadataStore
	blobs  archive.ArtifactStore
	clock  archive.Clock
	logger *zap.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(meta archive.MetadataStore, blobs archive.ArtifactStore, clock archive.Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		meta:   meta,
		blobs:  blobs,
		clock:  clock,
		logger: logger,
	}
}

// Ingest stores the capture's artifacts, then writes the url, scrape, and
// interaction rows strictly in that order. Provenance is required and
// explicit: only human submissions record a save interaction. Any step
// failing aborts the sequence and wraps ErrIngestionFailed; a url row left
// behind by a partial write is found, not duplicated, on the next attempt.
func (c *Coordinator) Ingest(ctx context.Context, cap archive.CaptureResult, prov archive.Provenance, class archive.Classification) (archive.Receipt, error) {
	receipt, err := c.ingest(ctx, cap, prov, class)
	if err != nil {
		metrics.ObserveScrape(string(prov), "error")
		return archive.Receipt{}, fmt.Errorf("%w: %s: %v", archive.ErrIngestionFailed, cap.URL, err)
	}
	metrics.ObserveScrape(string(prov), "ok")
	return receipt, nil
}

func (c *Coordinator) ingest(ctx context.Context, cap archive.CaptureResult, prov archive.Provenance, class archive.Classification) (archive.Receipt, error) {
	if cap.URL == "" {
		return archive.Receipt{}, errors.New("capture result has no url")
	}
	if cap.Domain == "" {
		return archive.Receipt{}, errors.New("capture result has no domain")
	}
	if len(cap.HTML) == 0 {
		return archive.Receipt{}, errors.New("capture result has no html payload")
	}

	htmlKey := keycodec.BuildKey(cap.Domain, cap.Title, cap.CapturedAt, keycodec.ExtHTML)
	cssKey := keycodec.SiblingKey(htmlKey, keycodec.ExtCSS)
	pngKey := keycodec.SiblingKey(htmlKey, keycodec.ExtPNG)

	if err := c.blobs.Store(ctx, htmlKey, htmlContentType, cap.HTML); err != nil {
		return archive.Receipt{}, fmt.Errorf("store html: %w", err)
	}
	if err := c.blobs.Store(ctx, cssKey, cssContentType, cap.CSS); err != nil {
		return archive.Receipt{}, fmt.Errorf("store css: %w", err)
	}
	if len(cap.Screenshot) > 0 {
		if err := c.blobs.Store(ctx, pngKey, pngContentType, cap.Screenshot); err != nil {
			return archive.Receipt{}, fmt.Errorf("store screenshot: %w", err)
		}
	} else {
		// No screenshot captured; the resolver blanks the derived key on
		// read and the UI shows a placeholder.
		pngKey = ""
	}

	urlID, err := c.findOrCreateURL(ctx, cap.URL, class)
	if err != nil {
		return archive.Receipt{}, err
	}

	if err := c.meta.InsertScrape(ctx, archive.ScrapeRecord{
		URLID:         urlID,
		ScrapeAt:      cap.CapturedAt,
		HTMLRef:       htmlKey,
		CSSRef:        cssKey,
		ScreenshotRef: pngKey,
		Human:         prov.Human(),
		Genre:         class.Genre,
	}); err != nil {
		return archive.Receipt{}, fmt.Errorf("insert scrape: %w", err)
	}

	if prov.Human() {
		if err := c.meta.InsertInteraction(ctx, urlID, archive.InteractionSave, c.clock.Now()); err != nil {
			return archive.Receipt{}, fmt.Errorf("record save interaction: %w", err)
		}
		metrics.ObserveInteraction(string(archive.InteractionSave))
	}

	c.logger.Info("snapshot ingested",
		zap.String("url", cap.URL),
		zap.Int64("url_id", urlID),
		zap.String("html_ref", htmlKey),
		zap.String("provenance", string(prov)),
	)

	return archive.Receipt{
		URLID:    urlID,
		URL:      cap.URL,
		ScrapeAt: cap.CapturedAt,
		HTMLRef:  htmlKey,
	}, nil
}

// findOrCreateURL resolves the url row id, creating the row on first
// sight. The store's unique constraint serializes concurrent first-time
// submissions; classification values ride along on creation and backfill
// empty fields on an existing row (first-write-wins).
func (c *Coordinator) findOrCreateURL(ctx context.Context, url string, class archive.Classification) (int64, error) {
	id, err := c.meta.FindURLID(ctx, url)
	if errors.Is(err, archive.ErrUnknownURL) {
		id, err = c.meta.InsertURL(ctx, url, class)
		if err != nil {
			return 0, fmt.Errorf("insert url: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find url: %w", err)
	}
	if class != (archive.Classification{}) {
		if err := c.meta.BackfillClassification(ctx, id, class); err != nil {
			// Backfill is best-effort metadata enrichment, not part of
			// the write sequence's contract.
			c.logger.Warn("classification backfill failed", zap.String("url", url), zap.Error(err))
		}
	}
	return id, nil
}

// RecordVisit appends a visit interaction for an already-archived URL.
// Unknown URLs pass through as ErrUnknownURL so page views of unarchived
// URLs stay silent no-ops for the caller.
func (c *Coordinator) RecordVisit(ctx context.Context, url string) error {
	id, err := c.meta.FindURLID(ctx, url)
	if err != nil {
		return err
	}
	if err := c.meta.InsertInteraction(ctx, id, archive.InteractionVisit, c.clock.Now()); err != nil {
		return err
	}
	metrics.ObserveInteraction(string(archive.InteractionVisit))
	return nil
}
