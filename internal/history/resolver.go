// Package history reconstructs the ordered capture history of an archived
// page, pairing each HTML snapshot with its screenshot and tolerating
// missing or partial artifacts.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/keycodec"
)

// DisplayLayout is the fixed human-readable pattern used for capture
// timestamps in history views.
const DisplayLayout = "02 Jan 2006 15:04"

// Resolver produces the complete, correctly ordered, cross-referenced view
// of a page's capture history from the two weakly-coupled stores.
type Resolver struct {
	meta   archive.MetadataStore
	blobs  archive.ArtifactStore
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(meta archive.MetadataStore, blobs archive.ArtifactStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		meta:   meta,
		blobs:  blobs,
		logger: logger,
	}
}

// Resolve returns every capture of the URL, most recent first. The
// screenshot key for each record is derived from its HTML key by extension
// substitution, then checked against a single listing of the page's key
// space: a screenshot object missing from the store yields an empty
// reference, never an error. A URL with no scrapes recorded wraps
// ErrEmptyHistory; a URL never seen wraps ErrUnknownURL.
func (r *Resolver) Resolve(ctx context.Context, url string) ([]archive.PageVersion, error) {
	if _, err := r.meta.FindURLID(ctx, url); err != nil {
		return nil, err
	}

	records, err := r.meta.ScrapeRecords(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// Registered but never scraped: a concurrent insert raced ahead
		// of the scrape write. Callers render a "no results" state.
		return nil, fmt.Errorf("%w: %s", archive.ErrEmptyHistory, url)
	}

	existing := r.listPageKeys(ctx, records)

	versions := make([]archive.PageVersion, 0, len(records))
	for _, rec := range records {
		versions = append(versions, r.toVersion(rec, existing))
	}
	return versions, nil
}

// listPageKeys fetches one listing per distinct page prefix so screenshot
// presence can be checked without a store round-trip per record. A listing
// failure degrades to nil: derived references are then left unverified
// rather than failing the whole history view.
func (r *Resolver) listPageKeys(ctx context.Context, records []archive.ScrapeRecord) map[string]bool {
	prefixes := make(map[string]bool)
	for _, rec := range records {
		if prefix, ok := keycodec.PagePrefix(rec.HTMLRef); ok {
			prefixes[prefix] = true
		}
	}

	existing := make(map[string]bool)
	for prefix := range prefixes {
		objects, err := r.blobs.ListKeys(ctx, prefix)
		if err != nil {
			r.logger.Warn("artifact listing failed; screenshot presence unverified",
				zap.String("prefix", prefix),
				zap.Error(err),
			)
			return nil
		}
		for _, obj := range objects {
			existing[obj.Key] = true
		}
	}
	return existing
}

func (r *Resolver) toVersion(rec archive.ScrapeRecord, existing map[string]bool) archive.PageVersion {
	screenshot := rec.ScreenshotRef
	if screenshot == "" {
		screenshot = keycodec.SiblingKey(rec.HTMLRef, keycodec.ExtPNG)
	}
	if existing != nil && !existing[screenshot] {
		// HTML without its screenshot counterpart: the presentation
		// layer renders a placeholder.
		screenshot = ""
	}

	css := rec.CSSRef
	if css == "" {
		css = keycodec.SiblingKey(rec.HTMLRef, keycodec.ExtCSS)
	}

	display, err := captureDisplayTime(rec.HTMLRef)
	if err != nil {
		// Malformed timestamp fragment: omit the date, keep the record.
		r.logger.Debug("capture timestamp unparseable", zap.String("key", rec.HTMLRef), zap.Error(err))
		display = ""
	}

	return archive.PageVersion{
		ScrapeAt:      rec.ScrapeAt,
		DisplayTime:   display,
		HTMLRef:       rec.HTMLRef,
		CSSRef:        css,
		ScreenshotRef: screenshot,
		Human:         rec.Human,
		Genre:         rec.Genre,
	}
}

// captureDisplayTime parses the ISO-8601 timestamp fragment embedded in an
// artifact key and renders it in the display layout.
func captureDisplayTime(key string) (string, error) {
	parsed, err := keycodec.ParseKey(key)
	if err != nil {
		return "", err
	}
	return parsed.Timestamp.Format(DisplayLayout), nil
}

// Search matches a partial key fragment against the artifact store's key
// listing by substring containment. The physical keys carry the sanitized
// domain/title pair rather than the literal URL string, so this is the only
// way to find a page without its exact URL. Each distinct page prefix in
// the matches becomes one identity, deduplicated and sorted.
func (r *Resolver) Search(ctx context.Context, fragment string) ([]archive.PageIdentity, error) {
	objects, err := r.blobs.ListKeys(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var identities []archive.PageIdentity
	for _, obj := range objects {
		if !strings.Contains(obj.Key, fragment) {
			continue
		}
		prefix, ok := keycodec.PagePrefix(obj.Key)
		if !ok || seen[prefix] {
			continue
		}
		seen[prefix] = true
		domain, title, _ := strings.Cut(prefix, "/")
		identities = append(identities, archive.PageIdentity{
			Domain: domain,
			Title:  title,
			Prefix: prefix,
		})
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i].Prefix < identities[j].Prefix })
	return identities, nil
}

// IsNoData reports whether err is one of the expected "no data" conditions
// that callers render as an empty state rather than a failure.
func IsNoData(err error) bool {
	return errors.Is(err, archive.ErrUnknownURL) || errors.Is(err, archive.ErrEmptyHistory)
}
