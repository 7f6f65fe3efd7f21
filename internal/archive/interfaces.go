package archive

import (
	"context"
	"time"
)

// ArtifactStore lists, fetches, and stores blobs (HTML, screenshot, CSS)
// addressed by the key codec's naming scheme. Every operation is remote I/O.
type ArtifactStore interface {
	// ListKeys returns the full listing filtered by prefix. An empty
	// listing is a valid, non-error state; a failed listing call wraps
	// ErrStoreUnavailable.
	ListKeys(ctx context.Context, prefix string) ([]ArtifactObject, error)

	// MostRecent returns up to limit keys with the given extension,
	// ordered by the store's last-modified metadata, descending.
	MostRecent(ctx context.Context, ext string, limit int) ([]ArtifactObject, error)

	// FetchBytes retrieves object content; wraps ErrArtifactNotFound when
	// the key does not exist.
	FetchBytes(ctx context.Context, key string) ([]byte, error)

	// FetchText retrieves object content decoded as UTF-8 text.
	FetchText(ctx context.Context, key string) (string, error)

	Store(ctx context.Context, key string, contentType string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// MetadataStore is the relational persistence layer for url, page_scrape,
// and user_interaction rows.
type MetadataStore interface {
	// FindURLID resolves a URL string to its surrogate key; wraps
	// ErrUnknownURL when no row exists.
	FindURLID(ctx context.Context, url string) (int64, error)

	// InsertURL creates the url row if absent and returns the id either
	// way. Uniqueness is enforced by the store so concurrent first-time
	// submissions of the same URL converge on one row.
	InsertURL(ctx context.Context, url string, class Classification) (int64, error)

	// BackfillClassification fills summary/genre on an existing row with
	// first-write-wins semantics; values already present are untouched.
	BackfillClassification(ctx context.Context, urlID int64, class Classification) error

	InsertScrape(ctx context.Context, rec ScrapeRecord) error

	// InsertInteraction appends a visit/save row; any other type wraps
	// ErrInvalidInteraction.
	InsertInteraction(ctx context.Context, urlID int64, kind InteractionType, at time.Time) error

	// ScrapeRecords returns all scrapes for the URL ordered by scrape_at
	// descending.
	ScrapeRecords(ctx context.Context, url string) ([]ScrapeRecord, error)

	InteractionCount(ctx context.Context, url string, kind InteractionType) (int64, error)

	// MostPopular ranks URLs by interaction count, restricted to URLs
	// with at least one human-submitted scrape.
	MostPopular(ctx context.Context, limit int) ([]PopularURL, error)

	// KnownURLs returns the distinct URLs that have at least one scrape,
	// feeding the re-scrape pipeline.
	KnownURLs(ctx context.Context) ([]string, error)
}

// Capturer fetches a page and renders its screenshot.
type Capturer interface {
	Capture(ctx context.Context, url string) (CaptureResult, error)
}

// Classifier produces the optional AI summary and genre for a page.
type Classifier interface {
	Classify(ctx context.Context, html []byte) (Classification, error)
}

// Publisher pushes archive-completed events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
