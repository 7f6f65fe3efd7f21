package archive

import "errors"

// Sentinel errors that partition "no data" conditions from transport
// failures. Callers branch on these with errors.Is; adapters wrap the
// low-level cause so it stays inspectable.
var (
	// ErrStoreUnavailable means the artifact or metadata store could not
	// be reached. It is surfaced, never retried, by the core.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrArtifactNotFound means a fetch referenced an object key that does
	// not exist in the artifact store.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrUnknownURL means no url row exists for the requested URL string.
	ErrUnknownURL = errors.New("unknown url")

	// ErrEmptyHistory means a url row exists but no scrape has been
	// recorded for it. A registered URL can legitimately have no scrapes
	// when a concurrent insert raced ahead of the scrape write.
	ErrEmptyHistory = errors.New("empty history")

	// ErrMalformedTimestamp means a capture timestamp fragment failed to
	// parse. Display falls back to the raw fragment; never fatal.
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	// ErrInvalidInteraction means an interaction type outside visit/save
	// was supplied. This is a logic fault, not a transient condition.
	ErrInvalidInteraction = errors.New("invalid interaction type")

	// ErrCaptureFailed means the capture collaborator could not produce a
	// snapshot; nothing was written.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrIngestionFailed wraps any failure inside the three-step write
	// sequence of the ingestion coordinator.
	ErrIngestionFailed = errors.New("ingestion failed")
)
