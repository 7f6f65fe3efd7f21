// Package archive defines core types shared across subsystems.
package archive

import "time"

// Provenance identifies how a scrape came to exist.
type Provenance string

// Provenance values carried on every scrape record.
const (
	// ProvenanceHuman marks a scrape that a user explicitly submitted
	// through the save endpoint.
	ProvenanceHuman Provenance = "human"
	// ProvenanceAutomated marks a scrape produced by the periodic
	// re-scrape pipeline.
	ProvenanceAutomated Provenance = "automated"
)

// Human reports whether the provenance is an interactive user submission.
func (p Provenance) Human() bool {
	return p == ProvenanceHuman
}

// InteractionType enumerates the recordable user actions against a URL.
type InteractionType string

// Interaction type values persisted in the interaction lookup table.
const (
	InteractionVisit InteractionType = "visit"
	InteractionSave  InteractionType = "save"
)

// Valid reports whether the type is one of the enumerated values.
func (t InteractionType) Valid() bool {
	return t == InteractionVisit || t == InteractionSave
}

// Classification holds the optional AI-generated description of a page.
// Either field may be empty; absence never blocks ingestion.
type Classification struct {
	Summary string
	Genre   string
}

// URLRecord is the canonical row for a distinct archived URL.
type URLRecord struct {
	ID      int64
	URL     string
	Summary string
	Genre   string
}

// ScrapeRecord represents one capture instance of a URL. Records are
// created exactly once per capture event and are immutable thereafter.
type ScrapeRecord struct {
	URLID         int64
	ScrapeAt      time.Time
	HTMLRef       string
	CSSRef        string
	ScreenshotRef string
	Human         bool
	Genre         string
}

// CaptureResult is everything the capture collaborator produces for a URL.
type CaptureResult struct {
	URL        string
	Domain     string
	Title      string
	CapturedAt time.Time
	HTML       []byte
	CSS        []byte
	Screenshot []byte
}

// Receipt is returned by the ingestion coordinator so callers can re-render
// the submitting user's history view without re-resolving from scratch.
type Receipt struct {
	URLID    int64
	URL      string
	ScrapeAt time.Time
	HTMLRef  string
}

// PageVersion is one entry in a resolved capture history, ready for display.
type PageVersion struct {
	ScrapeAt      time.Time
	DisplayTime   string
	HTMLRef       string
	CSSRef        string
	ScreenshotRef string
	Human         bool
	Genre         string
}

// PageIdentity is one distinct archived page matched by a key-fragment
// search: the sanitized domain/title pair that prefixes its artifact keys.
type PageIdentity struct {
	Domain string
	Title  string
	Prefix string
}

// PopularURL pairs a URL with its interaction count for ranking.
type PopularURL struct {
	URL          string
	Interactions int64
}

// ArtifactObject describes one listed object in the artifact store.
type ArtifactObject struct {
	Key     string
	Updated time.Time
}
