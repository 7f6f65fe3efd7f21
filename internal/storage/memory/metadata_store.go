package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

type interaction struct {
	urlID int64
	kind  archive.InteractionType
	at    time.Time
}

// MetadataStore is an in-memory archive.MetadataStore. The single mutex
// stands in for the unique constraint the Postgres store relies on, so
// concurrent first-time inserts of the same URL converge on one row here
// too.
type MetadataStore struct {
	mu           sync.Mutex
	nextID       int64
	urls         map[string]*archive.URLRecord
	scrapes      map[int64][]archive.ScrapeRecord
	interactions []interaction
}

// NewMetadataStore creates an empty in-memory metadata store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		nextID:  1,
		urls:    make(map[string]*archive.URLRecord),
		scrapes: make(map[int64][]archive.ScrapeRecord),
	}
}

// FindURLID resolves a URL to its id.
func (s *MetadataStore) FindURLID(_ context.Context, url string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[url]
	if !ok {
		return 0, fmt.Errorf("%w: %s", archive.ErrUnknownURL, url)
	}
	return rec.ID, nil
}

// InsertURL creates the row if absent and returns its id either way.
func (s *MetadataStore) InsertURL(_ context.Context, url string, class archive.Classification) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.urls[url]; ok {
		return rec.ID, nil
	}
	rec := &archive.URLRecord{
		ID:      s.nextID,
		URL:     url,
		Summary: class.Summary,
		Genre:   class.Genre,
	}
	s.nextID++
	s.urls[url] = rec
	return rec.ID, nil
}

// BackfillClassification fills empty summary/genre fields only.
func (s *MetadataStore) BackfillClassification(_ context.Context, urlID int64, class archive.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.urls {
		if rec.ID != urlID {
			continue
		}
		if rec.Summary == "" {
			rec.Summary = class.Summary
		}
		if rec.Genre == "" {
			rec.Genre = class.Genre
		}
		return nil
	}
	return fmt.Errorf("%w: id %d", archive.ErrUnknownURL, urlID)
}

// InsertScrape appends a scrape record for the owning URL.
func (s *MetadataStore) InsertScrape(_ context.Context, rec archive.ScrapeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrapes[rec.URLID] = append(s.scrapes[rec.URLID], rec)
	return nil
}

// InsertInteraction appends a visit/save row.
func (s *MetadataStore) InsertInteraction(_ context.Context, urlID int64, kind archive.InteractionType, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", archive.ErrInvalidInteraction, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, interaction{urlID: urlID, kind: kind, at: at})
	return nil
}

// ScrapeRecords returns scrapes for the URL, most recent first. Equal
// timestamps keep insertion order, mirroring the row-order tiebreak in SQL.
func (s *MetadataStore) ScrapeRecords(_ context.Context, url string) ([]archive.ScrapeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrUnknownURL, url)
	}
	records := append([]archive.ScrapeRecord(nil), s.scrapes[rec.ID]...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ScrapeAt.After(records[j].ScrapeAt)
	})
	return records, nil
}

// InteractionCount counts interactions of one type for a URL.
func (s *MetadataStore) InteractionCount(_ context.Context, url string, kind archive.InteractionType) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", archive.ErrInvalidInteraction, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[url]
	if !ok {
		return 0, fmt.Errorf("%w: %s", archive.ErrUnknownURL, url)
	}
	var n int64
	for _, it := range s.interactions {
		if it.urlID == rec.ID && it.kind == kind {
			n++
		}
	}
	return n, nil
}

// MostPopular ranks URLs by interaction count, restricted to URLs with at
// least one human-submitted scrape.
func (s *MetadataStore) MostPopular(_ context.Context, limit int) ([]archive.PopularURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]int64)
	for _, it := range s.interactions {
		counts[it.urlID]++
	}

	var popular []archive.PopularURL
	for url, rec := range s.urls {
		if !s.hasHumanScrape(rec.ID) {
			continue
		}
		if counts[rec.ID] == 0 {
			continue
		}
		popular = append(popular, archive.PopularURL{URL: url, Interactions: counts[rec.ID]})
	}
	sort.Slice(popular, func(i, j int) bool {
		if popular[i].Interactions != popular[j].Interactions {
			return popular[i].Interactions > popular[j].Interactions
		}
		return popular[i].URL < popular[j].URL
	})
	if limit > 0 && len(popular) > limit {
		popular = popular[:limit]
	}
	return popular, nil
}

func (s *MetadataStore) hasHumanScrape(urlID int64) bool {
	for _, rec := range s.scrapes[urlID] {
		if rec.Human {
			return true
		}
	}
	return false
}

// KnownURLs returns the distinct URLs that have at least one scrape.
func (s *MetadataStore) KnownURLs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var urls []string
	for url, rec := range s.urls {
		if len(s.scrapes[rec.ID]) > 0 {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)
	return urls, nil
}

// URLRecord returns a copy of the stored url row.
func (s *MetadataStore) URLRecord(_ context.Context, url string) (archive.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[url]
	if !ok {
		return archive.URLRecord{}, fmt.Errorf("%w: %s", archive.ErrUnknownURL, url)
	}
	return *rec, nil
}

// URLCount reports the number of distinct url rows (test helper).
func (s *MetadataStore) URLCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}
