package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/keycodec"
	"github.com/c9-archive/internet-archiver/internal/storage/memory"
)

func seedScrape(t *testing.T, meta *memory.MetadataStore, blobs *memory.ArtifactStore, url, domain, title string, ts time.Time, human bool, withScreenshot bool) archive.ScrapeRecord {
	t.Helper()
	ctx := context.Background()

	id, err := meta.InsertURL(ctx, url, archive.Classification{})
	require.NoError(t, err)

	htmlKey := keycodec.BuildKey(domain, title, ts, keycodec.ExtHTML)
	cssKey := keycodec.SiblingKey(htmlKey, keycodec.ExtCSS)
	pngKey := keycodec.SiblingKey(htmlKey, keycodec.ExtPNG)

	require.NoError(t, blobs.Store(ctx, htmlKey, "text/html", []byte("<html/>")))
	require.NoError(t, blobs.Store(ctx, cssKey, "text/css", []byte("body{}")))
	if withScreenshot {
		require.NoError(t, blobs.Store(ctx, pngKey, "image/png", []byte{0x89, 'P', 'N', 'G'}))
	}

	rec := archive.ScrapeRecord{
		URLID:         id,
		ScrapeAt:      ts,
		HTMLRef:       htmlKey,
		CSSRef:        cssKey,
		ScreenshotRef: pngKey,
		Human:         human,
	}
	require.NoError(t, meta.InsertScrape(ctx, rec))
	return rec
}

func TestResolveOrdersMostRecentFirst(t *testing.T) {
	t.Parallel()

	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)
	// Insert out of order; resolution must sort by capture time.
	for _, ts := range []time.Time{t2, t1, t3} {
		seedScrape(t, meta, blobs, "https://example.com", "example.com", "Front Page", ts, true, true)
	}

	versions, err := resolver.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.True(t, versions[0].ScrapeAt.Equal(t3))
	assert.True(t, versions[1].ScrapeAt.Equal(t2))
	assert.True(t, versions[2].ScrapeAt.Equal(t1))
}

func TestResolveUnknownURL(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(memory.NewMetadataStore(), memory.NewArtifactStore(), zap.NewNop())
	_, err := resolver.Resolve(context.Background(), "https://never-seen.example")
	require.Error(t, err)
	assert.True(t, errors.Is(err, archive.ErrUnknownURL))
	assert.True(t, IsNoData(err))
}

func TestResolveEmptyHistory(t *testing.T) {
	t.Parallel()

	meta := memory.NewMetadataStore()
	_, err := meta.InsertURL(context.Background(), "https://example.com", archive.Classification{})
	require.NoError(t, err)

	resolver := NewResolver(meta, memory.NewArtifactStore(), zap.NewNop())
	_, err = resolver.Resolve(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, archive.ErrEmptyHistory))
	assert.True(t, IsNoData(err))
}

func TestResolveMissingScreenshotYieldsEmptyRef(t *testing.T) {
	t.Parallel()

	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := seedScrape(t, meta, blobs, "https://example.com", "example.com", "Front Page", ts, true, false)

	versions, err := resolver.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Empty(t, versions[0].ScreenshotRef)
	assert.Equal(t, rec.HTMLRef, versions[0].HTMLRef)
}

func TestResolveScreenshotDerivedByExtensionSubstitution(t *testing.T) {
	t.Parallel()

	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := seedScrape(t, meta, blobs, "https://example.com", "example.com", "Front Page", ts, false, true)

	versions, err := resolver.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, keycodec.SiblingKey(rec.HTMLRef, keycodec.ExtPNG), versions[0].ScreenshotRef)
	assert.False(t, versions[0].Human)
}

func TestResolveListingFailureKeepsDerivedRefs(t *testing.T) {
	t.Parallel()

	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := seedScrape(t, meta, blobs, "https://example.com", "example.com", "Front Page", ts, true, true)

	// The artifact store going dark must not break the history render.
	blobs.FailWith(errors.New("dial tcp: connection refused"))

	versions, err := resolver.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, rec.ScreenshotRef, versions[0].ScreenshotRef)
}

func TestResolveDisplayTime(t *testing.T) {
	t.Parallel()

	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	seedScrape(t, meta, blobs, "https://example.com", "example.com", "Front Page", ts, true, true)

	versions, err := resolver.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "15 Mar 2024 09:30", versions[0].DisplayTime)
}

func TestResolveMalformedTimestampFallsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	id, err := meta.InsertURL(ctx, "https://example.com", archive.Classification{})
	require.NoError(t, err)

	htmlKey := "example.com/Front Page/not-a-timestamp.html"
	require.NoError(t, blobs.Store(ctx, htmlKey, "text/html", []byte("<html/>")))
	require.NoError(t, blobs.Store(ctx, "example.com/Front Page/not-a-timestamp.png", "image/png", []byte{1}))
	require.NoError(t, meta.InsertScrape(ctx, archive.ScrapeRecord{
		URLID:    id,
		ScrapeAt: time.Now(),
		HTMLRef:  htmlKey,
	}))

	versions, err := resolver.Resolve(ctx, "https://example.com")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Empty(t, versions[0].DisplayTime)
	assert.NotEmpty(t, versions[0].ScreenshotRef)
}

func TestSearchDeduplicatesPageIdentities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	resolver := NewResolver(meta, blobs, zap.NewNop())

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	seedScrape(t, meta, blobs, "https://www.ikea.com", "www.ikea.com", "IKEA Home", t1, true, true)
	seedScrape(t, meta, blobs, "https://www.ikea.com", "www.ikea.com", "IKEA Home", t1.Add(time.Hour), false, true)
	seedScrape(t, meta, blobs, "https://guardian.com", "guardian.com", "News Front", t1, true, true)

	identities, err := resolver.Search(ctx, "ikea")
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "www.ikea.com", identities[0].Domain)
	assert.Equal(t, "IKEA Home", identities[0].Title)

	all, err := resolver.Search(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSearchStoreUnavailable(t *testing.T) {
	t.Parallel()

	blobs := memory.NewArtifactStore()
	blobs.FailWith(errors.New("boom"))
	resolver := NewResolver(memory.NewMetadataStore(), blobs, zap.NewNop())

	_, err := resolver.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, archive.ErrStoreUnavailable))
}
