package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/history"
	"github.com/c9-archive/internet-archiver/internal/ingest"
	"github.com/c9-archive/internet-archiver/internal/keycodec"
	"github.com/c9-archive/internet-archiver/internal/storage/memory"
)

type stubCapturer struct {
	at   time.Time
	fail bool
}

func (c *stubCapturer) Capture(_ context.Context, url string) (archive.CaptureResult, error) {
	if c.fail {
		return archive.CaptureResult{}, archive.ErrCaptureFailed
	}
	domain, ok := keycodec.ParseDomain(url)
	if !ok {
		return archive.CaptureResult{}, archive.ErrCaptureFailed
	}
	c.at = c.at.Add(time.Second)
	return archive.CaptureResult{
		URL:        url,
		Domain:     domain,
		Title:      "Stub Page",
		CapturedAt: c.at,
		HTML:       []byte("<html><body>stub</body></html>"),
		CSS:        []byte("body{}"),
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
	}, nil
}

type stubClassifier struct{ class archive.Classification }

func (c stubClassifier) Classify(context.Context, []byte) (archive.Classification, error) {
	return c.class, nil
}

type apiClock struct{ at time.Time }

func (c apiClock) Now() time.Time { return c.at }

type fixture struct {
	server *Server
	meta   *memory.MetadataStore
	blobs  *memory.ArtifactStore
	coord  *ingest.Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	meta := memory.NewMetadataStore()
	blobs := memory.NewArtifactStore()
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	coord := ingest.NewCoordinator(meta, blobs, apiClock{at: base}, zap.NewNop())
	resolver := history.NewResolver(meta, blobs, zap.NewNop())
	srv := NewServer(
		&stubCapturer{at: base},
		stubClassifier{class: archive.Classification{Summary: "stub summary", Genre: "News"}},
		coord,
		resolver,
		blobs,
		meta,
		cfg,
		zap.NewNop(),
	)
	return &fixture{server: srv, meta: meta, blobs: blobs, coord: coord}
}

func postArchive(t *testing.T, handler http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"url": url})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/archives", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitArchive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := postArchive(t, f.server.Handler(), "https://www.ikea.com")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://www.ikea.com", resp.URL)
	assert.NotZero(t, resp.URLID)
	assert.Contains(t, resp.HTMLRef, "www.ikea.com/Stub Page/")

	// The classification landed on the url row.
	row, err := f.meta.URLRecord(context.Background(), "https://www.ikea.com")
	require.NoError(t, err)
	assert.Equal(t, "News", row.Genre)
}

func TestSubmitArchiveBadRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/archives", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postArchive(t, f.server.Handler(), "not a url at all")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitArchiveCaptureFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	srv := NewServer(&stubCapturer{fail: true}, nil, f.coord, history.NewResolver(f.meta, f.blobs, zap.NewNop()), f.blobs, f.meta, Config{}, zap.NewNop())

	rec := postArchive(t, srv.Handler(), "https://www.ikea.com")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://www.ikea.com").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/archives?url=https://www.ikea.com", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Versions, 1)
	assert.True(t, resp.Versions[0].Human)
	assert.NotEmpty(t, resp.Versions[0].ScreenshotRef)

	// Viewing the history recorded a visit.
	visits, err := f.meta.InteractionCount(context.Background(), "https://www.ikea.com", archive.InteractionVisit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), visits)
}

func TestGetHistoryUnknownURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/archives?url=https://never-seen.example", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	// No data is a 404 "no results" payload, never a 500.
	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Versions)
}

func TestGetHistoryMissingParam(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/archives", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://www.ikea.com").Code)
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://guardian.com").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/search?q=ikea", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []archive.PageIdentity `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "www.ikea.com", resp.Results[0].Domain)
}

func TestSearchNoMatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/archives/search?q=nothing", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestRecent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{RecentLimit: 1})
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://www.ikea.com").Code)
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://guardian.com").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/recent", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Screenshots []string `json:"screenshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Screenshots, 1)
	assert.Contains(t, resp.Screenshots[0], ".png")
}

func TestPopular(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://www.ikea.com").Code)

	// Two views on top of the save interaction.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/archives?url=https://www.ikea.com", nil)
		f.server.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/popular", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []archive.PopularURL `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://www.ikea.com", resp.Results[0].URL)
	assert.Equal(t, int64(3), resp.Results[0].Interactions)
}

func TestPopularStoreUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusCreated, postArchive(t, f.server.Handler(), "https://www.ikea.com").Code)
	f.blobs.FailWith(errors.New("bucket gone"))

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/recent", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/search?q=x", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/archives/search?q=x", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
