package capture

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollyFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Hello</title></head><body>world</body></html>`)
	}))
	defer srv.Close()

	fetcher, err := NewCollyFetcher(Config{
		UserAgent:      "test-agent",
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	page, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "Hello")
}

func TestCollyFetcher_FetchRevisit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()

	fetcher, err := NewCollyFetcher(Config{
		UserAgent:      "test-agent",
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	// Re-capturing the same URL must hit the origin again.
	for i := 0; i < 2; i++ {
		_, err := fetcher.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, hits)
}

func TestCollyFetcher_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher, err := NewCollyFetcher(Config{
		UserAgent:      "test-agent",
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	page, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, page.StatusCode)
}
