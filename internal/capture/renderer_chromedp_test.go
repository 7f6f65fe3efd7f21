package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChromedpRenderer_Screenshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><h1>snapshot me</h1></body></html>`)
	}))
	defer srv.Close()

	cfg := Config{
		UserAgent:            "TestAgent",
		RenderMaxConcurrency: 1,
		RenderTimeout:        5 * time.Second,
		RenderDomainQPS:      1,
	}

	renderer, err := NewChromedpRenderer(cfg, zap.NewNop())
	if errors.Is(err, ErrRendererDisabled) {
		t.Skip("renderer disabled")
	}
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer renderer.Close(context.Background())

	png, err := renderer.Screenshot(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("screenshot failed: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("screenshot produced no bytes")
	}
}

func TestChromedpRendererDisabled(t *testing.T) {
	t.Parallel()

	_, err := NewChromedpRenderer(Config{RenderMaxConcurrency: 0}, zap.NewNop())
	if !errors.Is(err, ErrRendererDisabled) {
		t.Fatalf("expected ErrRendererDisabled, got %v", err)
	}
}
