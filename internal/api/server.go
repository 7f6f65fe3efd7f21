// Package api exposes the HTTP interface for the archiver service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/history"
	"github.com/c9-archive/internet-archiver/internal/keycodec"
	"github.com/c9-archive/internet-archiver/internal/metrics"
)

// Archiver is the slice of the ingestion coordinator the API needs.
type Archiver interface {
	Ingest(ctx context.Context, cap archive.CaptureResult, prov archive.Provenance, class archive.Classification) (archive.Receipt, error)
	RecordVisit(ctx context.Context, url string) error
}

// HistoryResolver reconstructs version histories and searches the archive.
type HistoryResolver interface {
	Resolve(ctx context.Context, url string) ([]archive.PageVersion, error)
	Search(ctx context.Context, fragment string) ([]archive.PageIdentity, error)
}

// Config controls the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	RecentLimit    int
	PopularLimit   int
	APIKey         string
}

// Server wires HTTP handlers to the capture, ingestion, and history layers.
type Server struct {
	router     chi.Router
	capturer   archive.Capturer
	classifier archive.Classifier
	archiver   Archiver
	resolver   HistoryResolver
	blobs      archive.ArtifactStore
	meta       archive.MetadataStore
	cfg        Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. classifier may
// be nil, in which case archives carry no summary or genre.
func NewServer(
	capturer archive.Capturer,
	classifier archive.Classifier,
	archiver Archiver,
	resolver HistoryResolver,
	blobs archive.ArtifactStore,
	meta archive.MetadataStore,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 16
	}
	if cfg.PopularLimit <= 0 {
		cfg.PopularLimit = 10
	}
	s := &Server{
		capturer:   capturer,
		classifier: classifier,
		archiver:   archiver,
		resolver:   resolver,
		blobs:      blobs,
		meta:       meta,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/archives", func(r chi.Router) {
			r.Post("/", s.submitArchive)
			r.Get("/", s.getHistory)
			r.Get("/search", s.search)
			r.Get("/recent", s.recent)
			r.Get("/popular", s.popular)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	URLID    int64     `json:"url_id"`
	URL      string    `json:"url"`
	ScrapeAt time.Time `json:"scrape_at"`
	HTMLRef  string    `json:"html_ref"`
}

func (s *Server) submitArchive(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	if _, ok := keycodec.ParseDomain(req.URL); !ok {
		writeError(w, http.StatusBadRequest, "unparseable url")
		return
	}

	cap, err := s.capturer.Capture(r.Context(), req.URL)
	if err != nil {
		s.logger.Warn("capture failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "page could not be captured")
		return
	}

	var class archive.Classification
	if s.classifier != nil {
		class, err = s.classifier.Classify(r.Context(), cap.HTML)
		if err != nil {
			s.logger.Warn("classification failed", zap.String("url", req.URL), zap.Error(err))
			class = archive.Classification{}
		}
	}

	receipt, err := s.archiver.Ingest(r.Context(), cap, archive.ProvenanceHuman, class)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "archive could not be stored")
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		URLID:    receipt.URLID,
		URL:      receipt.URL,
		ScrapeAt: receipt.ScrapeAt,
		HTMLRef:  receipt.HTMLRef,
	})
}

type historyResponse struct {
	URL      string                `json:"url"`
	Versions []archive.PageVersion `json:"versions"`
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	versions, err := s.resolver.Resolve(r.Context(), url)
	if history.IsNoData(err) {
		writeJSON(w, http.StatusNotFound, map[string]any{"url": url, "versions": []archive.PageVersion{}})
		return
	}
	if err != nil {
		s.logger.Error("resolve history", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "archive temporarily unavailable")
		return
	}

	// Viewing a history counts as a visit; failure to record one never
	// affects the response.
	if err := s.archiver.RecordVisit(r.Context(), url); err != nil {
		s.logger.Debug("record visit", zap.String("url", url), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, historyResponse{URL: url, Versions: versions})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	identities, err := s.resolver.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("search", zap.String("q", q), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "archive temporarily unavailable")
		return
	}
	if identities == nil {
		identities = []archive.PageIdentity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": identities})
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	objects, err := s.blobs.MostRecent(r.Context(), keycodec.ExtPNG, s.cfg.RecentLimit)
	if err != nil {
		s.logger.Error("recent archives", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "archive temporarily unavailable")
		return
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	writeJSON(w, http.StatusOK, map[string]any{"screenshots": keys})
}

func (s *Server) popular(w http.ResponseWriter, r *http.Request) {
	popular, err := s.meta.MostPopular(r.Context(), s.cfg.PopularLimit)
	if err != nil {
		s.logger.Error("popular archives", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "archive temporarily unavailable")
		return
	}
	if popular == nil {
		popular = []archive.PopularURL{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": popular})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
