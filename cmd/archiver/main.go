// Package main wires together the internet archiver service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/c9-archive/internet-archiver/internal/api"
	"github.com/c9-archive/internet-archiver/internal/archive"
	"github.com/c9-archive/internet-archiver/internal/capture"
	"github.com/c9-archive/internet-archiver/internal/classify"
	"github.com/c9-archive/internet-archiver/internal/clock/system"
	"github.com/c9-archive/internet-archiver/internal/config"
	"github.com/c9-archive/internet-archiver/internal/history"
	"github.com/c9-archive/internet-archiver/internal/ingest"
	"github.com/c9-archive/internet-archiver/internal/logging"
	"github.com/c9-archive/internet-archiver/internal/metrics"
	"github.com/c9-archive/internet-archiver/internal/pipeline"
	pubsubpublisher "github.com/c9-archive/internet-archiver/internal/publisher/pubsub"
	"github.com/c9-archive/internet-archiver/internal/storage/gcs"
	"github.com/c9-archive/internet-archiver/internal/storage/local"
	"github.com/c9-archive/internet-archiver/internal/storage/memory"
	"github.com/c9-archive/internet-archiver/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("archiver exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	blobs, err := buildArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	meta, closeMeta, err := buildMetadataStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMeta()

	clk := system.New()

	captureCfg := capture.Config{
		UserAgent:            cfg.Capture.UserAgent,
		RequestTimeout:       cfg.CaptureTimeout(),
		RenderTimeout:        cfg.RenderTimeout(),
		RenderMaxConcurrency: cfg.Capture.RenderMaxParallel,
		RenderDomainQPS:      cfg.Capture.RenderDomainQPS,
		ViewportWidth:        int64(cfg.Capture.ViewportWidth),
		ViewportHeight:       int64(cfg.Capture.ViewportHeight),
	}
	fetcher, err := capture.NewCollyFetcher(captureCfg, logger)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	var renderer capture.Renderer
	if cfg.Capture.RenderEnabled {
		chromeRenderer, err := capture.NewChromedpRenderer(captureCfg, logger)
		if err != nil {
			// Screenshots are a degradation, not a startup failure.
			logger.Warn("screenshot renderer unavailable", zap.Error(err))
		} else {
			defer func() {
				if closeErr := chromeRenderer.Close(context.Background()); closeErr != nil {
					logger.Warn("renderer close", zap.Error(closeErr))
				}
			}()
			renderer = chromeRenderer
		}
	}
	capturer := capture.NewService(fetcher, renderer, clk, logger)

	var classifier archive.Classifier
	if cfg.Classify.Enabled {
		opts := []classify.Option{
			classify.WithModel(cfg.Classify.Model),
			classify.WithMaxHTMLBytes(cfg.Classify.MaxHTMLBytes),
		}
		if cfg.Classify.BaseURL != "" {
			opts = append(opts, classify.WithBaseURL(cfg.Classify.BaseURL))
		}
		classifier = classify.New(cfg.Classify.APIKey, opts...)
	}

	var publisher archive.Publisher
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("pubsub client close", zap.Error(closeErr))
			}
		}()
		pub, err := pubsubpublisher.NewFromClient(client, cfg.PubSub.TopicID)
		if err != nil {
			return fmt.Errorf("pubsub publisher: %w", err)
		}
		defer pub.Stop()
		publisher = pub
	}

	coordinator := ingest.NewCoordinator(meta, blobs, clk, logger)
	resolver := history.NewResolver(meta, blobs, logger)

	if cfg.Pipeline.Enabled {
		p := pipeline.New(meta, capturer, classifier, coordinator, publisher, pipeline.Config{
			Interval:      cfg.PipelineInterval(),
			PerURLTimeout: 2 * cfg.CaptureTimeout(),
		}, logger)
		go p.Run(ctx)
	}

	apiCfg := api.Config{
		RequestTimeout: cfg.ServerTimeout(),
		RecentLimit:    cfg.Server.RecentLimit,
		PopularLimit:   cfg.Server.PopularLimit,
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	server := api.NewServer(capturer, classifier, coordinator, resolver, blobs, meta, apiCfg, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("archiver listening", zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func buildArtifactStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.ArtifactStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(ctx, client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store: %w", err)
		}
		logger.Info("artifact store ready", zap.String("provider", "gcs"), zap.String("bucket", cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local artifact store: %w", err)
		}
		logger.Info("artifact store ready", zap.String("provider", "local"), zap.String("dir", cfg.Storage.LocalDir))
		return store, nil
	default:
		logger.Warn("using in-memory artifact store; artifacts are not persisted")
		return memory.NewArtifactStore(), nil
	}
}

func buildMetadataStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.MetadataStore, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgres.NewMetadataStore(ctx, postgres.MetadataStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres metadata store: %w", err)
		}
		logger.Info("metadata store ready", zap.String("provider", "postgres"))
		return store, store.Close, nil
	default:
		logger.Warn("using in-memory metadata store; metadata is not persisted")
		return memory.NewMetadataStore(), func() {}, nil
	}
}
