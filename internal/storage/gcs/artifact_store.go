// Package gcs provides an ArtifactStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// ArtifactStore reads and writes capture artifacts in a GCS bucket.
type ArtifactStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed artifact store. Authentication is handled via
// Application Default Credentials.
func New(ctx context.Context, client *storage.Client, cfg Config) (*ArtifactStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	// Fail fast on startup if the bucket is missing or unreadable.
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &ArtifactStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ListKeys returns every object key under the prefix with its last-modified
// instant. An empty bucket is a valid result, distinct from a failed
// listing call, which wraps ErrStoreUnavailable.
func (s *ArtifactStore) ListKeys(ctx context.Context, prefix string) ([]archive.ArtifactObject, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []archive.ArtifactObject
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %q: %v", archive.ErrStoreUnavailable, prefix, err)
		}
		objects = append(objects, archive.ArtifactObject{
			Key:     attrs.Name,
			Updated: attrs.Updated,
		})
	}
	return objects, nil
}

// MostRecent returns up to limit keys with the given extension, newest
// last-modified first.
func (s *ArtifactStore) MostRecent(ctx context.Context, ext string, limit int) ([]archive.ArtifactObject, error) {
	objects, err := s.ListKeys(ctx, "")
	if err != nil {
		return nil, err
	}
	filtered := objects[:0]
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ext) {
			filtered = append(filtered, obj)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Updated.After(filtered[j].Updated)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// FetchBytes retrieves the raw content of one object.
func (s *ArtifactStore) FetchBytes(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", archive.ErrArtifactNotFound, key)
		}
		return nil, fmt.Errorf("%w: open %s: %v", archive.ErrStoreUnavailable, key, err)
	}
	defer func() {
		_ = r.Close()
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", archive.ErrStoreUnavailable, key, err)
	}
	return data, nil
}

// FetchText retrieves object content decoded as UTF-8 text.
func (s *ArtifactStore) FetchText(ctx context.Context, key string) (string, error) {
	data, err := s.FetchBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Store uploads data to the object key, finalizing on Close.
func (s *ArtifactStore) Store(ctx context.Context, key string, contentType string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("object key is required")
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write %s: %v", archive.ErrStoreUnavailable, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: finalize %s: %v", archive.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Delete removes one object.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", archive.ErrArtifactNotFound, key)
		}
		return fmt.Errorf("%w: delete %s: %v", archive.ErrStoreUnavailable, key, err)
	}
	return nil
}
