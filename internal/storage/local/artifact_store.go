// Package local implements a local filesystem artifact store, useful for
// development and single-node deployments.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

// Config captures the parameters for the local filesystem artifact store.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir string `mapstructure:"base_dir"`
}

// ArtifactStore persists artifacts as files under a base directory, with
// the object key as the relative path.
type ArtifactStore struct {
	baseDir string
}

// New creates a filesystem-backed artifact store, creating the base
// directory if needed and verifying it is writable.
func New(cfg Config) (*ArtifactStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	return &ArtifactStore{baseDir: cfg.BaseDir}, nil
}

// resolve maps a key to an absolute path, rejecting traversal outside the
// base directory.
func (s *ArtifactStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected in key %q", key)
	}
	return fullPath, nil
}

// ListKeys walks the base directory and returns every object whose key
// starts with prefix.
func (s *ArtifactStore) ListKeys(_ context.Context, prefix string) ([]archive.ArtifactObject, error) {
	var objects []archive.ArtifactObject
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, archive.ArtifactObject{Key: key, Updated: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %q: %v", archive.ErrStoreUnavailable, prefix, err)
	}
	return objects, nil
}

// MostRecent returns up to limit keys with the given extension, newest
// modification time first.
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
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Updated.After(filtered[j].Updated) })
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// FetchBytes retrieves object content.
func (s *ArtifactStore) FetchBytes(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, err)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", archive.ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", archive.ErrStoreUnavailable, key, err)
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

// Store writes the object, creating parent directories as needed.
func (s *ArtifactStore) Store(_ context.Context, key string, _ string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: create parent directories: %v", archive.ErrStoreUnavailable, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %q: %v", archive.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Delete removes the object; deleting a missing key is not an error.
func (s *ArtifactStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %q: %v", archive.ErrStoreUnavailable, key, err)
	}
	return nil
}
