// Package memory stores artifacts and metadata in-memory for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

type object struct {
	data    []byte
	updated time.Time
}

// ArtifactStore is an in-memory archive.ArtifactStore.
type ArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]object
	failErr error
	now     func() time.Time
}

// NewArtifactStore creates an empty in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		objects: make(map[string]object),
		now:     time.Now,
	}
}

// FailWith makes every subsequent call return err, simulating an
// unreachable store. Pass nil to restore normal behavior.
func (s *ArtifactStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// SetNow overrides the clock used for last-modified stamps in tests.
func (s *ArtifactStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ListKeys returns keys under prefix sorted lexically.
func (s *ArtifactStore) ListKeys(_ context.Context, prefix string) ([]archive.ArtifactObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, s.failErr)
	}

	var objects []archive.ArtifactObject
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, archive.ArtifactObject{Key: key, Updated: obj.updated})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// MostRecent returns up to limit keys with the extension, newest first.
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

// FetchBytes returns a copy of the stored content.
func (s *ArtifactStore) FetchBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, s.failErr)
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrArtifactNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

// FetchText returns the stored content as text.
func (s *ArtifactStore) FetchText(ctx context.Context, key string) (string, error) {
	data, err := s.FetchBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Store copies and retains the content under key.
func (s *ArtifactStore) Store(_ context.Context, key string, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, s.failErr)
	}
	s.objects[key] = object{
		data:    append([]byte(nil), data...),
		updated: s.now(),
	}
	return nil
}

// Delete removes the object under key.
func (s *ArtifactStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return fmt.Errorf("%w: %v", archive.ErrStoreUnavailable, s.failErr)
	}
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%w: %s", archive.ErrArtifactNotFound, key)
	}
	delete(s.objects, key)
	return nil
}
