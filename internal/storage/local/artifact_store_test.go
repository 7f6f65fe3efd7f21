package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "nested", "artifacts")
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRejectsEmptyBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStoreAndFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	key := "www.ikea.com/Sofas/2024-03-15T09:00:00Z.html"
	require.NoError(t, store.Store(ctx, key, "text/html", []byte("<html></html>")))

	data, err := store.FetchBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("<html></html>"), data)

	text, err := store.FetchText(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", text)
}

func TestFetchMissingKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.FetchBytes(context.Background(), "www.ikea.com/missing/x.html")
	assert.ErrorIs(t, err, archive.ErrArtifactNotFound)
}

func TestStoreRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	err := store.Store(context.Background(), "../outside.html", "text/html", []byte("x"))
	assert.ErrorIs(t, err, archive.ErrStoreUnavailable)
}

func TestListKeysFiltersByPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Store(ctx, "www.ikea.com/Sofas/a.html", "text/html", []byte("a")))
	require.NoError(t, store.Store(ctx, "www.ikea.com/Sofas/a.css", "text/css", []byte("b")))
	require.NoError(t, store.Store(ctx, "guardian.com/News/b.html", "text/html", []byte("c")))

	objects, err := store.ListKeys(ctx, "www.ikea.com/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	for _, obj := range objects {
		assert.Contains(t, obj.Key, "www.ikea.com/Sofas/")
		assert.False(t, obj.Updated.IsZero())
	}
}

func TestMostRecentOrdersByModTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Store(ctx, "a.com/p/old.png", "image/png", []byte("1")))
	require.NoError(t, store.Store(ctx, "b.com/p/new.png", "image/png", []byte("2")))
	require.NoError(t, store.Store(ctx, "c.com/p/page.html", "text/html", []byte("3")))

	// Make ordering deterministic regardless of filesystem timestamp
	// granularity.
	now := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(store.baseDir, "a.com", "p", "old.png"), now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(store.baseDir, "b.com", "p", "new.png"), now, now))

	objects, err := store.MostRecent(ctx, ".png", 10)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "b.com/p/new.png", objects[0].Key)
	assert.Equal(t, "a.com/p/old.png", objects[1].Key)

	limited, err := store.MostRecent(ctx, ".png", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b.com/p/new.png", limited[0].Key)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Store(ctx, "a.com/p/x.html", "text/html", []byte("x")))
	require.NoError(t, store.Delete(ctx, "a.com/p/x.html"))

	_, err := store.FetchBytes(ctx, "a.com/p/x.html")
	assert.ErrorIs(t, err, archive.ErrArtifactNotFound)

	// Deleting a missing key is a no-op.
	require.NoError(t, store.Delete(ctx, "a.com/p/x.html"))
}
