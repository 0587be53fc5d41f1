package props

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "props.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := Open(db)
	require.NoError(t, err)
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(ScopePath, "/README.md", PropMimeType, "text/plain"))

	v, ok, err := store.Get(ScopePath, "/README.md", PropMimeType)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "text/plain", v)
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.Get(ScopePath, "/nope", PropLog)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(ScopeRevision, "1", PropLog, "init"))
	require.NoError(t, store.Remove(ScopeRevision, "1", PropLog))
	require.NoError(t, store.Remove(ScopeRevision, "1", PropLog))

	_, ok, err := store.Get(ScopeRevision, "1", PropLog)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListReturnsOnlyNamesForThatSubject(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(ScopePath, "/a.txt", PropMimeType, "text/plain"))
	require.NoError(t, store.Set(ScopePath, "/a.txt", PropEOLStyle, "native"))
	require.NoError(t, store.Set(ScopePath, "/b.txt", PropMimeType, "text/plain"))
	require.NoError(t, store.Set(ScopeRevision, "1", PropLog, "init"))

	names, err := store.List(ScopePath, "/a.txt")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{PropMimeType, PropEOLStyle}, names)
}

func TestDetectMimeTypeRecognizesKnownSignatures(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	require.Equal(t, "image/png", DetectMimeType(png))
}

func TestDetectMimeTypeFallsBackForPlainText(t *testing.T) {
	require.Equal(t, "application/octet-stream", DetectMimeType([]byte("plain text content")))
}
