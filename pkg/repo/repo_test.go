package repo

import (
	"context"
	"testing"

	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestOpenBootstrapsRevisionZero(t *testing.T) {
	r := newTestRepo(t)
	require.Equal(t, uint64(0), r.CurrentRev())

	id, err := r.UUID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := r.ListDir("/", 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReopenPreservesUUIDAndHead(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	id1, err := r.UUID()
	require.NoError(t, err)

	ctx := context.Background()
	_, err = r.AddFile("/a.txt", []byte("hello"), false)
	require.NoError(t, err)
	rev, err := r.Commit(ctx, "alice", "init", 1700000000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)
	require.NoError(t, r.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	id2, err := reopened.UUID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, uint64(1), reopened.CurrentRev())
}

func TestAddFileCommitGetFileRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.AddFile("/README.md", []byte("Hello"), false)
	require.NoError(t, err)
	rev, err := r.Commit(ctx, "alice", "init", 1700000000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)

	content, err := r.GetFile("/README.md", rev)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), content)
}

func TestGetFileMissingIsNotFound(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.GetFile("/nope.txt", 0)
	require.Error(t, err)
	require.Equal(t, svnerr.KindNotFound, svnerr.Kindof(err))
}

func TestMkdirThenAddFileUnderIt(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Mkdir("/src"))
	_, err := r.AddFile("/src/main.rs", []byte("fn main(){}"), false)
	require.NoError(t, err)
	rev, err := r.Commit(ctx, "alice", "add src", 1700000000)
	require.NoError(t, err)

	require.True(t, r.Exists("/src", rev))
	require.True(t, r.Exists("/src/main.rs", rev))

	entries, err := r.ListDir("/src", rev)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "main.rs", entries[0].Name)
}

func TestDeleteRemovesPathFromNextRevisionOnly(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.AddFile("/a.txt", []byte("x"), false)
	require.NoError(t, err)
	rev1, err := r.Commit(ctx, "alice", "add", 1700000000)
	require.NoError(t, err)

	require.NoError(t, r.Delete("/a.txt"))
	rev2, err := r.Commit(ctx, "alice", "remove", 1700000001)
	require.NoError(t, err)

	require.True(t, r.Exists("/a.txt", rev1))
	require.False(t, r.Exists("/a.txt", rev2))
}

func TestEmptyCommitIsAllowedAndPreservesTree(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.AddFile("/a.txt", []byte("x"), false)
	require.NoError(t, err)
	rev1, err := r.Commit(ctx, "alice", "add", 1700000000)
	require.NoError(t, err)

	rev2, err := r.Commit(ctx, "alice", "empty", 1700000001)
	require.NoError(t, err)
	require.Equal(t, rev1+1, rev2)

	tree1, err := r.RootTree(rev1)
	require.NoError(t, err)
	tree2, err := r.RootTree(rev2)
	require.NoError(t, err)
	require.Equal(t, tree1, tree2)
}

func TestLogReturnsCommitsDescending(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		_, err := r.AddFile(pathForIndex(i), []byte("x"), false)
		require.NoError(t, err)
		_, err = r.Commit(ctx, "alice", msg, int64(1700000000+i))
		require.NoError(t, err)
	}

	entries, err := r.Log(0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(3), entries[0].Revision)
	require.Equal(t, "third", entries[0].Commit.Message)
	require.Equal(t, uint64(2), entries[1].Revision)
	require.Equal(t, "second", entries[1].Commit.Message)
}

func pathForIndex(i int) string {
	return "/file" + string(rune('a'+i)) + ".txt"
}
