package txn

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/stretchr/testify/require"
)

// memStore is a trivial in-memory ObjectPutter for tests.
type memStore struct {
	mu   sync.Mutex
	objs map[objectmodel.ObjectID][]byte
}

func newMemStore() *memStore {
	return &memStore{objs: make(map[objectmodel.ObjectID][]byte)}
}

func (s *memStore) Put(_ context.Context, _ objectmodel.Kind, data []byte) (objectmodel.ObjectID, error) {
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return objectmodel.ObjectID{}, err
	}
	var id objectmodel.ObjectID
	switch v := obj.(type) {
	case *objectmodel.Blob:
		id = v.ID()
	case *objectmodel.Tree:
		id = v.ID()
	case *objectmodel.Commit:
		id = v.ID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[id] = data
	return id, nil
}

func (s *memStore) Get(id objectmodel.ObjectID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objs[id]
	return data, ok, nil
}

// memRevs is a trivial in-memory RevisionStore for tests.
type memRevs struct {
	mu        sync.Mutex
	head      uint64
	commitID  objectmodel.ObjectID
	hasCommit bool
	trees     map[uint64]objectmodel.ObjectID
}

func newMemRevs() *memRevs {
	return &memRevs{trees: map[uint64]objectmodel.ObjectID{0: objectmodel.ZeroID}}
}

func (r *memRevs) HeadRevision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

func (r *memRevs) HeadCommitID() (objectmodel.ObjectID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitID, r.hasCommit
}

func (r *memRevs) RootTree(revision uint64) (objectmodel.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tree, ok := r.trees[revision]
	if !ok {
		return objectmodel.ObjectID{}, svnerr.New(svnerr.KindNotFound, "root_tree", "")
	}
	return tree, nil
}

func (r *memRevs) PublishRevision(_ context.Context, revision uint64, commitID objectmodel.ObjectID, commitBytes []byte) error {
	obj, err := objectmodel.Decode(commitBytes)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = revision
	r.commitID = commitID
	r.hasCommit = true
	r.trees[revision] = obj.(*objectmodel.Commit).Tree
	return nil
}

func (r *memRevs) setTree(revision uint64, tree objectmodel.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees[revision] = tree
}

func newTestManager() (*Manager, *memStore, *memRevs) {
	store := newMemStore()
	revs := newMemRevs()
	return NewManager(store, revs), store, revs
}

func TestCommitHappyPath(t *testing.T) {
	m, _, revs := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/README.md", Content: []byte("Hello")}))

	result, err := m.Commit(ctx, txn.ID, "alice", "init", 1700000000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Revision)
	require.Equal(t, StateCommitted, txn.State())

	revs.setTree(1, result.TreeID)
	require.Equal(t, uint64(1), revs.HeadRevision())
}

func TestStageAfterCommittingIsRejected(t *testing.T) {
	m, _, _ := newTestManager()
	txn := m.Open(0, "alice")
	txn.mu.Lock()
	txn.state = StateCommitting
	txn.mu.Unlock()

	err := m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/a", Content: []byte("x")})
	require.Error(t, err)
	require.Equal(t, svnerr.KindConflict, svnerr.Kindof(err))
}

func TestAbortMarksTransactionAborted(t *testing.T) {
	m, _, _ := newTestManager()
	txn := m.Open(0, "bob")
	require.NoError(t, m.Abort(txn.ID))
	require.Equal(t, StateAborted, txn.State())

	// Aborting again is idempotent.
	require.NoError(t, m.Abort(txn.ID))
}

func TestAbortAfterCommitIsRejected(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/a", Content: []byte("x")}))
	_, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.NoError(t, err)

	err = m.Abort(txn.ID)
	require.Error(t, err)
	require.Equal(t, svnerr.KindConflict, svnerr.Kindof(err))
}

func TestRecommitAfterCommittedIsRejected(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/a", Content: []byte("x")}))
	_, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.NoError(t, err)

	_, err = m.Commit(ctx, txn.ID, "alice", "msg2", 1700000001, 0)
	require.Error(t, err)
	require.Equal(t, svnerr.KindConflict, svnerr.Kindof(err))
}

func TestConcurrentCommitsProduceDenseSequentialRevisions(t *testing.T) {
	m, _, revs := newTestManager()
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		txn := m.Open(0, "alice")
		require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: pathFor(i), Content: []byte("x")}))
		ids[i] = txn.ID
	}

	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Commit(ctx, ids[i], "alice", "msg", 1700000000, 0)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, r := range results {
		require.False(t, seen[r.Revision], "revision %d assigned twice", r.Revision)
		seen[r.Revision] = true
	}
	for rev := uint64(1); rev <= n; rev++ {
		require.True(t, seen[rev], "revision %d never assigned", rev)
	}
	require.Equal(t, uint64(n), revs.HeadRevision())
}

func pathFor(i int) string {
	return "/file" + string(rune('a'+i%26)) + ".txt"
}

func TestAddOnExistingPathIsConflict(t *testing.T) {
	m, _, revs := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/a.txt", Content: []byte("one")}))
	result, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.NoError(t, err)
	revs.setTree(1, result.TreeID)

	txn2 := m.Open(1, "alice")
	require.NoError(t, m.Stage(txn2.ID, Op{Kind: OpAdd, Path: "/a.txt", Content: []byte("two")}))
	_, err = m.Commit(ctx, txn2.ID, "alice", "msg2", 1700000001, 0)
	require.Error(t, err)
	require.Equal(t, svnerr.KindConflict, svnerr.Kindof(err))
}

func TestModifyOnMissingPathIsNotFound(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpModify, Path: "/missing.txt", Content: []byte("x")}))
	_, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.Error(t, err)
	require.Equal(t, svnerr.KindNotFound, svnerr.Kindof(err))
}

func TestMkdirOnExistingPathIsConflict(t *testing.T) {
	m, _, revs := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpMkdir, Path: "/dir"}))
	result, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.NoError(t, err)
	revs.setTree(1, result.TreeID)

	txn2 := m.Open(1, "alice")
	require.NoError(t, m.Stage(txn2.ID, Op{Kind: OpMkdir, Path: "/dir"}))
	_, err = m.Commit(ctx, txn2.ID, "alice", "msg2", 1700000001, 0)
	require.Error(t, err)
	require.Equal(t, svnerr.KindConflict, svnerr.Kindof(err))
}

func TestDeleteOfMissingPathIsConflict(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpDelete, Path: "/nope.txt"}))
	_, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.Error(t, err)
	require.Equal(t, svnerr.KindConflict, svnerr.Kindof(err))
}

func TestCopyPreservesObjectIDs(t *testing.T) {
	m, store, revs := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpMkdir, Path: "/src"}))
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/src/a.txt", Content: []byte("payload")}))
	result, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.NoError(t, err)
	revs.setTree(1, result.TreeID)

	// Capture the source blob id directly from the committed tree.
	srcEntry, err := m.resolveInStoredTree(result.TreeID, "/src/a.txt")
	require.NoError(t, err)
	srcBlobID := srcEntry.blob

	txn2 := m.Open(1, "alice")
	require.NoError(t, m.Stage(txn2.ID, Op{Kind: OpCopy, Path: "/dst", FromPath: "/src", FromRev: 1}))
	result2, err := m.Commit(ctx, txn2.ID, "alice", "copy", 1700000001, 0)
	require.NoError(t, err)

	copiedEntry, err := m.resolveInStoredTree(result2.TreeID, "/dst/a.txt")
	require.NoError(t, err)
	require.Equal(t, srcBlobID, copiedEntry.blob, "copy must preserve the source blob id without rehashing")

	data, ok, err := store.Get(copiedEntry.blob)
	require.NoError(t, err)
	require.True(t, ok)
	obj, err := objectmodel.Decode(data)
	require.NoError(t, err)
	blob := obj.(*objectmodel.Blob)
	require.Equal(t, []byte("payload"), blob.Content)
}

func TestExecutableFlipProducesNewBlobIDWithSameContent(t *testing.T) {
	m, store, revs := newTestManager()
	ctx := context.Background()

	txn := m.Open(0, "alice")
	require.NoError(t, m.Stage(txn.ID, Op{Kind: OpAdd, Path: "/run.sh", Content: []byte("#!/bin/sh\n")}))
	result, err := m.Commit(ctx, txn.ID, "alice", "msg", 1700000000, 0)
	require.NoError(t, err)
	revs.setTree(1, result.TreeID)

	origEntry, err := m.resolveInStoredTree(result.TreeID, "/run.sh")
	require.NoError(t, err)

	txn2 := m.Open(1, "alice")
	require.NoError(t, m.Stage(txn2.ID, Op{Kind: OpPropSet, Path: "/run.sh", PropName: "svn:executable", PropValue: "*"}))
	result2, err := m.Commit(ctx, txn2.ID, "alice", "chmod +x", 1700000001, 0)
	require.NoError(t, err)

	newEntry, err := m.resolveInStoredTree(result2.TreeID, "/run.sh")
	require.NoError(t, err)
	require.NotEqual(t, origEntry.blob, newEntry.blob, "flipping svn:executable must produce a new blob id")
	require.Equal(t, objectmodel.ModeExecutable, newEntry.mode)

	origData, ok, err := store.Get(origEntry.blob)
	require.NoError(t, err)
	require.True(t, ok)
	newData, ok, err := store.Get(newEntry.blob)
	require.NoError(t, err)
	require.True(t, ok)

	origObj, err := objectmodel.Decode(origData)
	require.NoError(t, err)
	newObj, err := objectmodel.Decode(newData)
	require.NoError(t, err)
	require.Equal(t, origObj.(*objectmodel.Blob).Content, newObj.(*objectmodel.Blob).Content)
	require.False(t, origObj.(*objectmodel.Blob).Executable)
	require.True(t, newObj.(*objectmodel.Blob).Executable)
}
