// Package repo implements the repository façade: the single object that
// owns a repository's object store, transaction manager, property store,
// and revision map, and exposes intent-named operations to both the
// protocol layer and the CLI tools.
package repo

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/svnbridge/pkg/blockingpool"
	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/objectstore"
	"github.com/cuemby/svnbridge/pkg/props"
	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/cuemby/svnbridge/pkg/treeindex"
	"github.com/cuemby/svnbridge/pkg/txn"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRevisions = []byte("revisions")
	bucketMeta      = []byte("meta")
)

var (
	metaKeyUUID = []byte("uuid")
	metaKeyHead = []byte("head")
)

// Repository owns one repository's durable state: the object store, the
// transaction manager serializing commits against it, the property store,
// and the revision map (revision number -> commit id) plus metadata (UUID,
// HEAD) held in their own bbolt buckets in the same objects.db file.
type Repository struct {
	path  string
	store *objectstore.Store
	props *props.Store
	txns  *txn.Manager
	db    *bolt.DB
	pool  *blockingpool.Pool

	flatMu sync.RWMutex
	flat   *treeindex.FlatIndex

	mu            sync.Mutex
	pending       *txn.Transaction
	pendingExists map[string]bool
}

// Open loads a repository rooted at path, creating it (a fresh UUID and an
// empty revision 0) if the path has never held one.
func Open(path string) (*Repository, error) {
	pool := blockingpool.New(8, 2)
	store, err := objectstore.Open(path, pool)
	if err != nil {
		pool.StopAndWait()
		return nil, fmt.Errorf("repo: open object store: %w", err)
	}

	db := store.DB()
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRevisions); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		store.Close()
		pool.StopAndWait()
		return nil, fmt.Errorf("repo: create buckets: %w", err)
	}

	propStore, err := props.Open(db)
	if err != nil {
		store.Close()
		pool.StopAndWait()
		return nil, fmt.Errorf("repo: open property store: %w", err)
	}

	r := &Repository{path: path, store: store, props: propStore, db: db, pool: pool}
	r.txns = txn.NewManager(store, r)

	initialized, err := r.hasHead()
	if err != nil {
		store.Close()
		pool.StopAndWait()
		return nil, err
	}
	if !initialized {
		if err := r.bootstrap(); err != nil {
			store.Close()
			pool.StopAndWait()
			return nil, err
		}
	}

	if err := r.rebuildFlatIndex(); err != nil {
		store.Close()
		pool.StopAndWait()
		return nil, err
	}

	return r, nil
}

// Close releases the repository's database handle and stops its worker
// pool, waiting for any outstanding durable writes to finish.
func (r *Repository) Close() error {
	err := r.store.Close()
	r.pool.StopAndWait()
	return err
}

func (r *Repository) hasHead() (bool, error) {
	var present bool
	err := r.db.View(func(tx *bolt.Tx) error {
		present = tx.Bucket(bucketMeta).Get(metaKeyHead) != nil
		return nil
	})
	return present, err
}

// bootstrap creates revision 0: a fresh repository UUID and an empty-tree
// commit with no parents and no author, matching spec §4.5's "on empty
// path, generate new UUID and create revision 0 with an empty root tree."
func (r *Repository) bootstrap() error {
	ctx := context.Background()
	emptyTree := objectmodel.EmptyTree()
	treeData := objectmodel.Encode(emptyTree)
	if _, err := r.store.Put(ctx, objectmodel.KindTree, treeData); err != nil {
		return fmt.Errorf("repo: bootstrap: persist empty tree: %w", err)
	}

	commit := objectmodel.NewCommit(emptyTree.ID(), nil, "", "", 0, 0)
	commit.Revision = 0
	commitData := objectmodel.Encode(commit)
	commitID := commit.ID()
	if _, err := r.store.Put(ctx, objectmodel.KindCommit, commitData); err != nil {
		return fmt.Errorf("repo: bootstrap: persist revision 0 commit: %w", err)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMeta).Put(metaKeyUUID, []byte(uuid.New().String())); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRevisions).Put(revisionKey(0), commitID[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(metaKeyHead, revisionKey(0))
	})
}

func revisionKey(revision uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, revision)
	return buf
}

func revisionFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// CurrentRev returns the repository's current HEAD revision.
func (r *Repository) CurrentRev() uint64 {
	return r.HeadRevision()
}

// UUID returns the repository's identifier, assigned once at bootstrap.
func (r *Repository) UUID() (string, error) {
	var id string
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyUUID)
		if v == nil {
			return svnerr.New(svnerr.KindCorrupt, "uuid", "")
		}
		id = string(v)
		return nil
	})
	return id, err
}

// --- txn.RevisionStore ---

// HeadRevision implements txn.RevisionStore.
func (r *Repository) HeadRevision() uint64 {
	var rev uint64
	_ = r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyHead)
		if v != nil {
			rev = revisionFromKey(v)
		}
		return nil
	})
	return rev
}

// HeadCommitID implements txn.RevisionStore.
func (r *Repository) HeadCommitID() (objectmodel.ObjectID, bool) {
	head := r.HeadRevision()
	id, err := r.commitIDAt(head)
	if err != nil {
		return objectmodel.ObjectID{}, false
	}
	return id, true
}

// RootTree implements txn.RevisionStore: resolves revision to the root
// tree id of the commit published at that revision.
func (r *Repository) RootTree(revision uint64) (objectmodel.ObjectID, error) {
	commit, err := r.CommitAt(revision)
	if err != nil {
		return objectmodel.ObjectID{}, err
	}
	return commit.Tree, nil
}

// CommitAt returns the commit object published at revision, regardless of
// where HEAD currently sits. Unlike Log, revision 0 means the bootstrap
// commit, not "clamp to HEAD".
func (r *Repository) CommitAt(revision uint64) (*objectmodel.Commit, error) {
	commitID, err := r.commitIDAt(revision)
	if err != nil {
		return nil, err
	}
	return r.loadCommit(commitID)
}

// PublishRevision implements txn.RevisionStore: the visibility boundary.
// Recording the {revision -> commitID} mapping and advancing HEAD happen in
// a single bbolt Update transaction, which commits atomically, so a reader
// can never observe an advanced HEAD without its revision mapping present.
func (r *Repository) PublishRevision(ctx context.Context, revision uint64, commitID objectmodel.ObjectID, _ []byte) error {
	err := r.pool.Submit(ctx, func() error {
		return r.db.Update(func(tx *bolt.Tx) error {
			if err := tx.Bucket(bucketRevisions).Put(revisionKey(revision), commitID[:]); err != nil {
				return err
			}
			return tx.Bucket(bucketMeta).Put(metaKeyHead, revisionKey(revision))
		})
	})
	if err != nil {
		return fmt.Errorf("repo: publish revision %d: %w", revision, err)
	}
	if err := r.rebuildFlatIndex(); err != nil {
		log.Logger.Error().Err(err).Uint64("revision", revision).Msg("flat index rebuild failed after publish")
	}
	return nil
}

func (r *Repository) commitIDAt(revision uint64) (objectmodel.ObjectID, error) {
	var id objectmodel.ObjectID
	var found bool
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRevisions).Get(revisionKey(revision))
		if v != nil {
			copy(id[:], v)
			found = true
		}
		return nil
	})
	if err != nil {
		return id, err
	}
	if !found {
		return id, svnerr.New(svnerr.KindNotFound, "root_tree", fmt.Sprintf("revision %d", revision))
	}
	return id, nil
}

func (r *Repository) loadCommit(id objectmodel.ObjectID) (*objectmodel.Commit, error) {
	data, ok, err := r.store.Get(id)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindInternal, "load_commit", id.String(), err)
	}
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "load_commit", id.String())
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindCorrupt, "load_commit", id.String(), err)
	}
	commit, ok := obj.(*objectmodel.Commit)
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "load_commit", id.String())
	}
	return commit, nil
}

func (r *Repository) rebuildFlatIndex() error {
	treeID, err := r.RootTree(r.HeadRevision())
	if err != nil {
		return err
	}
	idx, err := treeindex.BuildFlatIndex(r.store, treeID)
	if err != nil {
		return err
	}
	r.flatMu.Lock()
	r.flat = idx
	r.flatMu.Unlock()
	return nil
}

// --- read operations ---

// GetFile returns the content of the blob at path and revision.
func (r *Repository) GetFile(path string, revision uint64) ([]byte, error) {
	treeID, err := r.RootTree(revision)
	if err != nil {
		return nil, err
	}
	entry, err := treeindex.Resolve(r.store, treeID, path)
	if err != nil {
		return nil, err
	}
	if entry.Kind != objectmodel.KindBlob {
		return nil, svnerr.New(svnerr.KindBadRequest, "get_file", path)
	}
	data, ok, err := r.store.Get(entry.Target)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindInternal, "get_file", path, err)
	}
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "get_file", path)
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindCorrupt, "get_file", path, err)
	}
	blob, ok := obj.(*objectmodel.Blob)
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "get_file", path)
	}
	return blob.Content, nil
}

// ListDir lists the entries at path and revision, sorted by name.
func (r *Repository) ListDir(path string, revision uint64) ([]treeindex.Entry, error) {
	treeID, err := r.RootTree(revision)
	if err != nil {
		return nil, err
	}
	return treeindex.ListDir(r.store, treeID, path)
}

// Exists reports whether path resolves at revision.
func (r *Repository) Exists(path string, revision uint64) bool {
	treeID, err := r.RootTree(revision)
	if err != nil {
		return false
	}
	return treeindex.Exists(r.store, treeID, path)
}

// LogEntry is one revision returned by Log.
type LogEntry struct {
	Revision uint64
	Commit   *objectmodel.Commit
}

// Log returns up to limit commits starting at startRev and descending. A
// limit of 0 means unbounded. Revision 0 is the synthetic empty bootstrap
// commit, not a real commit a client ever asked for; it's only included
// when it is the repository's sole revision (a fresh repo), never as a
// trailing entry appended after real history.
func (r *Repository) Log(startRev uint64, limit int) ([]LogEntry, error) {
	head := r.HeadRevision()
	if startRev == 0 || startRev > head {
		startRev = head
	}

	var entries []LogEntry
	for rev := startRev; rev >= 1; rev-- {
		commitID, err := r.commitIDAt(rev)
		if err != nil {
			return nil, err
		}
		commit, err := r.loadCommit(commitID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{Revision: rev, Commit: commit})
		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	if head == 0 && (limit <= 0 || len(entries) < limit) {
		commitID, err := r.commitIDAt(0)
		if err != nil {
			return nil, err
		}
		commit, err := r.loadCommit(commitID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{Revision: 0, Commit: commit})
	}

	return entries, nil
}

// --- staging + commit ---

func (r *Repository) beginLocked() *txn.Transaction {
	if r.pending == nil {
		r.pending = r.txns.Open(r.HeadRevision(), "")
		r.pendingExists = make(map[string]bool)
	}
	return r.pending
}

func (r *Repository) existsInPendingLocked(path string) bool {
	if v, ok := r.pendingExists[path]; ok {
		return v
	}
	return r.Exists(path, r.pending.BaseRevision)
}

// AddFile stages path for creation (or replacement, if it already exists
// within the same pending set of staged operations) and returns the blob id
// it will resolve to once committed.
func (r *Repository) AddFile(path string, content []byte, executable bool) (objectmodel.ObjectID, error) {
	r.mu.Lock()
	t := r.beginLocked()
	kind := txn.OpAdd
	if r.existsInPendingLocked(path) {
		kind = txn.OpModify
	}
	r.pendingExists[path] = true
	r.mu.Unlock()

	if err := r.txns.Stage(t.ID, txn.Op{Kind: kind, Path: path, Content: content, Executable: executable}); err != nil {
		return objectmodel.ObjectID{}, err
	}
	return objectmodel.NewBlob(content, executable).ID(), nil
}

// Mkdir stages path for creation as an empty directory.
func (r *Repository) Mkdir(path string) error {
	r.mu.Lock()
	t := r.beginLocked()
	if r.existsInPendingLocked(path) {
		r.mu.Unlock()
		return svnerr.New(svnerr.KindConflict, "mkdir", path)
	}
	r.pendingExists[path] = true
	r.mu.Unlock()
	return r.txns.Stage(t.ID, txn.Op{Kind: txn.OpMkdir, Path: path})
}

// Delete stages path for removal.
func (r *Repository) Delete(path string) error {
	r.mu.Lock()
	t := r.beginLocked()
	r.pendingExists[path] = false
	r.mu.Unlock()
	return r.txns.Stage(t.ID, txn.Op{Kind: txn.OpDelete, Path: path})
}

// Commit promotes all operations staged since the last Commit (or Open) to
// a new revision, atomically. An empty staged set is allowed and produces a
// revision whose tree is identical to its parent's.
func (r *Repository) Commit(ctx context.Context, author, message string, timestamp int64) (uint64, error) {
	r.mu.Lock()
	t := r.beginLocked()
	r.pending = nil
	r.pendingExists = nil
	r.mu.Unlock()

	result, err := r.txns.Commit(ctx, t.ID, author, message, timestamp, 0)
	if err != nil {
		return 0, err
	}
	r.txns.Forget(t.ID)
	return result.Revision, nil
}

// Props exposes the repository's property store for the protocol layer and
// CLI tools.
func (r *Repository) Props() *props.Store {
	return r.props
}

// Store exposes the repository's object store for collaborators (the dump
// loader, replication) that need direct object access.
func (r *Repository) Store() *objectstore.Store {
	return r.store
}

// Txns exposes the repository's transaction manager so the protocol layer
// can run the full Open/Stage/Commit lifecycle an activity drives, rather
// than the single-shot staging helpers above.
func (r *Repository) Txns() *txn.Manager {
	return r.txns
}

// Path returns the repository's root directory on disk.
func (r *Repository) Path() string {
	return r.path
}
