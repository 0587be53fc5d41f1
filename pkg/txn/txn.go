// Package txn implements the transaction manager: an in-process table of
// open transactions, staged per-path operations, and the serialized commit
// algorithm that assigns revision numbers and publishes new history.
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/metrics"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/google/uuid"
)

// OpKind enumerates the staged-operation vocabulary a transaction can hold.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpModify  OpKind = "modify"
	OpDelete  OpKind = "delete"
	OpMkdir   OpKind = "mkdir"
	OpCopy    OpKind = "copy"
	OpPropSet OpKind = "propset"
	OpPropDel OpKind = "propdel"
)

// Op is one staged change against a path.
type Op struct {
	Kind       OpKind
	Path       string
	Content    []byte // Add, Modify
	Executable bool   // Add, Modify
	FromPath   string // Copy
	FromRev    uint64 // Copy
	PropName   string // PropSet, PropDel
	PropValue  string // PropSet
}

// State is a transaction's position in its lifecycle.
type State string

const (
	StateOpen       State = "open"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Transaction is transient state owned by the Manager.
type Transaction struct {
	ID           string
	BaseRevision uint64
	Author       string
	CreatedAt    time.Time

	mu    sync.Mutex
	state State
	ops   []Op
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ops returns a snapshot of staged operations in stage order.
func (t *Transaction) Ops() []Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Op(nil), t.ops...)
}

// ObjectPutter persists canonical object bytes; satisfied by
// *objectstore.Store.
type ObjectPutter interface {
	Put(ctx context.Context, kind objectmodel.Kind, data []byte) (objectmodel.ObjectID, error)
	Get(id objectmodel.ObjectID) ([]byte, bool, error)
}

// RevisionStore is the repository façade's view of the revision map: where
// the commit algorithm reads the current HEAD and publishes a new one. The
// PublishRevision call IS the visibility boundary (spec step 6): it must
// make the new revision durable and visible atomically.
type RevisionStore interface {
	HeadRevision() uint64
	HeadCommitID() (objectmodel.ObjectID, bool)
	RootTree(revision uint64) (objectmodel.ObjectID, error)
	PublishRevision(ctx context.Context, revision uint64, commitID objectmodel.ObjectID, commitBytes []byte) error
}

// Manager owns the open-transaction table and the commit lock.
type Manager struct {
	store ObjectPutter
	revs  RevisionStore

	mu   sync.RWMutex
	txns map[string]*Transaction

	commitLock sync.Mutex

	// onPublish is invoked while still holding the commit lock, after the
	// revision is durable, so replication (pkg/replication) can apply the
	// same {revision, commitID} pair through Raft at the identical
	// linearization point. Nil in single-process deployments.
	onPublish func(ctx context.Context, revision uint64, commitID objectmodel.ObjectID) error
}

// NewManager constructs a Manager over an object store and a revision-map
// collaborator.
func NewManager(store ObjectPutter, revs RevisionStore) *Manager {
	return &Manager{store: store, revs: revs, txns: make(map[string]*Transaction)}
}

// SetPublishHook installs a callback invoked at the visibility boundary,
// used to wire Raft replication without the transaction manager importing
// pkg/replication directly.
func (m *Manager) SetPublishHook(fn func(ctx context.Context, revision uint64, commitID objectmodel.ObjectID) error) {
	m.onPublish = fn
}

// Open creates a fresh transaction branched from baseRevision.
func (m *Manager) Open(baseRevision uint64, author string) *Transaction {
	t := &Transaction{
		ID:           uuid.New().String(),
		BaseRevision: baseRevision,
		Author:       author,
		CreatedAt:    time.Now(),
		state:        StateOpen,
	}
	m.mu.Lock()
	m.txns[t.ID] = t
	m.mu.Unlock()
	return t
}

// Get looks up a transaction by id.
func (m *Manager) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txns[id]
	return t, ok
}

// Active returns the number of transactions currently tracked in the open
// table, Open or Committing, used by the metrics collector as a gauge.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.txns {
		if s := t.State(); s == StateOpen || s == StateCommitting {
			n++
		}
	}
	return n
}

// Stage appends op to transaction id, superficially validating path shape.
// Full validation (conflicts, missing sources) is deferred to Commit.
func (m *Manager) Stage(id string, op Op) error {
	t, ok := m.Get(id)
	if !ok {
		return svnerr.New(svnerr.KindNotFound, "stage", id)
	}
	if op.Path == "" && op.Kind != OpPropSet && op.Kind != OpPropDel {
		return svnerr.New(svnerr.KindBadRequest, "stage", id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return svnerr.New(svnerr.KindConflict, "stage", id)
	}
	t.ops = append(t.ops, op)
	return nil
}

// Abort marks a transaction Aborted. Safe to call more than once; the
// protocol layer's activity sweep calls it for activities left open past
// their timeout.
func (m *Manager) Abort(id string) error {
	t, ok := m.Get(id)
	if !ok {
		return svnerr.New(svnerr.KindNotFound, "abort", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCommitted {
		return svnerr.New(svnerr.KindConflict, "abort", id)
	}
	t.state = StateAborted
	return nil
}

// Forget drops a transaction from the table once its activity has been
// fully resolved (committed, aborted, or expired).
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, id)
}

// Result carries the outcome of a successful Commit.
type Result struct {
	Revision uint64
	CommitID objectmodel.ObjectID
	TreeID   objectmodel.ObjectID
}

// Commit runs the core algorithm of spec §4.4. The transaction's staged
// ops are a set of edits relative to whatever the true HEAD turns out to
// be at the linearization point, not relative to the transaction's own
// BaseRevision: the merge base is re-resolved to current HEAD's tree and
// the ops are replayed onto it under the Manager's single commit lock,
// so two activities opened at the same HEAD that touch disjoint
// paths both land (the second one's tree already contains the first
// one's change) instead of one clobbering the other. Operations that
// target a path the other side also touched still fail with KindConflict
// via the ordinary existence checks in applyOp, now evaluated against
// HEAD rather than against a stale base.
func (m *Manager) Commit(ctx context.Context, id string, author, message string, timestamp int64, tzOffset int32) (Result, error) {
	timer := metrics.NewTimer()
	t, ok := m.Get(id)
	if !ok {
		return Result{}, svnerr.New(svnerr.KindNotFound, "commit", id)
	}

	t.mu.Lock()
	if t.state != StateOpen {
		t.mu.Unlock()
		return Result{}, svnerr.New(svnerr.KindConflict, "commit", id)
	}
	t.state = StateCommitting
	ops := append([]Op(nil), t.ops...)
	t.mu.Unlock()

	fail := func(err error) (Result, error) {
		t.mu.Lock()
		t.state = StateAborted
		t.mu.Unlock()
		return Result{}, err
	}

	if author == "" {
		author = t.Author
	}

	m.commitLock.Lock()
	defer m.commitLock.Unlock()

	head := m.revs.HeadRevision()
	parentID, hasParent := m.revs.HeadCommitID()
	var parents []objectmodel.ObjectID
	if hasParent {
		parents = []objectmodel.ObjectID{parentID}
	}
	revision := head + 1

	baseTreeID, err := m.revs.RootTree(head)
	if err != nil {
		return fail(fmt.Errorf("txn: commit %s: resolve head tree: %w", id, err))
	}

	newTreeID, err := m.applyOps(ctx, baseTreeID, ops)
	if err != nil {
		return fail(fmt.Errorf("txn: commit %s: apply staged operations: %w", id, err))
	}

	commit := objectmodel.NewCommit(newTreeID, parents, author, message, timestamp, tzOffset)
	commit.Revision = revision
	commitBytes := objectmodel.Encode(commit)
	commitID := commit.ID()

	if _, err := m.store.Put(ctx, objectmodel.KindCommit, commitBytes); err != nil {
		return fail(fmt.Errorf("txn: commit %s: persist commit object: %w", id, err))
	}

	if err := m.revs.PublishRevision(ctx, revision, commitID, commitBytes); err != nil {
		return fail(fmt.Errorf("txn: commit %s: publish revision %d: %w", id, revision, err))
	}

	if m.onPublish != nil {
		if err := m.onPublish(ctx, revision, commitID); err != nil {
			log.Logger.Error().Err(err).Uint64("revision", revision).Msg("replication apply failed after local publish")
		}
	}

	t.mu.Lock()
	t.state = StateCommitted
	t.mu.Unlock()

	log.Logger.Info().Str("txn", id).Uint64("revision", revision).Str("author", author).Msg("commit published")
	metrics.CommitsTotal.Inc()
	timer.ObserveDuration(metrics.CommitDuration)

	return Result{Revision: revision, CommitID: commitID, TreeID: newTreeID}, nil
}

// applyOps replays staged operations against baseTreeID, producing a new
// root tree id. Intermediate directories are materialized bottom-up and
// emitted into the object store so dedup can reuse unchanged subtrees.
func (m *Manager) applyOps(ctx context.Context, baseTreeID objectmodel.ObjectID, ops []Op) (objectmodel.ObjectID, error) {
	root, err := m.loadTree(baseTreeID)
	if err != nil {
		return objectmodel.ZeroID, err
	}

	for _, op := range ops {
		root, err = m.applyOp(ctx, root, op)
		if err != nil {
			return objectmodel.ZeroID, err
		}
	}

	return m.emitTree(ctx, root)
}

// mutableTree mirrors objectmodel.Tree but keeps subtrees as *mutableTree
// until emit time, so an entire staged operation chain can run purely
// in-memory before anything is hashed or written.
type mutableTree struct {
	entries map[string]mutableEntry
}

type mutableEntry struct {
	kind objectmodel.Kind
	mode objectmodel.Mode
	blob objectmodel.ObjectID // valid when kind == KindBlob
	sub  *mutableTree         // valid when kind == KindTree
}

func newMutableTree() *mutableTree {
	return &mutableTree{entries: make(map[string]mutableEntry)}
}

func (m *Manager) loadTree(id objectmodel.ObjectID) (*mutableTree, error) {
	if id.IsZero() {
		return newMutableTree(), nil
	}
	data, ok, err := m.store.Get(id)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindInternal, "load_tree", "", err)
	}
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "load_tree", id.String())
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindCorrupt, "load_tree", id.String(), err)
	}
	tree, ok := obj.(*objectmodel.Tree)
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "load_tree", id.String())
	}

	mt := newMutableTree()
	for _, e := range tree.Iter() {
		mt.entries[e.Name] = mutableEntry{kind: e.Kind, mode: e.Mode, blob: e.Target}
	}
	return mt, nil
}

func (m *Manager) emitTree(ctx context.Context, t *mutableTree) (objectmodel.ObjectID, error) {
	tree := objectmodel.EmptyTree()
	for name, e := range t.entries {
		if e.kind == objectmodel.KindTree {
			var id objectmodel.ObjectID
			var err error
			if e.sub != nil {
				id, err = m.emitTree(ctx, e.sub)
			} else {
				// Untouched subtree spliced in by Copy or inherited
				// unchanged from the base revision: its bytes are already
				// durable, so re-emitting would just be a dedup'd no-op;
				// skip the round trip and reuse the id directly.
				id = e.blob
			}
			if err != nil {
				return objectmodel.ZeroID, err
			}
			tree.Insert(objectmodel.TreeEntry{Name: name, Target: id, Kind: objectmodel.KindTree, Mode: objectmodel.ModeDirectory})
		} else {
			tree.Insert(objectmodel.TreeEntry{Name: name, Target: e.blob, Kind: objectmodel.KindBlob, Mode: e.mode})
		}
	}
	data := objectmodel.Encode(tree)
	return m.store.Put(ctx, objectmodel.KindTree, data)
}

func (m *Manager) applyOp(ctx context.Context, root *mutableTree, op Op) (*mutableTree, error) {
	segments := splitPath(op.Path)

	switch op.Kind {
	case OpAdd, OpModify:
		blob := objectmodel.NewBlob(op.Content, op.Executable)
		data := objectmodel.Encode(blob)
		id, err := m.store.Put(ctx, objectmodel.KindBlob, data)
		if err != nil {
			return nil, fmt.Errorf("txn: put blob %s: %w", op.Path, err)
		}
		mode := objectmodel.ModeFile
		if op.Executable {
			mode = objectmodel.ModeExecutable
		}
		existed := m.pathExists(root, segments)
		if op.Kind == OpAdd && existed {
			return nil, svnerr.New(svnerr.KindConflict, "add", op.Path)
		}
		if op.Kind == OpModify && !existed {
			return nil, svnerr.New(svnerr.KindNotFound, "modify", op.Path)
		}
		return m.setEntry(root, segments, mutableEntry{kind: objectmodel.KindBlob, mode: mode, blob: id})

	case OpMkdir:
		if m.pathExists(root, segments) {
			return nil, svnerr.New(svnerr.KindConflict, "mkdir", op.Path)
		}
		return m.setEntry(root, segments, mutableEntry{kind: objectmodel.KindTree, mode: objectmodel.ModeDirectory, sub: newMutableTree()})

	case OpDelete:
		if !m.pathExists(root, segments) {
			return nil, svnerr.New(svnerr.KindConflict, "delete", op.Path)
		}
		return m.deleteEntry(root, segments)

	case OpCopy:
		fromTreeID, err := m.revs.RootTree(op.FromRev)
		if err != nil {
			return nil, fmt.Errorf("txn: copy: resolve source revision %d: %w", op.FromRev, err)
		}
		srcEntry, err := m.resolveInStoredTree(fromTreeID, op.FromPath)
		if err != nil {
			return nil, fmt.Errorf("txn: copy from %s@%d: %w", op.FromPath, op.FromRev, err)
		}
		if m.pathExists(root, segments) {
			return nil, svnerr.New(svnerr.KindConflict, "copy", op.Path)
		}
		return m.setEntry(root, segments, srcEntry)

	case OpPropSet, OpPropDel:
		// Properties are not part of tree content addressing, so a staged
		// property op leaves the tree unchanged and Commit does not write
		// it to the property store either. svn:executable is the one
		// exception, reconciled here so the blob's executable bit follows
		// the property value that was staged.
		if op.Kind == OpPropSet && op.PropName == "svn:executable" {
			return m.flipExecutable(ctx, root, segments, op.PropValue != "")
		}
		return root, nil

	default:
		return nil, svnerr.New(svnerr.KindBadRequest, "stage", op.Path)
	}
}

func (m *Manager) flipExecutable(ctx context.Context, root *mutableTree, segments []string, executable bool) (*mutableTree, error) {
	entry, err := m.getEntry(root, segments)
	if err != nil {
		return nil, err
	}
	if entry.kind != objectmodel.KindBlob {
		return nil, svnerr.New(svnerr.KindBadRequest, "propset:svn:executable", "")
	}
	data, ok, err := m.store.Get(entry.blob)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "propset:svn:executable", "")
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, err
	}
	blob, ok := obj.(*objectmodel.Blob)
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "propset:svn:executable", "")
	}
	newBlob := objectmodel.NewBlob(blob.Content, executable)
	newData := objectmodel.Encode(newBlob)
	newID, err := m.store.Put(ctx, objectmodel.KindBlob, newData)
	if err != nil {
		return nil, err
	}
	mode := objectmodel.ModeFile
	if executable {
		mode = objectmodel.ModeExecutable
	}
	return m.setEntry(root, segments, mutableEntry{kind: objectmodel.KindBlob, mode: mode, blob: newID})
}

// resolveInStoredTree resolves path against an already-committed tree,
// returning a mutableEntry in the same "unexpanded" shape loadTree
// produces (sub == nil, blob == the stored object id) so the result can be
// spliced straight into a Copy destination without re-materializing it.
func (m *Manager) resolveInStoredTree(rootID objectmodel.ObjectID, path string) (mutableEntry, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return mutableEntry{kind: objectmodel.KindTree, mode: objectmodel.ModeDirectory, blob: rootID}, nil
	}
	cur := rootID
	var result mutableEntry
	for i, seg := range segments {
		mt, err := m.loadTree(cur)
		if err != nil {
			return mutableEntry{}, err
		}
		e, ok := mt.entries[seg]
		if !ok {
			return mutableEntry{}, svnerr.NotFound("resolve", path)
		}
		result = e
		if i < len(segments)-1 {
			if e.kind != objectmodel.KindTree {
				return mutableEntry{}, svnerr.NotFound("resolve", path)
			}
			cur = e.blob
		}
	}
	return result, nil
}

// expand returns e's subtree in mutable form, loading it from the object
// store on first touch if it hasn't been expanded yet.
func (m *Manager) expand(e mutableEntry) (*mutableTree, error) {
	if e.sub != nil {
		return e.sub, nil
	}
	return m.loadTree(e.blob)
}

func splitPath(path string) []string {
	segments := make([]string, 0, 8)
	start := -1
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '/' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			segments = append(segments, path[start:i])
			start = -1
		}
	}
	return segments
}

func (m *Manager) pathExists(root *mutableTree, segments []string) bool {
	_, err := m.getEntry(root, segments)
	return err == nil
}

func (m *Manager) getEntry(root *mutableTree, segments []string) (mutableEntry, error) {
	cur := root
	for i, seg := range segments {
		e, ok := cur.entries[seg]
		if !ok {
			return mutableEntry{}, svnerr.New(svnerr.KindNotFound, "resolve", seg)
		}
		if i == len(segments)-1 {
			return e, nil
		}
		if e.kind != objectmodel.KindTree {
			return mutableEntry{}, svnerr.New(svnerr.KindNotFound, "resolve", seg)
		}
		sub, err := m.expand(e)
		if err != nil {
			return mutableEntry{}, err
		}
		cur.entries[seg] = mutableEntry{kind: e.kind, mode: e.mode, sub: sub}
		cur = sub
	}
	return mutableEntry{kind: objectmodel.KindTree, sub: root}, nil
}

// setEntry mutates root in place (its entries map is a reference type) so
// the entry at segments is replaced, creating intermediate directories as
// needed (mkdir -p semantics for every add, modify, mkdir and copy
// destination: a missing parent is created, not rejected).
func (m *Manager) setEntry(root *mutableTree, segments []string, entry mutableEntry) (*mutableTree, error) {
	if len(segments) == 0 {
		return nil, svnerr.New(svnerr.KindBadRequest, "stage", "")
	}
	cur := root
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		e, ok := cur.entries[seg]
		if !ok {
			sub := newMutableTree()
			cur.entries[seg] = mutableEntry{kind: objectmodel.KindTree, mode: objectmodel.ModeDirectory, sub: sub}
			cur = sub
			continue
		}
		if e.kind != objectmodel.KindTree {
			return nil, svnerr.New(svnerr.KindConflict, "stage", seg)
		}
		sub, err := m.expand(e)
		if err != nil {
			return nil, err
		}
		cur.entries[seg] = mutableEntry{kind: e.kind, mode: e.mode, sub: sub}
		cur = sub
	}
	cur.entries[segments[len(segments)-1]] = entry
	return root, nil
}

func (m *Manager) deleteEntry(root *mutableTree, segments []string) (*mutableTree, error) {
	cur := root
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		e, ok := cur.entries[seg]
		if !ok || e.kind != objectmodel.KindTree {
			return nil, svnerr.New(svnerr.KindConflict, "delete", seg)
		}
		sub, err := m.expand(e)
		if err != nil {
			return nil, err
		}
		cur.entries[seg] = mutableEntry{kind: e.kind, mode: e.mode, sub: sub}
		cur = sub
	}
	last := segments[len(segments)-1]
	if _, ok := cur.entries[last]; !ok {
		return nil, svnerr.New(svnerr.KindConflict, "delete", last)
	}
	delete(cur.entries, last)
	return root, nil
}
