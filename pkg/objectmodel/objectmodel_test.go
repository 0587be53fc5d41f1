package objectmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobRoundTrip(t *testing.T) {
	b := NewBlob([]byte("fn main(){}"), false)
	encoded := Encode(b)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	db, ok := decoded.(*Blob)
	require.True(t, ok)
	require.Equal(t, b.Content, db.Content)
	require.Equal(t, b.Executable, db.Executable)
	require.Equal(t, idOf(encoded), db.ID())
	require.Equal(t, b.ID(), db.ID())
}

func TestTreeEntriesSortedOnEncode(t *testing.T) {
	tree := EmptyTree()
	tree.Insert(TreeEntry{Name: "zeta", Target: ObjectID{1}, Kind: KindBlob, Mode: ModeFile})
	tree.Insert(TreeEntry{Name: "alpha", Target: ObjectID{2}, Kind: KindBlob, Mode: ModeFile})
	tree.Insert(TreeEntry{Name: "mid", Target: ObjectID{3}, Kind: KindTree, Mode: ModeDirectory})

	entries := tree.Iter()
	require.Len(t, entries, 3)
	require.Equal(t, []string{"alpha", "mid", "zeta"}, []string{entries[0].Name, entries[1].Name, entries[2].Name})
}

func TestTreesWithSameEntriesHashIdentically(t *testing.T) {
	a := EmptyTree()
	a.Insert(TreeEntry{Name: "b.txt", Target: ObjectID{9}, Kind: KindBlob, Mode: ModeFile})
	a.Insert(TreeEntry{Name: "a.txt", Target: ObjectID{8}, Kind: KindBlob, Mode: ModeFile})

	b := EmptyTree()
	b.Insert(TreeEntry{Name: "a.txt", Target: ObjectID{8}, Kind: KindBlob, Mode: ModeFile})
	b.Insert(TreeEntry{Name: "b.txt", Target: ObjectID{9}, Kind: KindBlob, Mode: ModeFile})

	require.Equal(t, a.ID(), b.ID())
}

func TestTreeRoundTrip(t *testing.T) {
	tree := EmptyTree()
	tree.Insert(TreeEntry{Name: "README.md", Target: ObjectID{7}, Kind: KindBlob, Mode: ModeFile})
	tree.Insert(TreeEntry{Name: "src", Target: ObjectID{6}, Kind: KindTree, Mode: ModeDirectory})

	encoded := Encode(tree)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	dt, ok := decoded.(*Tree)
	require.True(t, ok)
	require.Equal(t, tree.ID(), dt.ID())
	require.Equal(t, tree.Len(), dt.Len())

	entry, ok := dt.Get("src")
	require.True(t, ok)
	require.Equal(t, KindTree, entry.Kind)
}

func TestCommitRoundTrip(t *testing.T) {
	tree := EmptyTree().ID()
	c := NewCommit(tree, []ObjectID{{1, 2, 3}}, "alice", "init", 1700000000, -420)
	c.Revision = 1

	encoded := Encode(c)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	dc, ok := decoded.(*Commit)
	require.True(t, ok)
	require.Equal(t, c.Author, dc.Author)
	require.Equal(t, c.Message, dc.Message)
	require.Equal(t, c.Timestamp, dc.Timestamp)
	require.Equal(t, c.TZOffset, dc.TZOffset)
	require.Equal(t, c.Revision, dc.Revision)
	require.Equal(t, c.Tree, dc.Tree)
	require.Equal(t, c.Parents, dc.Parents)
	require.Equal(t, c.ID(), dc.ID())
}

func TestInitialCommitHasNoParents(t *testing.T) {
	c := NewCommit(EmptyTree().ID(), nil, "system", "initial empty commit", 0, 0)
	require.Empty(t, c.Parents)
}

func TestObjectIDStringAndParseRoundTrip(t *testing.T) {
	b := NewBlob([]byte("hello"), false)
	id := b.ID()

	parsed, err := ParseObjectID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseObjectIDRejectsWrongLength(t *testing.T) {
	_, err := ParseObjectID("deadbeef")
	require.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{'X', 0, 0})
	require.Error(t, err)
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}
