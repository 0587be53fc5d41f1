// Package objectmodel defines the immutable, content-addressed object types
// that every revision is built from: blobs, trees and commits, plus their
// canonical binary encoding and SHA-256 identifier.
package objectmodel

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// ObjectID is a SHA-256 digest over an object's canonical encoding.
type ObjectID [32]byte

// ZeroID is the nil identifier, never assigned to a real object.
var ZeroID ObjectID

// String returns the lowercase hex textual form used in URLs, logs and the
// object store's on-disk keys.
func (id ObjectID) String() string {
	return fmt.Sprintf("%x", [32]byte(id))
}

// IsZero reports whether id is the unset identifier.
func (id ObjectID) IsZero() bool { return id == ZeroID }

// ParseObjectID parses a lowercase hex string produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 64 {
		return id, fmt.Errorf("objectmodel: object id %q has wrong length", s)
	}
	if _, err := fmt.Sscanf(s, "%x", &id); err != nil {
		return id, fmt.Errorf("objectmodel: object id %q is not hex: %w", s, err)
	}
	return id, nil
}

// Kind tags which concrete object an encoded byte stream holds.
type Kind byte

const (
	KindBlob   Kind = 'B'
	KindTree   Kind = 'T'
	KindCommit Kind = 'C'
)

// Mode is a Unix-style permission word attached to a tree entry.
type Mode uint32

const (
	ModeFile       Mode = 0o644
	ModeExecutable Mode = 0o755
	ModeDirectory  Mode = 0o755
)

// Blob is immutable file content.
type Blob struct {
	Content    []byte
	Executable bool
}

// NewBlob constructs a Blob from raw content.
func NewBlob(content []byte, executable bool) *Blob {
	return &Blob{Content: content, Executable: executable}
}

// Len returns the cached content length.
func (b *Blob) Len() int { return len(b.Content) }

// ID computes the content-addressed identifier of b.
func (b *Blob) ID() ObjectID {
	return idOf(Encode(b))
}

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name   string
	Target ObjectID
	Kind   Kind // KindBlob or KindTree
	Mode   Mode
}

// Tree is an immutable directory: a name-to-entry mapping, always iterated
// and serialized in lexicographic order so two logically identical trees
// hash identically.
type Tree struct {
	entries map[string]TreeEntry
}

// EmptyTree returns a Tree with no entries.
func EmptyTree() *Tree {
	return &Tree{entries: make(map[string]TreeEntry)}
}

// Insert adds or replaces an entry by name, returning the receiver for
// chaining during tree construction.
func (t *Tree) Insert(e TreeEntry) *Tree {
	if t.entries == nil {
		t.entries = make(map[string]TreeEntry)
	}
	t.entries[e.Name] = e
	return t
}

// Remove deletes an entry by name; a no-op if absent.
func (t *Tree) Remove(name string) *Tree {
	delete(t.entries, name)
	return t
}

// Get looks up an entry by name.
func (t *Tree) Get(name string) (TreeEntry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Len returns the number of entries.
func (t *Tree) Len() int { return len(t.entries) }

// Iter returns entries sorted by name.
func (t *Tree) Iter() []TreeEntry {
	out := make([]TreeEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ID computes the content-addressed identifier of t.
func (t *Tree) ID() ObjectID {
	return idOf(Encode(t))
}

// Commit is a single immutable revision.
type Commit struct {
	Tree      ObjectID
	Parents   []ObjectID
	Author    string
	Message   string
	Timestamp int64 // UTC seconds since epoch
	TZOffset  int32 // minutes
	Revision  uint64
}

// NewCommit constructs a Commit. Revision is assigned by the transaction
// manager at commit time, not here.
func NewCommit(tree ObjectID, parents []ObjectID, author, message string, timestamp int64, tzOffset int32) *Commit {
	return &Commit{
		Tree:      tree,
		Parents:   append([]ObjectID(nil), parents...),
		Author:    author,
		Message:   message,
		Timestamp: timestamp,
		TZOffset:  tzOffset,
	}
}

// ID computes the content-addressed identifier of c over its full canonical
// encoding, including the assigned revision number, so that
// id(decode(encode(c))) == id(c) holds for every stored commit.
func (c *Commit) ID() ObjectID {
	return idOf(Encode(c))
}

func idOf(encoded []byte) ObjectID {
	return sha256.Sum256(encoded)
}

// Encode produces the canonical byte encoding of a Blob, Tree or Commit,
// used both for hashing and for object-store persistence.
func Encode(obj any) []byte {
	switch v := obj.(type) {
	case *Blob:
		return encodeBlob(v)
	case *Tree:
		return encodeTree(v)
	case *Commit:
		return encodeCommit(v)
	default:
		panic(fmt.Sprintf("objectmodel: Encode: unsupported type %T", obj))
	}
}

// Decode parses bytes produced by Encode back into a Blob, Tree or Commit,
// dispatching on the leading type tag.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("objectmodel: Decode: empty input")
	}
	switch Kind(data[0]) {
	case KindBlob:
		return decodeBlob(data)
	case KindTree:
		return decodeTree(data)
	case KindCommit:
		return decodeCommit(data)
	default:
		return nil, fmt.Errorf("objectmodel: Decode: unknown type tag %q", data[0])
	}
}

// --- encoding helpers -------------------------------------------------

func putUvarint(buf []byte, x uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

func putString(buf []byte, s string) []byte {
	buf = putUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func putBytes(buf []byte, b []byte) []byte {
	buf = putUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func readUvarint(data []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, nil, fmt.Errorf("objectmodel: truncated varint")
	}
	return v, data[n:], nil
}

func readString(data []byte) (string, []byte, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, fmt.Errorf("objectmodel: truncated string field")
	}
	return string(rest[:n]), rest[n:], nil
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("objectmodel: truncated byte field")
	}
	return rest[:n], rest[n:], nil
}

func encodeBlob(b *Blob) []byte {
	buf := []byte{byte(KindBlob)}
	var flags byte
	if b.Executable {
		flags = 1
	}
	buf = append(buf, flags)
	buf = putBytes(buf, b.Content)
	return buf
}

func decodeBlob(data []byte) (*Blob, error) {
	rest := data[1:]
	if len(rest) < 1 {
		return nil, fmt.Errorf("objectmodel: blob: truncated flags")
	}
	executable := rest[0] == 1
	rest = rest[1:]
	content, rest, err := readBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("objectmodel: blob: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("objectmodel: blob: trailing bytes")
	}
	return &Blob{Content: content, Executable: executable}, nil
}

func encodeTree(t *Tree) []byte {
	entries := t.Iter()
	buf := []byte{byte(KindTree)}
	buf = putUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = putString(buf, e.Name)
		buf = append(buf, byte(e.Kind))
		buf = putUvarint(buf, uint64(e.Mode))
		id := e.Target
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeTree(data []byte) (*Tree, error) {
	rest := data[1:]
	count, rest, err := readUvarint(rest)
	if err != nil {
		return nil, fmt.Errorf("objectmodel: tree: %w", err)
	}
	tree := EmptyTree()
	for i := uint64(0); i < count; i++ {
		var name string
		name, rest, err = readString(rest)
		if err != nil {
			return nil, fmt.Errorf("objectmodel: tree: entry %d: %w", i, err)
		}
		if len(rest) < 1 {
			return nil, fmt.Errorf("objectmodel: tree: entry %d: truncated kind", i)
		}
		kind := Kind(rest[0])
		rest = rest[1:]
		var mode uint64
		mode, rest, err = readUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("objectmodel: tree: entry %d: %w", i, err)
		}
		if len(rest) < 32 {
			return nil, fmt.Errorf("objectmodel: tree: entry %d: truncated id", i)
		}
		var id ObjectID
		copy(id[:], rest[:32])
		rest = rest[32:]
		tree.Insert(TreeEntry{Name: name, Target: id, Kind: kind, Mode: Mode(mode)})
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("objectmodel: tree: trailing bytes")
	}
	return tree, nil
}

func encodeCommit(c *Commit) []byte {
	buf := []byte{byte(KindCommit)}
	buf = append(buf, c.Tree[:]...)
	buf = putUvarint(buf, uint64(len(c.Parents)))
	for _, p := range c.Parents {
		buf = append(buf, p[:]...)
	}
	buf = putString(buf, c.Author)
	buf = putString(buf, c.Message)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(c.Timestamp))
	buf = append(buf, tsBuf[:]...)
	var tzBuf [4]byte
	binary.BigEndian.PutUint32(tzBuf[:], uint32(c.TZOffset))
	buf = append(buf, tzBuf[:]...)
	buf = putUvarint(buf, c.Revision)
	return buf
}

func decodeCommit(data []byte) (*Commit, error) {
	rest := data[1:]
	if len(rest) < 32 {
		return nil, fmt.Errorf("objectmodel: commit: truncated tree id")
	}
	var tree ObjectID
	copy(tree[:], rest[:32])
	rest = rest[32:]

	nparents, rest, err := readUvarint(rest)
	if err != nil {
		return nil, fmt.Errorf("objectmodel: commit: %w", err)
	}
	parents := make([]ObjectID, 0, nparents)
	for i := uint64(0); i < nparents; i++ {
		if len(rest) < 32 {
			return nil, fmt.Errorf("objectmodel: commit: truncated parent %d", i)
		}
		var p ObjectID
		copy(p[:], rest[:32])
		parents = append(parents, p)
		rest = rest[32:]
	}

	author, rest, err := readString(rest)
	if err != nil {
		return nil, fmt.Errorf("objectmodel: commit: author: %w", err)
	}
	message, rest, err := readString(rest)
	if err != nil {
		return nil, fmt.Errorf("objectmodel: commit: message: %w", err)
	}
	if len(rest) < 8 {
		return nil, fmt.Errorf("objectmodel: commit: truncated timestamp")
	}
	ts := int64(binary.BigEndian.Uint64(rest[:8]))
	rest = rest[8:]
	if len(rest) < 4 {
		return nil, fmt.Errorf("objectmodel: commit: truncated tz offset")
	}
	tz := int32(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]

	rev, rest, err := readUvarint(rest)
	if err != nil {
		return nil, fmt.Errorf("objectmodel: commit: revision: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("objectmodel: commit: trailing bytes")
	}

	return &Commit{Tree: tree, Parents: parents, Author: author, Message: message, Timestamp: ts, TZOffset: tz, Revision: rev}, nil
}
