// Package treeindex resolves (revision root tree, path) pairs to object
// ids by walking the tree hierarchy, and maintains an optional flat-map
// fast path for HEAD lookups.
package treeindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/svnerr"
)

// ObjectLoader loads an object's raw bytes by id; satisfied by
// *objectstore.Store.
type ObjectLoader interface {
	Get(id objectmodel.ObjectID) ([]byte, bool, error)
}

// Entry is one resolved or listed path.
type Entry struct {
	Name   string
	Target objectmodel.ObjectID
	Kind   objectmodel.Kind
	Mode   objectmodel.Mode
}

// SplitPath normalizes a slash-separated path: collapses repeated slashes,
// trims leading/trailing slashes, and splits into non-empty segments. The
// root path (empty or "/") yields a nil slice.
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	raw := strings.Split(trimmed, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Resolve walks from rootTree following segments of path, returning the
// final entry. The empty path resolves to a synthetic root entry whose
// Target is rootTree and whose Kind is KindTree.
func Resolve(loader ObjectLoader, rootTree objectmodel.ObjectID, path string) (Entry, error) {
	segments := SplitPath(path)
	cur := rootTree
	var curEntry = Entry{Name: "", Target: rootTree, Kind: objectmodel.KindTree, Mode: objectmodel.ModeDirectory}

	for i, seg := range segments {
		tree, err := loadTree(loader, cur)
		if err != nil {
			return Entry{}, err
		}
		te, ok := tree.Get(seg)
		if !ok {
			return Entry{}, svnerr.NotFound("resolve", path)
		}
		curEntry = Entry{Name: seg, Target: te.Target, Kind: te.Kind, Mode: te.Mode}
		if i < len(segments)-1 {
			if te.Kind != objectmodel.KindTree {
				return Entry{}, svnerr.New(svnerr.KindNotFound, "resolve", path)
			}
			cur = te.Target
		}
	}
	return curEntry, nil
}

// ListDir returns the entries of the tree at path, sorted by name.
func ListDir(loader ObjectLoader, rootTree objectmodel.ObjectID, path string) ([]Entry, error) {
	entry, err := Resolve(loader, rootTree, path)
	if err != nil {
		return nil, err
	}
	if entry.Kind != objectmodel.KindTree {
		return nil, svnerr.New(svnerr.KindBadRequest, "list_dir", path)
	}
	tree, err := loadTree(loader, entry.Target)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, tree.Len())
	for _, te := range tree.Iter() {
		out = append(out, Entry{Name: te.Name, Target: te.Target, Kind: te.Kind, Mode: te.Mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Exists reports whether path resolves under rootTree.
func Exists(loader ObjectLoader, rootTree objectmodel.ObjectID, path string) bool {
	_, err := Resolve(loader, rootTree, path)
	return err == nil
}

func loadTree(loader ObjectLoader, id objectmodel.ObjectID) (*objectmodel.Tree, error) {
	data, ok, err := loader.Get(id)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindInternal, "load_tree", "", err)
	}
	if !ok {
		return nil, svnerr.New(svnerr.KindNotFound, "load_tree", "")
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindCorrupt, "load_tree", "", err)
	}
	tree, ok := obj.(*objectmodel.Tree)
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "load_tree", fmt.Sprintf("object %s is not a tree", id))
	}
	return tree, nil
}

// FlatIndex is the HEAD-only fast-path cache: a direct full_path -> entry
// mapping rebuilt whenever HEAD advances. It never drives historical
// lookups, so it can never go stale relative to an old revision — only
// relative to the current one, and it is always rebuilt alongside it.
type FlatIndex struct {
	entries map[string]Entry
}

// BuildFlatIndex walks the entire tree at rootTree and flattens it.
func BuildFlatIndex(loader ObjectLoader, rootTree objectmodel.ObjectID) (*FlatIndex, error) {
	idx := &FlatIndex{entries: make(map[string]Entry)}
	if err := idx.walk(loader, rootTree, ""); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *FlatIndex) walk(loader ObjectLoader, treeID objectmodel.ObjectID, prefix string) error {
	tree, err := loadTree(loader, treeID)
	if err != nil {
		return err
	}
	for _, te := range tree.Iter() {
		full := te.Name
		if prefix != "" {
			full = prefix + "/" + te.Name
		}
		idx.entries[full] = Entry{Name: te.Name, Target: te.Target, Kind: te.Kind, Mode: te.Mode}
		if te.Kind == objectmodel.KindTree {
			if err := idx.walk(loader, te.Target, full); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup resolves path through the flat map, reporting whether it was
// found. Callers fall back to Resolve on a miss.
func (idx *FlatIndex) Lookup(path string) (Entry, bool) {
	key := strings.Join(SplitPath(path), "/")
	e, ok := idx.entries[key]
	return e, ok
}
