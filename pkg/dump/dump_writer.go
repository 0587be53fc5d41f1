package dump

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/props"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/svnerr"
)

// Dump serializes repository's full history to w in the SVN dump format
// (version 3), one revision record per committed revision, diffing each
// revision's root tree against its parent's to determine which node
// records to emit. Unchanged subtrees (identical object ids) are skipped
// entirely, the same content-addressed dedup the transaction manager
// relies on at commit time.
func Dump(w io.Writer, repository *repo.Repository) error {
	if _, err := fmt.Fprintf(w, "SVN-fs-dump-format-version: 3\n\n"); err != nil {
		return err
	}
	uuid, err := repository.UUID()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "UUID: %s\n\n", uuid); err != nil {
		return err
	}

	head := repository.CurrentRev()
	var prevTree objectmodel.ObjectID

	for rev := uint64(0); rev <= head; rev++ {
		tree, err := repository.RootTree(rev)
		if err != nil {
			return err
		}

		revProps, err := collectRevProps(repository, rev)
		if err != nil {
			return err
		}
		if err := writeRevisionHeader(w, rev, revProps); err != nil {
			return err
		}

		if rev > 0 {
			if err := diffAndWrite(w, repository, prevTree, tree, ""); err != nil {
				return err
			}
		}
		prevTree = tree
	}
	return nil
}

func collectRevProps(repository *repo.Repository, rev uint64) (map[string]string, error) {
	commit, err := repository.CommitAt(rev)
	if err != nil {
		return nil, err
	}

	out := map[string]string{
		propSVNAuthor: commit.Author,
		propSVNLog:    commit.Message,
		propSVNDate:   time.Unix(commit.Timestamp, 0).UTC().Format(time.RFC3339Nano),
	}
	extra, err := repository.Props().List(props.ScopeRevision, strconv.FormatUint(rev, 10))
	if err != nil {
		return nil, err
	}
	for _, name := range extra {
		v, ok, err := repository.Props().Get(props.ScopeRevision, strconv.FormatUint(rev, 10), name)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = v
		}
	}
	return out, nil
}

func writeRevisionHeader(w io.Writer, rev uint64, revProps map[string]string) error {
	body := encodePropsBytes(revProps, nil)
	if _, err := fmt.Fprintf(w, "Revision-number: %d\nProp-content-length: %d\nContent-length: %d\n\n", rev, len(body), len(body)); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

func diffAndWrite(w io.Writer, repository *repo.Repository, oldID, newID objectmodel.ObjectID, prefix string) error {
	oldTree, err := loadTree(repository, oldID)
	if err != nil {
		return err
	}
	newTree, err := loadTree(repository, newID)
	if err != nil {
		return err
	}

	oldEntries := make(map[string]objectmodel.TreeEntry)
	for _, e := range oldTree.Iter() {
		oldEntries[e.Name] = e
	}
	newEntries := make(map[string]objectmodel.TreeEntry)
	for _, e := range newTree.Iter() {
		newEntries[e.Name] = e
	}

	for _, oe := range oldTree.Iter() {
		name := oe.Name
		if _, ok := newEntries[name]; !ok {
			if err := writeDeleteNode(w, joinPath(prefix, name)); err != nil {
				return err
			}
		}
	}

	for _, ne := range newTree.Iter() {
		path := joinPath(prefix, ne.Name)
		oe, existed := oldEntries[ne.Name]

		if ne.Kind == objectmodel.KindTree {
			if !existed {
				if err := writeAddDirNode(w, path); err != nil {
					return err
				}
				if err := diffAndWrite(w, repository, objectmodel.ZeroID, ne.Target, path); err != nil {
					return err
				}
				continue
			}
			if oe.Target != ne.Target {
				if err := diffAndWrite(w, repository, oe.Target, ne.Target, path); err != nil {
					return err
				}
			}
			continue
		}

		if existed && oe.Target == ne.Target {
			continue
		}
		content, nodeProps, err := loadBlobForDump(repository, ne.Target, path)
		if err != nil {
			return err
		}
		action := "change"
		if !existed {
			action = "add"
		}
		if err := writeFileNode(w, path, action, content, nodeProps); err != nil {
			return err
		}
	}
	return nil
}

func loadTree(repository *repo.Repository, id objectmodel.ObjectID) (*objectmodel.Tree, error) {
	if id.IsZero() {
		return objectmodel.EmptyTree(), nil
	}
	data, ok, err := repository.Store().Get(id)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindInternal, "dump", id.String(), err)
	}
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "dump", id.String())
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.KindCorrupt, "dump", id.String(), err)
	}
	tree, ok := obj.(*objectmodel.Tree)
	if !ok {
		return nil, svnerr.New(svnerr.KindCorrupt, "dump", id.String())
	}
	return tree, nil
}

func loadBlobForDump(repository *repo.Repository, id objectmodel.ObjectID, path string) ([]byte, map[string]string, error) {
	data, ok, err := repository.Store().Get(id)
	if err != nil {
		return nil, nil, svnerr.Wrap(svnerr.KindInternal, "dump", path, err)
	}
	if !ok {
		return nil, nil, svnerr.New(svnerr.KindCorrupt, "dump", path)
	}
	obj, err := objectmodel.Decode(data)
	if err != nil {
		return nil, nil, svnerr.Wrap(svnerr.KindCorrupt, "dump", path, err)
	}
	blob, ok := obj.(*objectmodel.Blob)
	if !ok {
		return nil, nil, svnerr.New(svnerr.KindCorrupt, "dump", path)
	}

	names, err := repository.Props().List(props.ScopePath, path)
	if err != nil {
		return nil, nil, err
	}
	nodeProps := make(map[string]string, len(names))
	for _, name := range names {
		v, ok, err := repository.Props().Get(props.ScopePath, path, name)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			nodeProps[name] = v
		}
	}
	if blob.Executable {
		nodeProps[props.PropExecutable] = "*"
	}
	return blob.Content, nodeProps, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return "/" + name
	}
	return prefix + "/" + name
}

func writeDeleteNode(w io.Writer, path string) error {
	_, err := fmt.Fprintf(w, "Node-path: %s\nNode-action: delete\n\n\n", path)
	return err
}

func writeAddDirNode(w io.Writer, path string) error {
	body := encodePropsBytes(nil, nil)
	_, err := fmt.Fprintf(w, "Node-path: %s\nNode-kind: dir\nNode-action: add\nProp-content-length: %d\nContent-length: %d\n\n%s\n",
		path, len(body), len(body), body)
	return err
}

func writeFileNode(w io.Writer, path, action string, content []byte, nodeProps map[string]string) error {
	propsBody := encodePropsBytes(nodeProps, nil)
	if _, err := fmt.Fprintf(w, "Node-path: %s\nNode-kind: file\nNode-action: %s\nProp-content-length: %d\nText-content-length: %d\nContent-length: %d\n\n",
		path, action, len(propsBody), len(content), len(propsBody)+len(content)); err != nil {
		return err
	}
	if _, err := w.Write(propsBody); err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\n\n")
	return err
}

// encodePropsBytes serializes a property set into the K/V...PROPS-END
// grammar, the inverse of parsePropsBytes.
func encodePropsBytes(set map[string]string, del []string) []byte {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf []byte
	for _, k := range keys {
		v := set[k]
		buf = append(buf, fmt.Sprintf("K %d\n%s\nV %d\n%s\n", len(k), k, len(v), v)...)
	}
	for _, k := range del {
		buf = append(buf, fmt.Sprintf("D %d\n%s\n", len(k), k)...)
	}
	buf = append(buf, "PROPS-END\n"...)
	return buf
}
