// Package dump implements the SVN dump stream format (versions 2 and 3):
// Load replays a dump into a repository, and Dump serializes a repository's
// history back into the same grammar for svnadmin dump.
package dump

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/svnbridge/pkg/metrics"
	"github.com/cuemby/svnbridge/pkg/props"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/cuemby/svnbridge/pkg/txn"
)

const (
	hdrRevisionNumber = "Revision-number"
	hdrNodePath       = "Node-path"
	hdrNodeKind       = "Node-kind"
	hdrNodeAction     = "Node-action"
	hdrCopyfromRev    = "Node-copyfrom-rev"
	hdrCopyfromPath   = "Node-copyfrom-path"
	hdrPropContentLen = "Prop-content-length"
	hdrTextContentLen = "Text-content-length"

	propSVNLog    = "svn:log"
	propSVNAuthor = "svn:author"
	propSVNDate   = "svn:date"
)

// Load parses an SVN dump stream from r and replays it into repository, one
// commit per dumped revision greater than zero. Revision 0's properties
// (svnsync bookkeeping keys included) are applied directly to the
// repository's existing bootstrap revision rather than creating a new one.
// Returns the repository's HEAD revision after the load.
func Load(r io.Reader, repository *repo.Repository) (uint64, error) {
	ctx := context.Background()
	br := bufio.NewReader(r)

	formatHeaders, err := readHeaders(br)
	if err != nil {
		return 0, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "", err)
	}
	if _, ok := formatHeaders["SVN-fs-dump-format-version"]; !ok {
		return 0, svnerr.New(svnerr.KindBadRequest, "dump_load", "missing format version header")
	}

	// The repository UUID header is informational only: this loader never
	// overwrites a repository's identity from a dump stream.
	if _, err := readHeaders(br); err != nil && err != io.EOF {
		return 0, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "", err)
	}

	var curTxn *txn.Transaction
	var curProps map[string]string

	finishRevision := func() error {
		if curTxn == nil {
			return nil
		}
		t, rp := curTxn, curProps
		curTxn, curProps = nil, nil
		return commitDumpedRevision(ctx, repository, t, rp)
	}

	for {
		headers, err := readHeaders(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "", err)
		}

		if revStr, ok := headers[hdrRevisionNumber]; ok {
			if err := finishRevision(); err != nil {
				return 0, err
			}
			revision, err := strconv.ParseUint(revStr, 10, 64)
			if err != nil {
				return 0, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", hdrRevisionNumber, err)
			}
			revProps, err := readPropsBlock(br, headers)
			if err != nil {
				return 0, err
			}
			consumeBlankLine(br)

			if revision == 0 {
				if err := applyRevProps(repository, 0, revProps.set); err != nil {
					return 0, err
				}
				continue
			}
			curTxn = repository.Txns().Open(repository.CurrentRev(), revProps.set[propSVNAuthor])
			curProps = revProps.set
			continue
		}

		path, ok := headers[hdrNodePath]
		if !ok {
			return 0, svnerr.New(svnerr.KindBadRequest, "dump_load", "expected Revision-number or Node-path header block")
		}
		if curTxn == nil {
			return 0, svnerr.New(svnerr.KindBadRequest, "dump_load", "node record before any revision")
		}
		if err := stageNode(repository, curTxn, path, headers, br); err != nil {
			return 0, err
		}
	}

	if err := finishRevision(); err != nil {
		return 0, err
	}

	return repository.CurrentRev(), nil
}

func commitDumpedRevision(ctx context.Context, repository *repo.Repository, t *txn.Transaction, revProps map[string]string) error {
	author := revProps[propSVNAuthor]
	message := revProps[propSVNLog]
	timestamp := parseSVNDate(revProps[propSVNDate])

	result, err := repository.Txns().Commit(ctx, t.ID, author, message, timestamp, 0)
	repository.Txns().Forget(t.ID)
	if err != nil {
		return svnerr.Wrap(svnerr.KindInternal, "dump_load", "commit", err)
	}
	metrics.DumpRevisionsLoaded.Inc()
	return applyRevProps(repository, result.Revision, revProps)
}

// stageNode reads one node record's property and text bodies (already
// header-parsed into headers) and stages the corresponding transaction
// operation(s): Delete, Mkdir, Add, Modify, or Copy, plus direct property
// store writes for any properties carried in the node's props block.
func stageNode(repository *repo.Repository, t *txn.Transaction, path string, headers map[string]string, br *bufio.Reader) error {
	action := headers[hdrNodeAction]
	kind := headers[hdrNodeKind]

	nodeProps, err := readPropsBlock(br, headers)
	if err != nil {
		return err
	}

	var content []byte
	hasText := false
	if lenStr, ok := headers[hdrTextContentLen]; ok {
		hasText = true
		n, err := strconv.Atoi(lenStr)
		if err != nil {
			return svnerr.Wrap(svnerr.KindBadRequest, "dump_load", hdrTextContentLen, err)
		}
		content = make([]byte, n)
		if _, err := io.ReadFull(br, content); err != nil {
			return svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "text body", err)
		}
	}
	consumeBlankLine(br)

	fromPath := headers[hdrCopyfromPath]
	var fromRev uint64
	if v, ok := headers[hdrCopyfromRev]; ok {
		fromRev, _ = strconv.ParseUint(v, 10, 64)
	}
	executable := nodeProps.set[props.PropExecutable] != ""

	switch action {
	case "delete":
		return repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpDelete, Path: path})

	case "add", "replace":
		if action == "replace" {
			if err := repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpDelete, Path: path}); err != nil {
				return fmt.Errorf("dump: replace %s: %w", path, err)
			}
		}
		if fromPath != "" {
			if err := repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpCopy, Path: path, FromPath: fromPath, FromRev: fromRev}); err != nil {
				return fmt.Errorf("dump: copy %s from %s@%d: %w", path, fromPath, fromRev, err)
			}
			if hasText && kind == "file" {
				if err := repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpModify, Path: path, Content: content, Executable: executable}); err != nil {
					return err
				}
			}
			return stageNodeProps(repository, path, nodeProps)
		}
		if kind == "dir" {
			if err := repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpMkdir, Path: path}); err != nil {
				return err
			}
			return stageNodeProps(repository, path, nodeProps)
		}
		if err := repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpAdd, Path: path, Content: content, Executable: executable}); err != nil {
			return err
		}
		return stageNodeProps(repository, path, nodeProps)

	case "change":
		if hasText {
			if err := repository.Txns().Stage(t.ID, txn.Op{Kind: txn.OpModify, Path: path, Content: content, Executable: executable}); err != nil {
				return err
			}
		}
		return stageNodeProps(repository, path, nodeProps)

	default:
		return svnerr.New(svnerr.KindBadRequest, "dump_load", "unknown Node-action "+action)
	}
}

func stageNodeProps(repository *repo.Repository, path string, nodeProps parsedProps) error {
	for name, value := range nodeProps.set {
		if err := repository.Props().Set(props.ScopePath, path, name, value); err != nil {
			return svnerr.Wrap(svnerr.KindInternal, "dump_load", "node property", err)
		}
	}
	for _, name := range nodeProps.del {
		if err := repository.Props().Remove(props.ScopePath, path, name); err != nil {
			return svnerr.Wrap(svnerr.KindInternal, "dump_load", "node property delete", err)
		}
	}
	return nil
}

func applyRevProps(repository *repo.Repository, revision uint64, revProps map[string]string) error {
	subject := strconv.FormatUint(revision, 10)
	for name, value := range revProps {
		if name == propSVNAuthor || name == propSVNLog || name == propSVNDate {
			continue
		}
		if err := repository.Props().Set(props.ScopeRevision, subject, name, value); err != nil {
			return svnerr.Wrap(svnerr.KindInternal, "dump_load", "revprop", err)
		}
	}
	return nil
}

func parseSVNDate(s string) int64 {
	if s == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return ts.Unix()
}

// --- low-level stream scanning ---

// readHeaders reads "Key: Value" lines up to and including the blank line
// that terminates a header block, returning the parsed map. Leading blank
// lines between records are tolerated. io.EOF is returned only when no
// header line was read before the stream ended.
func readHeaders(br *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	any := false
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if !any && err == nil {
				continue
			}
			if !any {
				return nil, io.EOF
			}
			return headers, nil
		}
		idx := strings.Index(trimmed, ": ")
		if idx < 0 {
			return nil, fmt.Errorf("dump: malformed header line %q", trimmed)
		}
		headers[trimmed[:idx]] = trimmed[idx+2:]
		any = true
		if err != nil {
			return headers, nil
		}
	}
}

func consumeBlankLine(br *bufio.Reader) {
	b, err := br.Peek(1)
	if err != nil {
		return
	}
	if b[0] == '\n' {
		_, _ = br.ReadByte()
	} else if b[0] == '\r' {
		_, _ = br.ReadString('\n')
	}
}

type parsedProps struct {
	set map[string]string
	del []string
}

// readPropsBlock reads the exact Prop-content-length bytes named in
// headers (if present) and parses the K/V/D PROPS-END grammar. Returns an
// empty parsedProps if no property block is present for this record.
func readPropsBlock(br *bufio.Reader, headers map[string]string) (parsedProps, error) {
	lenStr, ok := headers[hdrPropContentLen]
	if !ok {
		return parsedProps{set: map[string]string{}}, nil
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return parsedProps{}, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", hdrPropContentLen, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return parsedProps{}, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "props body", err)
	}
	return parsePropsBytes(buf)
}

// parsePropsBytes parses the length-prefixed K/V/D property grammar:
//
//	K <len>\n<key bytes>\nV <len>\n<value bytes>\n
//	D <len>\n<key bytes>\n
//	PROPS-END\n
func parsePropsBytes(data []byte) (parsedProps, error) {
	result := parsedProps{set: map[string]string{}}
	i := 0
	for i < len(data) {
		nl := bytes.IndexByte(data[i:], '\n')
		if nl < 0 {
			return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "truncated property entry")
		}
		line := string(data[i : i+nl])
		i += nl + 1
		if line == "PROPS-END" {
			return result, nil
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "malformed property header: "+line)
		}
		length, err := strconv.Atoi(parts[1])
		if err != nil {
			return parsedProps{}, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "property length", err)
		}
		if i+length > len(data) {
			return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "property body overruns block")
		}
		name := string(data[i : i+length])
		i += length
		if i < len(data) && data[i] == '\n' {
			i++
		}

		switch parts[0] {
		case "K":
			if i >= len(data) {
				return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "missing value for property "+name)
			}
			vnl := bytes.IndexByte(data[i:], '\n')
			if vnl < 0 {
				return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "truncated value header for "+name)
			}
			vline := string(data[i : i+vnl])
			i += vnl + 1
			vparts := strings.SplitN(vline, " ", 2)
			if len(vparts) != 2 || vparts[0] != "V" {
				return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "expected V entry for property "+name)
			}
			vlen, err := strconv.Atoi(vparts[1])
			if err != nil {
				return parsedProps{}, svnerr.Wrap(svnerr.KindBadRequest, "dump_load", "value length", err)
			}
			if i+vlen > len(data) {
				return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "value body overruns block")
			}
			result.set[name] = string(data[i : i+vlen])
			i += vlen
			if i < len(data) && data[i] == '\n' {
				i++
			}
		case "D":
			result.del = append(result.del, name)
		default:
			return parsedProps{}, svnerr.New(svnerr.KindBadRequest, "dump_load", "unknown property entry kind "+parts[0])
		}
	}
	return result, nil
}
