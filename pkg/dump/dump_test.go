package dump

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/stretchr/testify/require"
)

func TestParsePropsBytesRoundTrip(t *testing.T) {
	body := encodePropsBytes(map[string]string{"svn:author": "alice", "svn:log": "hi"}, []string{"svn:ignore"})
	parsed, err := parsePropsBytes(body)
	require.NoError(t, err)
	require.Equal(t, "alice", parsed.set["svn:author"])
	require.Equal(t, "hi", parsed.set["svn:log"])
	require.Equal(t, []string{"svn:ignore"}, parsed.del)
}

func TestParsePropsBytesEmptyIsJustTerminator(t *testing.T) {
	parsed, err := parsePropsBytes([]byte("PROPS-END\n"))
	require.NoError(t, err)
	require.Empty(t, parsed.set)
	require.Empty(t, parsed.del)
}

func TestParsePropsBytesTruncatedIsError(t *testing.T) {
	_, err := parsePropsBytes([]byte("K 10\nsvn:author"))
	require.Error(t, err)
}

func TestParsePropsBytesUnknownKindIsError(t *testing.T) {
	_, err := parsePropsBytes([]byte("X 3\nfoo\nPROPS-END\n"))
	require.Error(t, err)
}

func TestReadHeadersParsesBlockUpToBlankLine(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("Revision-number: 3\nProp-content-length: 10\n\nrest-of-stream"))
	headers, err := readHeaders(br)
	require.NoError(t, err)
	require.Equal(t, "3", headers[hdrRevisionNumber])
	require.Equal(t, "10", headers[hdrPropContentLen])

	remainder, err := br.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, "rest-of-stream", remainder)
}

func TestReadHeadersToleratesLeadingBlankLines(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("\n\nNode-path: /a.txt\nNode-action: delete\n\n"))
	headers, err := readHeaders(br)
	require.NoError(t, err)
	require.Equal(t, "/a.txt", headers[hdrNodePath])
}

func TestReadHeadersReturnsEOFOnEmptyStream(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(""))
	_, err := readHeaders(br)
	require.ErrorIs(t, err, io.EOF)
}

// buildRevisionBlock renders one "Revision-number" record, including its
// revision-property block, in the textual dump grammar.
func buildRevisionBlock(rev uint64, revProps map[string]string) string {
	body := encodePropsBytes(revProps, nil)
	var b strings.Builder
	fmt.Fprintf(&b, "Revision-number: %d\nProp-content-length: %d\nContent-length: %d\n\n", rev, len(body), len(body))
	b.Write(body)
	b.WriteString("\n")
	return b.String()
}

// buildAddDirBlock renders a "Node-path" record adding an empty directory.
func buildAddDirBlock(path string) string {
	body := encodePropsBytes(nil, nil)
	var b strings.Builder
	fmt.Fprintf(&b, "Node-path: %s\nNode-kind: dir\nNode-action: add\nProp-content-length: %d\nContent-length: %d\n\n", path, len(body), len(body))
	b.Write(body)
	b.WriteString("\n")
	return b.String()
}

// buildAddFileBlock renders a "Node-path" record adding a file with content.
func buildAddFileBlock(path, content string) string {
	body := encodePropsBytes(nil, nil)
	var b strings.Builder
	fmt.Fprintf(&b, "Node-path: %s\nNode-kind: file\nNode-action: add\nProp-content-length: %d\nText-content-length: %d\nContent-length: %d\n\n",
		path, len(body), len(content), len(body)+len(content))
	b.Write(body)
	b.WriteString(content)
	b.WriteString("\n\n")
	return b.String()
}

// buildChangeFileBlock renders a "Node-path" record overwriting a file's content.
func buildChangeFileBlock(path, content string) string {
	body := encodePropsBytes(nil, nil)
	var b strings.Builder
	fmt.Fprintf(&b, "Node-path: %s\nNode-kind: file\nNode-action: change\nProp-content-length: %d\nText-content-length: %d\nContent-length: %d\n\n",
		path, len(body), len(content), len(body)+len(content))
	b.Write(body)
	b.WriteString(content)
	b.WriteString("\n\n")
	return b.String()
}

// buildCopyDirBlock renders a "Node-path" record that adds a directory by
// copying it wholesale from an earlier revision.
func buildCopyDirBlock(path, fromPath string, fromRev uint64) string {
	body := encodePropsBytes(nil, nil)
	var b strings.Builder
	fmt.Fprintf(&b, "Node-path: %s\nNode-kind: dir\nNode-action: add\nNode-copyfrom-rev: %d\nNode-copyfrom-path: %s\nProp-content-length: %d\nContent-length: %d\n\n",
		path, fromRev, fromPath, len(body), len(body))
	b.Write(body)
	b.WriteString("\n")
	return b.String()
}

func buildDumpStream(blocks ...string) *bytes.Buffer {
	buf := &bytes.Buffer{}
	buf.WriteString("SVN-fs-dump-format-version: 2\n\n")
	buf.WriteString("UUID: 11111111-1111-1111-1111-111111111111\n\n")
	buf.WriteString(buildRevisionBlock(0, map[string]string{}))
	for _, blk := range blocks {
		buf.WriteString(blk)
	}
	return buf
}

func newLoadTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// TestLoadFiveRevisionHistory implements the trunk/branches/tags scenario: a
// repository layout is created, a file is added to trunk, the whole trunk is
// branched, the branch's copy of the file is edited, and the edited branch
// is tagged. The tag must reflect the branch's post-edit state while trunk
// stays untouched.
func TestLoadFiveRevisionHistory(t *testing.T) {
	stream := buildDumpStream(
		buildRevisionBlock(1, map[string]string{propSVNAuthor: "alice", propSVNLog: "layout"})+
			buildAddDirBlock("trunk")+
			buildAddDirBlock("branches")+
			buildAddDirBlock("tags"),
		buildRevisionBlock(2, map[string]string{propSVNAuthor: "alice", propSVNLog: "add readme"})+
			buildAddFileBlock("trunk/README.md", "hello\n"),
		buildRevisionBlock(3, map[string]string{propSVNAuthor: "bob", propSVNLog: "branch"})+
			buildCopyDirBlock("branches/b1", "trunk", 2),
		buildRevisionBlock(4, map[string]string{propSVNAuthor: "bob", propSVNLog: "edit on branch"})+
			buildChangeFileBlock("branches/b1/README.md", "hello world\n"),
		buildRevisionBlock(5, map[string]string{propSVNAuthor: "carol", propSVNLog: "tag"})+
			buildCopyDirBlock("tags/v0.1.0", "branches/b1", 4),
	)

	r := newLoadTestRepo(t)
	head, err := Load(stream, r)
	require.NoError(t, err)
	require.Equal(t, uint64(5), head)
	require.Equal(t, uint64(5), r.CurrentRev())

	trunkReadme, err := r.GetFile("/trunk/README.md", 2)
	require.NoError(t, err)
	require.Equal(t, []byte("hello\n"), trunkReadme)

	branchReadme, err := r.GetFile("/branches/b1/README.md", 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world\n"), branchReadme)

	tagReadme, err := r.GetFile("/tags/v0.1.0/README.md", 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world\n"), tagReadme)

	require.True(t, r.Exists("/trunk/README.md", 5))
	require.Equal(t, []byte("hello\n"), mustRead(t, r, "/trunk/README.md", 5))
}

func mustRead(t *testing.T, r *repo.Repository, path string, rev uint64) []byte {
	t.Helper()
	data, err := r.GetFile(path, rev)
	require.NoError(t, err)
	return data
}

// TestDumpThenLoadRoundTrips writes a small history through the repository's
// scripting API, serializes it with Dump, loads the result into a second
// repository, and checks the two repositories agree on every revision.
func TestDumpThenLoadRoundTrips(t *testing.T) {
	src := newLoadTestRepo(t)
	ctx := context.Background()

	require.NoError(t, src.Mkdir("/trunk"))
	_, err := src.AddFile("/trunk/a.txt", []byte("one"), false)
	require.NoError(t, err)
	_, err = src.Commit(ctx, "alice", "first", 1700000000)
	require.NoError(t, err)

	_, err = src.AddFile("/trunk/b.txt", []byte("two"), true)
	require.NoError(t, err)
	_, err = src.Commit(ctx, "bob", "second", 1700000100)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, src))

	dst := newLoadTestRepo(t)
	head, err := Load(bytes.NewReader(buf.Bytes()), dst)
	require.NoError(t, err)
	require.Equal(t, src.CurrentRev(), head)

	a, err := dst.GetFile("/trunk/a.txt", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), a)

	b, err := dst.GetFile("/trunk/b.txt", 2)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), b)
}
