package webdav

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/stretchr/testify/require"
)

func newE2ERepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newE2EServer(t *testing.T, r *repo.Repository) *httptest.Server {
	t.Helper()
	s := NewServer(r, "/svn")
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// TestOptionsAdvertisesDeltaV covers the initial capability probe: a
// client's very first request is OPTIONS, and it must see DAV/SVN headers
// plus the current youngest revision before it issues anything else.
func TestOptionsAdvertisesDeltaV(t *testing.T) {
	r := newE2ERepo(t)
	ts := newE2EServer(t, r)

	resp := doRequest(t, ts, http.MethodOptions, "/svn", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("DAV"), "version-control")
	require.Equal(t, "0", resp.Header.Get("SVN-Youngest-Revision"))
}

// TestRootPropfindExposesVCC covers scenario 6: a Depth 0 PROPFIND on the
// mount root resolves to the VCC href the client checks out against.
func TestRootPropfindExposesVCC(t *testing.T) {
	r := newE2ERepo(t)
	ts := newE2EServer(t, r)

	resp := doRequest(t, ts, "PROPFIND", "/svn", nil, map[string]string{"Depth": "0"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var body multiStatus
	require.NoError(t, decodeXMLBody(resp, &body))
	require.Len(t, body.Responses, 1)
	require.NotNil(t, body.Responses[0].Propstats[0].Prop.VCC)
	require.Equal(t, "/svn/!svn/vcc/default", body.Responses[0].Propstats[0].Prop.VCC.Href)
}

// TestFullCommitCycle covers the commit cycle: MKACTIVITY, CHECKOUT against
// the VCC, PUT a new file through the resulting working resource, then MERGE --
// and asserts the commit is visible afterward through a plain GET.
func TestFullCommitCycle(t *testing.T) {
	r := newE2ERepo(t)
	ts := newE2EServer(t, r)

	mkact := doRequest(t, ts, "MKACTIVITY", "/svn/!svn/act/act-1", nil, nil)
	require.Equal(t, http.StatusCreated, mkact.StatusCode)
	mkact.Body.Close()

	checkoutBody := []byte(`<?xml version="1.0"?><D:checkout xmlns:D="DAV:">` +
		`<D:activity-set><D:href>/svn/!svn/act/act-1</D:href></D:activity-set></D:checkout>`)
	checkout := doRequest(t, ts, "CHECKOUT", "/svn/!svn/vcc/default", checkoutBody, nil)
	require.Equal(t, http.StatusCreated, checkout.StatusCode)
	loc := checkout.Header.Get("Location")
	checkout.Body.Close()
	require.Equal(t, "/svn/!svn/wrk/act-1/", loc)

	put := doRequest(t, ts, http.MethodPut, loc+"trunk/README.md", []byte("hello world"), nil)
	require.Equal(t, http.StatusCreated, put.StatusCode)
	put.Body.Close()

	mergeBody := []byte(`<?xml version="1.0"?><D:merge xmlns:D="DAV:">` +
		`<D:source><D:href>/svn/!svn/act/act-1</D:href></D:source>` +
		`<D:log-message>add readme</D:log-message></D:merge>`)
	merge := doRequest(t, ts, "MERGE", "/svn/!svn/vcc/default", mergeBody, map[string]string{"SVN-Author": "alice"})
	require.Equal(t, http.StatusOK, merge.StatusCode)
	merge.Body.Close()

	require.Equal(t, uint64(1), r.CurrentRev())
	content, err := r.GetFile("/trunk/README.md", 1)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	get := doRequest(t, ts, http.MethodGet, "/svn/trunk/README.md", nil, nil)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
}

// TestMergeOnUnknownActivityConflicts asserts the documented decision: a
// MERGE naming an activity that was never opened (or already committed and
// forgotten) fails with Conflict rather than a silent no-op success.
func TestMergeOnUnknownActivityConflicts(t *testing.T) {
	r := newE2ERepo(t)
	ts := newE2EServer(t, r)

	mergeBody := []byte(`<?xml version="1.0"?><D:merge xmlns:D="DAV:">` +
		`<D:source><D:href>/svn/!svn/act/never-opened</D:href></D:source></D:merge>`)
	resp := doRequest(t, ts, "MERGE", "/svn/!svn/vcc/default", mergeBody, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

// TestScenario2FullCycle drives spec.md scenario 2 end to end: MKACTIVITY,
// CHECKOUT, PUT, then MERGE with an explicit author/message/timestamp, and
// checks the committed revision's log entry echoes exactly those fields --
// including the client-supplied commit time, not the server's own clock.
func TestScenario2FullCycle(t *testing.T) {
	r := newE2ERepo(t)
	ts := newE2EServer(t, r)

	mkact := doRequest(t, ts, "MKACTIVITY", "/svn/!svn/act/A1", nil, nil)
	require.Equal(t, http.StatusCreated, mkact.StatusCode)
	mkact.Body.Close()

	checkoutBody := []byte(`<?xml version="1.0"?><D:checkout xmlns:D="DAV:">` +
		`<D:activity-set><D:href>/svn/!svn/act/A1</D:href></D:activity-set></D:checkout>`)
	checkout := doRequest(t, ts, "CHECKOUT", "/svn/!svn/vcc/default", checkoutBody, nil)
	require.Equal(t, http.StatusCreated, checkout.StatusCode)
	loc := checkout.Header.Get("Location")
	checkout.Body.Close()

	put := doRequest(t, ts, http.MethodPut, loc+"README.md", []byte("Hello"), nil)
	require.Equal(t, http.StatusCreated, put.StatusCode)
	put.Body.Close()

	mergeBody := []byte(`<?xml version="1.0"?><D:merge xmlns:D="DAV:">` +
		`<D:source><D:href>/svn/!svn/act/A1</D:href></D:source>` +
		`<D:log-message>init</D:log-message>` +
		`<D:author>alice</D:author>` +
		`<D:timestamp>1700000000</D:timestamp></D:merge>`)
	merge := doRequest(t, ts, "MERGE", "/svn/!svn/vcc/default", mergeBody, nil)
	require.Equal(t, http.StatusOK, merge.StatusCode)
	merge.Body.Close()

	require.Equal(t, uint64(1), r.CurrentRev())
	content, err := r.GetFile("/README.md", 1)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(content))

	get := doRequest(t, ts, http.MethodGet, "/svn/README.md", nil, nil)
	get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	logBody := []byte(`<?xml version="1.0"?><S:log-report xmlns:S="svn:"><S:start-revision>1</S:start-revision>` +
		`<S:end-revision>1</S:end-revision></S:log-report>`)
	logResp := doRequest(t, ts, "REPORT", "/svn/!svn/vcc/default", logBody, nil)
	defer logResp.Body.Close()
	require.Equal(t, http.StatusOK, logResp.StatusCode)

	var report logReport
	require.NoError(t, decodeXMLBody(logResp, &report))
	require.Len(t, report.LogItems, 1)
	item := report.LogItems[0]
	require.Equal(t, "1", item.VersionName)
	require.Equal(t, "alice", item.CreatorDisplayName)
	require.Equal(t, "init", item.Comment)
	require.Equal(t, "2023-11-14T22:13:20.000000Z", item.Date)
}

func decodeXMLBody(resp *http.Response, v any) error {
	data := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		data = append(data, buf[:n]...)
		if err != nil {
			break
		}
	}
	return unmarshalXML(data, v)
}
