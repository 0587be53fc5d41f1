package webdav

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/go-chi/chi/v5"
)

// handleMkactivity opens a new transaction at HEAD and binds it to the
// activity id the client chose, per spec's activity lifecycle.
func (s *Server) handleMkactivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, exists := s.activities.lookup(id); exists {
		http.Error(w, "activity already exists", http.StatusMethodNotAllowed)
		return
	}
	t := s.repo.Txns().Open(s.repo.CurrentRev(), requestAuthor(r))
	s.activities.open(id, t.ID)
	w.Header().Set("Location", s.prefix+"/!svn/act/"+id)
	w.WriteHeader(http.StatusCreated)
}

// handleCheckout answers CHECKOUT on a VCC or versioned resource with a
// working-resource href scoped to the activity named in the request body's
// activity-set (simplified here to the single currently open activity tied
// to this resource's path, since svnbridge only ever drives one activity at
// a time per client transaction).
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	act := activityFromBody(r)
	if act == "" {
		http.Error(w, "missing activity in checkout request", http.StatusBadRequest)
		return
	}
	if _, ok := s.activities.lookup(act); !ok {
		http.Error(w, "no such activity", http.StatusNotFound)
		return
	}
	// CHECKOUT against a specific versioned resource yields a working
	// resource scoped to that same path; CHECKOUT against the VCC itself
	// (no {rev}/{path} in the route) yields the working root, and the
	// client appends the path it intends to create to that href directly.
	var loc string
	if rev := chi.URLParam(r, "rev"); rev != "" {
		loc = fmt.Sprintf("%s/!svn/wrk/%s/%s", s.prefix, act, chi.URLParam(r, "*"))
	} else {
		loc = fmt.Sprintf("%s/!svn/wrk/%s/", s.prefix, act)
	}
	w.Header().Set("Location", loc)
	w.WriteHeader(http.StatusCreated)
}

// handleMerge answers MERGE issued against the VCC: the activity being
// merged is named by an href in the request body (the DeltaV merge element),
// resolved through the activity table to its bound transaction. A MERGE on
// an activity that was already committed (or never opened) is rejected with
// Conflict rather than silently succeeding, since replaying it would
// otherwise look like a successful second commit to the client.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	author, message, act, timestamp := mergeLogFromBody(r)
	if act == "" {
		act = chi.URLParam(r, "act")
	}
	txnID, ok := s.activities.lookup(act)
	if !ok {
		writeError(w, svnerr.New(svnerr.KindConflict, "merge", act))
		return
	}
	s.commitAndRespond(w, r, txnID, author, message, act, timestamp)
}

// handleMergeNativeTxn answers MERGE issued directly against
// !svn/txn/<id>: unlike the activity-mediated form, id here already IS the
// transaction id, so no activity table lookup is involved.
func (s *Server) handleMergeNativeTxn(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "id")
	author, message, _, timestamp := mergeLogFromBody(r)
	s.commitAndRespond(w, r, txnID, author, message, "", timestamp)
}

// commitAndRespond commits the transaction, using the client-supplied
// timestamp (a client-asserted svn:date, the way a real client attaches
// one via revision properties) when present, falling back to the
// server's own clock for clients that don't set one.
func (s *Server) commitAndRespond(w http.ResponseWriter, r *http.Request, txnID, author, message, act string, timestamp int64) {
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	result, err := s.repo.Txns().Commit(r.Context(), txnID, author, message, timestamp, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	s.repo.Txns().Forget(txnID)
	if act != "" {
		s.activities.forget(act)
	}
	s.staging.forget(txnID)

	body := mergeResponse{
		XMLnsD: "DAV:",
		XMLnsS: "svn:",
		UpdatedSet: mergeUpdatedSet{
			Response: mergeResponseEntry{
				Href:        fmt.Sprintf("%s/!svn/bln/%d", s.prefix, result.Revision),
				VersionName: fmt.Sprintf("%d", result.Revision),
			},
		},
	}
	_ = writeXML(w, http.StatusOK, body)
}

// handleCheckin is the legacy DeltaV commit entry point for a single
// working resource; svnbridge treats it identically to MERGE since both
// ultimately just commit the bound transaction.
func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	act, _, _, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	r2 := r.Clone(r.Context())
	rctx := chi.RouteContext(r2.Context())
	if rctx != nil {
		rctx.URLParams.Add("act", act)
	}
	s.handleMerge(w, r2)
}

// requestAuthor reads the client-asserted author off the standard SVN
// client header; an empty value is valid (anonymous commits).
func requestAuthor(r *http.Request) string {
	return r.Header.Get("SVN-Author")
}

// activityFromBody pulls the activity id out of a CHECKOUT request body's
// DAV:href, falling back to the request's own URL segment layout when the
// body is absent (some clients issue CHECKOUT with an empty body against a
// URL that already names the activity via a prior MKACTIVITY in the same
// session, tracked client-side).
func activityFromBody(r *http.Request) string {
	body, err := readBody(r)
	if err != nil || len(body) == 0 {
		return chi.URLParam(r, "act")
	}
	var req checkoutRequest
	if err := unmarshalXML(body, &req); err != nil {
		return chi.URLParam(r, "act")
	}
	return lastPathSegment(req.ActivitySet.Href)
}

// mergeLogFromBody extracts the commit author/message/timestamp and the
// activity being merged from a MERGE request's DAV:merge body; svnbridge
// also accepts the SVN-specific headers clients sometimes set directly.
// act is empty when the body carries no source href (the native-txn MERGE
// route doesn't need one). timestamp is 0 when the client didn't supply
// one, leaving the caller to fall back to the server's clock.
func mergeLogFromBody(r *http.Request) (author, message, act string, timestamp int64) {
	author = requestAuthor(r)
	body, err := readBody(r)
	if err == nil && len(body) > 0 {
		var req mergeRequest
		if unmarshalXML(body, &req) == nil {
			if req.Author != "" {
				author = req.Author
			}
			message = req.LogMessage
			act = lastPathSegment(req.Source.Href)
			timestamp = req.Timestamp
		}
	}
	return author, message, act, timestamp
}
