package webdav

import (
	"fmt"
	"io"
	"net/http"
)

// handleOptions advertises DAV/DeltaV compliance plus the SVN extension
// namespace and the repository's current HEAD, as real clients probe this
// before issuing any other request.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", "1,2,version-control,checkout,working-resource,"+
		"merge,baseline,activity,version-controlled-collection")
	w.Header().Set("SVN", "1,2")
	w.Header().Set("Allow", "OPTIONS,GET,HEAD,PROPFIND,PROPPATCH,REPORT,"+
		"MKACTIVITY,CHECKOUT,PUT,MKCOL,DELETE,COPY,MOVE,MERGE,CHECKIN,LOCK,UNLOCK")
	w.Header().Set("SVN-Youngest-Revision", fmt.Sprintf("%d", s.repo.CurrentRev()))
	w.WriteHeader(http.StatusOK)
}

// handlePublicGet and handleVersionedGet both resolve to GET/HEAD on a
// blob, differing only in how the revision is determined.
func (s *Server) handlePublicGet(w http.ResponseWriter, r *http.Request) {
	s.serveBlob(w, r, s.repo.CurrentRev(), s.relPath(r.URL.Path))
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, rev uint64, path string) {
	if s.repo.Exists(path, rev) {
		if entries, err := s.repo.ListDir(path, rev); err == nil {
			_ = entries
			http.Error(w, "cannot GET a collection", http.StatusBadRequest)
			return
		}
	}
	content, err := s.repo.GetFile(path, rev)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(content)
	}
}

// handleLock and handleUnlock are stubbed to always succeed: spec.md scopes
// full lock-token verification out.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", xmlContentType)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
