package webdav

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cuemby/svnbridge/pkg/props"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/cuemby/svnbridge/pkg/txn"
	"github.com/go-chi/chi/v5"
)

// resolveWorkingPath extracts the activity id and repository-relative path
// from a "!svn/wrk/{act}/*" request and resolves the activity to its bound
// transaction id. Writes a response and returns ok=false on any failure.
func (s *Server) resolveWorkingPath(w http.ResponseWriter, r *http.Request) (act, path, txnID string, ok bool) {
	act = chi.URLParam(r, "act")
	path = "/" + chi.URLParam(r, "*")
	txnID, found := s.activities.lookup(act)
	if !found {
		http.Error(w, "no such activity", http.StatusNotFound)
		return "", "", "", false
	}
	return act, path, txnID, true
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	_, path, txnID, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	s.stagePut(w, r, txnID, path)
}

func (s *Server) handlePutNativeTxn(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "id")
	path := "/" + chi.URLParam(r, "*")
	s.stagePut(w, r, txnID, path)
}

func (s *Server) stagePut(w http.ResponseWriter, r *http.Request, txnID, path string) {
	t, ok := s.repo.Txns().Get(txnID)
	if !ok {
		http.Error(w, "no such transaction", http.StatusNotFound)
		return
	}
	content, err := readBody(r)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	existed := s.staging.exists(s.repo, txnID, path, t.BaseRevision)
	kind := txn.OpAdd
	if existed {
		kind = txn.OpModify
	}
	if err := s.repo.Txns().Stage(txnID, txn.Op{Kind: kind, Path: path, Content: content}); err != nil {
		writeError(w, err)
		return
	}
	s.staging.mark(txnID, path, true)

	if existed {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.Header().Set("Location", s.prefix+"/!svn/wrk/"+path)
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleMkcol(w http.ResponseWriter, r *http.Request) {
	_, path, txnID, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	s.stageMkcol(w, txnID, path)
}

func (s *Server) handleMkcolNativeTxn(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "id")
	path := "/" + chi.URLParam(r, "*")
	s.stageMkcol(w, txnID, path)
}

func (s *Server) stageMkcol(w http.ResponseWriter, txnID, path string) {
	if err := s.repo.Txns().Stage(txnID, txn.Op{Kind: txn.OpMkdir, Path: path}); err != nil {
		writeError(w, err)
		return
	}
	s.staging.mark(txnID, path, true)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	_, path, txnID, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	s.stageDelete(w, txnID, path)
}

func (s *Server) handleDeleteNativeTxn(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "id")
	path := "/" + chi.URLParam(r, "*")
	s.stageDelete(w, txnID, path)
}

func (s *Server) stageDelete(w http.ResponseWriter, txnID, path string) {
	if err := s.repo.Txns().Stage(txnID, txn.Op{Kind: txn.OpDelete, Path: path}); err != nil {
		writeError(w, err)
		return
	}
	s.staging.mark(txnID, path, false)
	w.WriteHeader(http.StatusNoContent)
}

// copySource parses the Destination/source semantics COPY and MOVE both
// need: the source revision+path come from the request's own working-path
// (already resolved), and the destination comes from the "Destination"
// header, which for SVN clients is itself a !svn/ver/<rev>/<path> or
// !svn/wrk/<act>/<path> URL.
func (s *Server) copySource(r *http.Request) (fromPath string, fromRev uint64, ok bool) {
	dest := r.Header.Get("Destination")
	u, err := url.Parse(dest)
	if err != nil {
		return "", 0, false
	}
	rel := s.relPath(u.Path)
	const verMarker = "/!svn/ver/"
	if idx := strings.Index(rel, verMarker); idx >= 0 {
		rest := rel[idx+len(verMarker):]
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return "", 0, false
		}
		rev, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return "", 0, false
		}
		return "/" + parts[1], rev, true
	}
	return "", 0, false
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	_, destPath, txnID, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	fromPath, fromRev, ok := s.copySource(r)
	if !ok {
		http.Error(w, "missing or malformed Destination", http.StatusBadRequest)
		return
	}
	if err := s.repo.Txns().Stage(txnID, txn.Op{Kind: txn.OpCopy, Path: destPath, FromPath: fromPath, FromRev: fromRev}); err != nil {
		writeError(w, err)
		return
	}
	s.staging.mark(txnID, destPath, true)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	_, destPath, txnID, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	fromPath, fromRev, ok := s.copySource(r)
	if !ok {
		http.Error(w, "missing or malformed Destination", http.StatusBadRequest)
		return
	}
	if err := s.repo.Txns().Stage(txnID, txn.Op{Kind: txn.OpCopy, Path: destPath, FromPath: fromPath, FromRev: fromRev}); err != nil {
		writeError(w, err)
		return
	}
	s.staging.mark(txnID, destPath, true)
	if err := s.repo.Txns().Stage(txnID, txn.Op{Kind: txn.OpDelete, Path: fromPath}); err != nil {
		writeError(w, err)
		return
	}
	s.staging.mark(txnID, fromPath, false)
	w.WriteHeader(http.StatusCreated)
}

// --- PROPPATCH body parsing ---

type propertyUpdate struct {
	XMLName xml.Name   `xml:"propertyupdate"`
	Set     []rawProps `xml:"set"`
	Remove  []rawProps `xml:"remove"`
}

type rawProps struct {
	Items []rawPropItem `xml:"prop"`
}

type rawPropItem struct {
	Items []struct {
		XMLName xml.Name
		Value   string `xml:",chardata"`
	} `xml:",any"`
}

// applyProppatchBody parses a PROPPATCH request body and applies every set
// and remove it names directly to the property store (path properties are
// not staged through txn, which only tracks the svn:executable blob bit;
// see pkg/props).
func applyProppatchBody(repository *repo.Repository, path string, body io.Reader) ([]string, error) {
	var update propertyUpdate
	if err := xml.NewDecoder(body).Decode(&update); err != nil {
		return nil, svnerr.Wrap(svnerr.KindBadRequest, "proppatch", path, err)
	}
	var names []string
	for _, set := range update.Set {
		for _, p := range set.Items {
			for _, item := range p.Items {
				if err := repository.Props().Set(props.ScopePath, path, item.XMLName.Local, item.Value); err != nil {
					return nil, svnerr.Wrap(svnerr.KindInternal, "proppatch", path, err)
				}
				names = append(names, item.XMLName.Local)
			}
		}
	}
	for _, rm := range update.Remove {
		for _, p := range rm.Items {
			for _, item := range p.Items {
				if err := repository.Props().Remove(props.ScopePath, path, item.XMLName.Local); err != nil {
					return nil, svnerr.Wrap(svnerr.KindInternal, "proppatch", path, err)
				}
				names = append(names, item.XMLName.Local)
			}
		}
	}
	return names, nil
}
