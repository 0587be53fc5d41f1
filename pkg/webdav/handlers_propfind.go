package webdav

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/svnerr"
)

// handleRootPropfind answers PROPFIND on the mount root: the one shape real
// clients probe for immediately after OPTIONS, to discover the VCC href.
func (s *Server) handleRootPropfind(w http.ResponseWriter, r *http.Request) {
	uuid, err := s.repo.UUID()
	if err != nil {
		writeError(w, err)
		return
	}
	p := prop{
		ResourceType:         &resourceType{Collection: &struct{}{}},
		VCC:                  &vccElement{Href: s.prefix + "/!svn/vcc/default"},
		BaselineRelativePath: str(""),
		RepositoryUUID:       str(uuid),
	}
	body := multiStatus{
		XMLnsD: "DAV:",
		XMLnsS: "svn:",
		Responses: []response{{
			Href: s.prefix + "/",
			Propstats: []propstat{{
				Prop:   p,
				Status: "200 OK",
			}},
		}},
	}
	_ = writeXML(w, http.StatusMultiStatus, body)
}

// handleVCCPropfind answers PROPFIND on !svn/vcc/default: clients resolve
// this to learn the current baseline href and repository UUID.
func (s *Server) handleVCCPropfind(w http.ResponseWriter, r *http.Request) {
	uuid, err := s.repo.UUID()
	if err != nil {
		writeError(w, err)
		return
	}
	head := s.repo.CurrentRev()
	p := prop{
		CheckedIn:      &checkedIn{Href: fmt.Sprintf("%s/!svn/bln/%d", s.prefix, head)},
		VersionName:    str(fmt.Sprintf("%d", head)),
		RepositoryUUID: str(uuid),
	}
	body := multiStatus{
		XMLnsD: "DAV:",
		XMLnsS: "svn:",
		Responses: []response{{
			Href:      s.prefix + "/!svn/vcc/default",
			Propstats: []propstat{{Prop: p, Status: "200 OK"}},
		}},
	}
	_ = writeXML(w, http.StatusMultiStatus, body)
}

func (s *Server) handlePublicPropfind(w http.ResponseWriter, r *http.Request) {
	path := s.relPath(r.URL.Path)
	s.respondPathProps(w, r, s.repo.CurrentRev(), path, s.prefix+path)
}

// respondPathProps is the shared PROPFIND body builder for any concrete
// repository path at a fixed revision: one <response> for path itself, plus
// one per immediate child when Depth is 1 or infinity (infinity is
// flattened to depth-1 here; a conforming client always re-issues REPORT
// update-report for a true recursive tree walk, so PROPFIND's own depth
// handling only needs to satisfy Depth 0/1 faithfully).
func (s *Server) respondPathProps(w http.ResponseWriter, r *http.Request, rev uint64, path, href string) {
	uuid, err := s.repo.UUID()
	if err != nil {
		writeError(w, err)
		return
	}
	entry, isDir, err := s.resolveKind(rev, path)
	if err != nil {
		writeError(w, err)
		return
	}

	responses := []response{s.buildResponse(href, path, rev, uuid, isDir, entry)}

	depth := r.Header.Get("Depth")
	if isDir && (depth == "1" || strings.EqualFold(depth, "infinity")) {
		children, err := s.repo.ListDir(path, rev)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, c := range children {
			childPath := strings.TrimSuffix(path, "/") + "/" + c.Name
			childHref := strings.TrimSuffix(href, "/") + "/" + c.Name
			responses = append(responses, s.buildResponse(childHref, childPath, rev, uuid, c.Kind == objectmodel.KindTree, c))
		}
	}

	body := multiStatus{XMLnsD: "DAV:", XMLnsS: "svn:", Responses: responses}
	_ = writeXML(w, http.StatusMultiStatus, body)
}

// resolveKind reports whether path names a directory at rev (vs. a file),
// using Exists + a failed GetFile as the discriminator when path isn't the
// synthetic root.
func (s *Server) resolveKind(rev uint64, path string) (any, bool, error) {
	if path == "" || path == "/" {
		return nil, true, nil
	}
	if !s.repo.Exists(path, rev) {
		return nil, false, svnerr.NotFound("propfind", path)
	}
	if _, err := s.repo.GetFile(path, rev); err != nil {
		return nil, true, nil
	}
	return nil, false, nil
}

func (s *Server) buildResponse(href, path string, rev uint64, uuid string, isDir bool, _ any) response {
	relPath := strings.TrimPrefix(path, "/")
	if isDir && relPath != "" && !strings.HasSuffix(relPath, "/") {
		relPath += "/"
	}
	p := prop{
		CheckedIn:            &checkedIn{Href: fmt.Sprintf("%s/!svn/ver/%d%s", s.prefix, rev, path)},
		BaselineRelativePath: str(relPath),
		RepositoryUUID:       str(uuid),
		VersionName:          str(fmt.Sprintf("%d", rev)),
	}
	if isDir {
		p.ResourceType = &resourceType{Collection: &struct{}{}}
	} else {
		p.ResourceType = &resourceType{}
		if content, err := s.repo.GetFile(path, rev); err == nil {
			p.GetContentLength = str(fmt.Sprintf("%d", len(content)))
		}
	}
	return response{
		Href:      href,
		Propstats: []propstat{{Prop: p, Status: "200 OK"}},
	}
}

// handleProppatch applies property changes on a working-resource path whose
// activity is open, writing them straight to the property store rather than
// staging them in the activity's transaction; handleProppatchPublic rejects
// outright since properties can only be changed within an activity.
func (s *Server) handleProppatch(w http.ResponseWriter, r *http.Request) {
	act, path, txnID, ok := s.resolveWorkingPath(w, r)
	if !ok {
		return
	}
	names, err := applyProppatchBody(s.repo, path, r.Body)
	_ = act
	_ = txnID
	if err != nil {
		writeError(w, err)
		return
	}
	// One multistatus response per touched property name, all reporting the
	// same success status: DeltaV clients only check each propstat's status.
	propstats := make([]propstat, 0, len(names))
	for range names {
		propstats = append(propstats, propstat{Prop: prop{}, Status: "200 OK"})
	}
	body := multiStatus{
		XMLnsD:    "DAV:",
		XMLnsS:    "svn:",
		Responses: []response{{Href: s.prefix + path, Propstats: propstats}},
	}
	_ = writeXML(w, http.StatusMultiStatus, body)
}

func (s *Server) handleProppatchPublic(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "properties can only change inside a transaction", http.StatusMethodNotAllowed)
}
