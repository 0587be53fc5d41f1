package webdav

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/svnbridge/pkg/objectmodel"
)

// handleReport dispatches a REPORT body by its root element name in the
// svn: namespace. Unrecognized report types get a 501, matching how a real
// server tells a client its particular query isn't supported rather than
// silently answering nothing.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		http.Error(w, "malformed report body", http.StatusBadRequest)
		return
	}

	switch probe.XMLName.Local {
	case "log-report":
		s.handleLogReport(w, r, body)
	case "update-report":
		s.handleUpdateReport(w, r, body)
	case "get-locations":
		s.handleGetLocations(w, r, body)
	case "dated-rev-report":
		s.handleDatedRevReport(w, r, body)
	default:
		http.Error(w, "unsupported report: "+probe.XMLName.Local, http.StatusNotImplemented)
	}
}

type logReportRequest struct {
	StartRevision uint64 `xml:"start-revision"`
	EndRevision   uint64 `xml:"end-revision"`
	Limit         int    `xml:"limit"`
}

func (s *Server) handleLogReport(w http.ResponseWriter, r *http.Request, body []byte) {
	var req logReportRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed log-report", http.StatusBadRequest)
		return
	}
	head := s.repo.CurrentRev()
	start, end := req.StartRevision, req.EndRevision
	if end == 0 || end > head {
		end = head
	}
	limit := 0
	if req.Limit > 0 {
		limit = req.Limit
	}

	entries, err := s.repo.Log(end, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := logReport{XMLnsS: "svn:", XMLnsD: "DAV:"}
	for _, e := range entries {
		if e.Revision < start {
			continue
		}
		out.LogItems = append(out.LogItems, logItem{
			VersionName:        fmt.Sprintf("%d", e.Revision),
			CreatorDisplayName: e.Commit.Author,
			Date:               time.Unix(e.Commit.Timestamp, 0).UTC().Format("2006-01-02T15:04:05.000000Z"),
			Comment:            e.Commit.Message,
		})
	}
	_ = writeXML(w, http.StatusOK, out)
}

type updateReportRequest struct {
	SrcPath        string `xml:"src-path"`
	TargetRevision uint64 `xml:"target-revision"`
	Entry          struct {
		Rev uint64 `xml:"rev,attr"`
	} `xml:"entry"`
}

// handleUpdateReport drives a flat single-directory editor response: it
// lists every entry of the directory named by src-path at the target
// revision as an add-directory or add-file. The client's reported base
// revision is not consulted, no delete-entry elements are emitted, and
// subdirectories are not descended into.
func (s *Server) handleUpdateReport(w http.ResponseWriter, r *http.Request, body []byte) {
	var req updateReportRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed update-report", http.StatusBadRequest)
		return
	}
	target := req.TargetRevision
	if target == 0 {
		target = s.repo.CurrentRev()
	}
	path := req.SrcPath
	if path == "" {
		path = "/"
	}

	children, err := s.repo.ListDir(path, target)
	if err != nil {
		writeError(w, err)
		return
	}

	open := openDirectory{Rev: target}
	for _, c := range children {
		if c.Kind == objectmodel.KindTree {
			open.AddDirs = append(open.AddDirs, addDirectory{Name: c.Name, Rev: target})
		} else {
			open.AddFiles = append(open.AddFiles, addFile{
				Name:         c.Name,
				Rev:          target,
				CheckedInRef: fmt.Sprintf("%s/!svn/ver/%d%s/%s", s.prefix, target, path, c.Name),
			})
		}
	}

	out := updateReport{
		XMLnsS: "svn:",
		XMLnsD: "DAV:",
		Target: targetRevision{Rev: target},
		Open:   open,
	}
	_ = writeXML(w, http.StatusOK, out)
}

type getLocationsRequest struct {
	Path         string   `xml:"path"`
	PegRevision  uint64   `xml:"peg-revision"`
	LocationRevs []uint64 `xml:"location-revision"`
}

type getLocationsReport struct {
	XMLName   xml.Name `xml:"S:get-locations-report"`
	XMLnsS    string   `xml:"xmlns:S,attr"`
	Locations []struct {
		Rev  uint64 `xml:"rev,attr"`
		Path string `xml:"path,attr"`
	} `xml:"S:location"`
}

// handleGetLocations answers svn log -g / blame's path-history queries: for
// each requested revision at which the path exists, the path is reported
// unchanged; revisions where it does not exist are left out, and moves
// across renames are not traced.
func (s *Server) handleGetLocations(w http.ResponseWriter, r *http.Request, body []byte) {
	var req getLocationsRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed get-locations", http.StatusBadRequest)
		return
	}
	out := getLocationsReport{XMLnsS: "svn:"}
	for _, rev := range req.LocationRevs {
		if !s.repo.Exists(req.Path, rev) {
			continue
		}
		out.Locations = append(out.Locations, struct {
			Rev  uint64 `xml:"rev,attr"`
			Path string `xml:"path,attr"`
		}{Rev: rev, Path: req.Path})
	}
	_ = writeXML(w, http.StatusOK, out)
}

type datedRevRequest struct {
	CreationDate string `xml:"creationdate"`
}

type datedRevReport struct {
	XMLName xml.Name `xml:"S:dated-rev-report"`
	XMLnsS  string   `xml:"xmlns:S,attr"`
	Version string   `xml:"D:version-name"`
}

// handleDatedRevReport answers "what revision was HEAD at time T" queries
// by scanning history for the youngest commit not after the requested date.
func (s *Server) handleDatedRevReport(w http.ResponseWriter, r *http.Request, body []byte) {
	var req datedRevRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed dated-rev-report", http.StatusBadRequest)
		return
	}
	target, err := time.Parse(time.RFC3339Nano, req.CreationDate)
	if err != nil {
		http.Error(w, "malformed creationdate", http.StatusBadRequest)
		return
	}

	head := s.repo.CurrentRev()
	entries, err := s.repo.Log(head, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	rev := uint64(0)
	for _, e := range entries {
		if !time.Unix(e.Commit.Timestamp, 0).UTC().After(target) {
			rev = e.Revision
			break
		}
	}
	out := datedRevReport{XMLnsS: "svn:", Version: fmt.Sprintf("%d", rev)}
	_ = writeXML(w, http.StatusOK, out)
}
