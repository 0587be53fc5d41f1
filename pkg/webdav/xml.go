package webdav

import (
	"encoding/xml"
	"net/http"
)

// These mirror the exact element names and namespaces a conforming
// Subversion client parses; field order matters for some clients, so
// struct field order follows wire order, not Go convention.

const xmlContentType = "text/xml; charset=utf-8"

// multiStatus is the root of every PROPFIND/PROPPATCH response.
type multiStatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	XMLnsD    string     `xml:"xmlns:D,attr"`
	XMLnsS    string     `xml:"xmlns:S,attr,omitempty"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href      string     `xml:"D:href"`
	Propstats []propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

// prop carries every property a PROPFIND response might answer with; a
// given response only populates the subset the request asked for, leaving
// the rest as zero values that encoding/xml omits via omitempty where it's
// present, or which callers simply never reference.
type prop struct {
	ResourceType         *resourceType  `xml:"D:resourcetype"`
	VCC                  *vccElement    `xml:"D:version-controlled-configuration"`
	CheckedIn            *checkedIn     `xml:"D:checked-in"`
	BaselineRelativePath *stringElement `xml:"S:baseline-relative-path"`
	RepositoryUUID       *stringElement `xml:"S:repository-uuid"`
	VersionName          *stringElement `xml:"D:version-name"`
	CreatorDisplayName   *stringElement `xml:"D:creator-displayname"`
	GetContentLength     *stringElement `xml:"D:getcontentlength"`
	GetLastModified      *stringElement `xml:"D:getlastmodified"`
	MD5ChecksumSVN       *stringElement `xml:"S:md5-checksum"`
	GetContentType       *stringElement `xml:"D:getcontenttype"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection"`
}

type vccElement struct {
	Href string `xml:"D:href"`
}

type checkedIn struct {
	Href string `xml:"D:href"`
}

type stringElement struct {
	Value string `xml:",chardata"`
}

func str(v string) *stringElement { return &stringElement{Value: v} }

// mergeResponse is MERGE's success body: the new revision as a DAV
// version-name inside an updated-set wrapper.
type mergeResponse struct {
	XMLName    xml.Name        `xml:"D:merge-response"`
	XMLnsD     string          `xml:"xmlns:D,attr"`
	XMLnsS     string          `xml:"xmlns:S,attr,omitempty"`
	UpdatedSet mergeUpdatedSet `xml:"D:updated-set"`
}

type mergeUpdatedSet struct {
	Response mergeResponseEntry `xml:"D:response"`
}

type mergeResponseEntry struct {
	Href        string `xml:"D:href"`
	VersionName string `xml:"D:version-name"`
	Status      string `xml:"D:status"`
}

// logReport is the log-report REPORT response body.
type logReport struct {
	XMLName  xml.Name   `xml:"S:log-report"`
	XMLnsS   string     `xml:"xmlns:S,attr"`
	XMLnsD   string     `xml:"xmlns:D,attr"`
	LogItems []logItem  `xml:"S:log-item"`
}

type logItem struct {
	VersionName        string `xml:"D:version-name"`
	CreatorDisplayName string `xml:"D:creator-displayname"`
	Date               string `xml:"S:date"`
	Comment            string `xml:"D:comment"`
}

// updateReport is the update-report REPORT response: an editor drive.
type updateReport struct {
	XMLName xml.Name         `xml:"S:update-report"`
	XMLnsS  string           `xml:"xmlns:S,attr"`
	XMLnsD  string           `xml:"xmlns:D,attr"`
	Target  targetRevision   `xml:"S:target-revision"`
	Open    openDirectory    `xml:"S:open-directory"`
}

type targetRevision struct {
	Rev uint64 `xml:"rev,attr"`
}

type openDirectory struct {
	Rev      uint64         `xml:"rev,attr"`
	AddDirs  []addDirectory `xml:"S:add-directory"`
	AddFiles []addFile      `xml:"S:add-file"`
	Deletes  []deleteEntry  `xml:"S:delete-entry"`
}

type addDirectory struct {
	Name string `xml:"name,attr"`
	Rev  uint64 `xml:"rev,attr"`
}

type addFile struct {
	Name         string `xml:"name,attr"`
	Rev          uint64 `xml:"rev,attr"`
	CheckedInRef string `xml:"S:checked-in>D:href"`
}

type deleteEntry struct {
	Name string `xml:"name,attr"`
}

// checkoutRequest is CHECKOUT's optional request body naming the activity
// the new working resource belongs to.
type checkoutRequest struct {
	XMLName     xml.Name `xml:"checkout"`
	ActivitySet struct {
		Href string `xml:"href"`
	} `xml:"activity-set"`
}

// mergeRequest is MERGE's request body: the working resource being merged,
// plus the commit log message/author/timestamp a client may attach
// directly instead of relying on revision properties applied after the
// fact. A client-supplied timestamp becomes the commit's svn:date, the
// same field a real client sets via revision properties post-commit.
type mergeRequest struct {
	XMLName xml.Name `xml:"merge"`
	Source  struct {
		Href string `xml:"href"`
	} `xml:"source"`
	LogMessage string `xml:"log-message"`
	Author     string `xml:"author"`
	Timestamp  int64  `xml:"timestamp"`
}

func unmarshalXML(data []byte, v any) error {
	return xml.Unmarshal(data, v)
}

func writeXML(w http.ResponseWriter, status int, body any) error {
	data, err := xml.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", xmlContentType)
	w.WriteHeader(status)
	_, err = w.Write(append([]byte(xml.Header), data...))
	return err
}
