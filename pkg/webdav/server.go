// Package webdav translates WebDAV/DeltaV HTTP requests into operations
// against a repository façade, and serializes its results back into the
// XML shapes a conforming Subversion client expects.
package webdav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/metrics"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/svnerr"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server hosts one repository behind a WebDAV/DeltaV endpoint mounted at
// Prefix (default "/svn").
type Server struct {
	repo       *repo.Repository
	prefix     string
	activities *activityTable
	staging    *stagingTracker
	http       *http.Server
}

// NewServer builds a Server for repository, mounted at prefix (e.g. "/svn").
// An empty prefix defaults to "/svn".
func NewServer(repository *repo.Repository, prefix string) *Server {
	if prefix == "" {
		prefix = "/svn"
	}
	prefix = strings.TrimSuffix(prefix, "/")

	s := &Server{
		repo:       repository,
		prefix:     prefix,
		activities: newActivityTable(),
		staging:    newStagingTracker(),
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			s.activities.sweepExpired(repository.Txns())
			metrics.ActiveActivities.Set(float64(s.activities.count()))
		}
	}()
	return s
}

// Router builds the chi mux that dispatches every method this server
// supports against the URL scheme in spec.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	r.MethodFunc(http.MethodOptions, s.prefix, s.handleOptions)
	r.MethodFunc(http.MethodOptions, s.prefix+"/*", s.handleOptions)
	r.MethodFunc("PROPFIND", s.prefix, s.handleRootPropfind)
	r.MethodFunc("PROPFIND", s.prefix+"/", s.handleRootPropfind)

	r.MethodFunc("PROPFIND", s.prefix+"/!svn/vcc/default", s.handleVCCPropfind)
	r.MethodFunc("CHECKOUT", s.prefix+"/!svn/vcc/default", s.handleCheckout)
	r.MethodFunc("MERGE", s.prefix+"/!svn/vcc/default", s.handleMerge)

	r.MethodFunc("PROPFIND", s.prefix+"/!svn/bln/{rev}", s.handleBaselinePropfind)

	r.MethodFunc("GET", s.prefix+"/!svn/bc/{rev}/*", s.handleVersionedGet)
	r.MethodFunc("HEAD", s.prefix+"/!svn/bc/{rev}/*", s.handleVersionedGet)
	r.MethodFunc("PROPFIND", s.prefix+"/!svn/bc/{rev}/*", s.handleVersionedPropfind)

	r.MethodFunc("GET", s.prefix+"/!svn/ver/{rev}/*", s.handleVersionedGet)
	r.MethodFunc("HEAD", s.prefix+"/!svn/ver/{rev}/*", s.handleVersionedGet)
	r.MethodFunc("PROPFIND", s.prefix+"/!svn/ver/{rev}/*", s.handleVersionedPropfind)
	r.MethodFunc("CHECKOUT", s.prefix+"/!svn/ver/{rev}/*", s.handleCheckout)

	r.MethodFunc("MKACTIVITY", s.prefix+"/!svn/act/{id}", s.handleMkactivity)

	r.MethodFunc("PUT", s.prefix+"/!svn/wrk/{act}/*", s.handlePut)
	r.MethodFunc("MKCOL", s.prefix+"/!svn/wrk/{act}/*", s.handleMkcol)
	r.MethodFunc("DELETE", s.prefix+"/!svn/wrk/{act}/*", s.handleDelete)
	r.MethodFunc("COPY", s.prefix+"/!svn/wrk/{act}/*", s.handleCopy)
	r.MethodFunc("MOVE", s.prefix+"/!svn/wrk/{act}/*", s.handleMove)
	r.MethodFunc("PROPPATCH", s.prefix+"/!svn/wrk/{act}/*", s.handleProppatch)
	r.MethodFunc("CHECKIN", s.prefix+"/!svn/wrk/{act}/*", s.handleCheckin)

	r.MethodFunc("MERGE", s.prefix+"/!svn/txn/{id}", s.handleMergeNativeTxn)
	r.MethodFunc("PUT", s.prefix+"/!svn/txr/{id}/*", s.handlePutNativeTxn)
	r.MethodFunc("MKCOL", s.prefix+"/!svn/txr/{id}/*", s.handleMkcolNativeTxn)
	r.MethodFunc("DELETE", s.prefix+"/!svn/txr/{id}/*", s.handleDeleteNativeTxn)

	r.MethodFunc("GET", s.prefix+"/*", s.handlePublicGet)
	r.MethodFunc("HEAD", s.prefix+"/*", s.handlePublicGet)
	r.MethodFunc("PROPFIND", s.prefix+"/*", s.handlePublicPropfind)
	r.MethodFunc("PROPPATCH", s.prefix+"/*", s.handleProppatchPublic)
	r.MethodFunc("REPORT", s.prefix+"/*", s.handleReport)
	r.MethodFunc("LOCK", s.prefix+"/*", s.handleLock)
	r.MethodFunc("UNLOCK", s.prefix+"/*", s.handleUnlock)

	return r
}

// Start runs the HTTP server at addr until Stop is called or it errors.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	log.Logger.Info().Str("addr", addr).Str("prefix", s.prefix).Msg("webdav server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webdav: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ActivityCount returns the number of activities currently open; the same
// count is published as the active-activities gauge after each sweep.
func (s *Server) ActivityCount() int {
	return s.activities.count()
}

// requestMetrics records per-method request counts and latency histograms
// for every WebDAV/DeltaV request this server handles.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := metrics.NewTimer()
		next.ServeHTTP(rw, r)
		metrics.WebDAVRequestDuration.WithLabelValues(r.Method).Observe(timer.Duration().Seconds())
		metrics.WebDAVRequestsTotal.WithLabelValues(r.Method, http.StatusText(rw.Status())).Inc()
	})
}

// relPath strips the mount prefix from a request path, returning the
// repository-relative path with a leading slash, normalized to "/" for the
// root itself.
func (s *Server) relPath(urlPath string) string {
	rel := strings.TrimPrefix(urlPath, s.prefix)
	if rel == "" {
		return "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if svnerr.Kindof(err) == svnerr.KindCorrupt {
		log.Logger.Error().Err(err).Bool("corrupt", true).Msg("corrupt object")
	}
	http.Error(w, err.Error(), status)
}

// lastPathSegment returns the final "/"-separated component of a URL path,
// used to pull an activity id out of an href a client sent us back.
func lastPathSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
