package webdav

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// revFromRequest parses the {rev} chi URL param shared by the baseline,
// baseline-collection and versioned-resource routes.
func revFromRequest(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "rev"), 10, 64)
}

func (s *Server) handleVersionedGet(w http.ResponseWriter, r *http.Request) {
	rev, err := revFromRequest(r)
	if err != nil {
		http.Error(w, "bad revision", http.StatusBadRequest)
		return
	}
	path := "/" + chi.URLParam(r, "*")
	s.serveBlob(w, r, rev, path)
}

func (s *Server) handleVersionedPropfind(w http.ResponseWriter, r *http.Request) {
	rev, err := revFromRequest(r)
	if err != nil {
		http.Error(w, "bad revision", http.StatusBadRequest)
		return
	}
	path := "/" + chi.URLParam(r, "*")
	href := s.prefix + "/!svn/ver/" + chi.URLParam(r, "rev") + "/" + chi.URLParam(r, "*")
	s.respondPathProps(w, r, rev, path, href)
}

func (s *Server) handleBaselinePropfind(w http.ResponseWriter, r *http.Request) {
	rev, err := revFromRequest(r)
	if err != nil {
		http.Error(w, "bad revision", http.StatusBadRequest)
		return
	}
	href := s.prefix + "/!svn/bln/" + chi.URLParam(r, "rev")
	s.respondPathProps(w, r, rev, "/", href)
}
