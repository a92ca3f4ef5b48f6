package handlers

import (
	"net/http"
	"strings"

	"github.com/justbri/shelfmark/models"
)

type catalogCheckResponse struct {
	Configured bool                 `json:"configured"`
	Owned      bool                 `json:"owned"`
	Match      *models.LibraryMatch `json:"match"`
}

// CatalogCheck tells the UI whether an audiobook is already in the library
// before the user submits a request for it.
func (s *Server) CatalogCheck(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "missing title parameter")
		return
	}
	author := strings.TrimSpace(r.URL.Query().Get("author"))

	resp := catalogCheckResponse{Configured: s.Library.IsConfigured()}
	if match := s.Library.FindMatch(r.Context(), title, author); match != nil {
		summary := match.Summary()
		resp.Owned = true
		resp.Match = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// CatalogRefresh forces a refresh. Failures are reported in the body, not the
// status code.
func (s *Server) CatalogRefresh(w http.ResponseWriter, r *http.Request) {
	count, err := s.Library.Refresh(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, refreshResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Count: count})
}

func (s *Server) CatalogStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Library.Stats())
}
