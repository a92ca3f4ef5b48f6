package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/justbri/shelfmark/models"
)

func (s *Server) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var in models.NewRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.Requests.Create(r.Context(), caller(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) ListRequests(w http.ResponseWriter, r *http.Request) {
	var f models.ListFilter
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.Status(v)
		f.Status = &st
	}

	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.Requests.List(r.Context(), caller(r), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if page.Requests == nil {
		page.Requests = []models.Request{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) RequestCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Requests.Counts(r.Context(), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) MarkViewed(w http.ResponseWriter, r *http.Request) {
	if err := s.Requests.MarkViewed(r.Context(), caller(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.Requests.Get(r.Context(), caller(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := s.Requests.Delete(r.Context(), caller(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "action": action})
}

type transitionFunc func(ctx context.Context, caller models.Identity, id int64) (*models.Request, error)

func (s *Server) runTransition(w http.ResponseWriter, r *http.Request, verb string, fn transitionFunc) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := fn(r.Context(), caller(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slog.Info("Request "+verb, "request_id", id, "by", caller(r).Username, "status", req.Status)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, "approved", s.Requests.Approve)
}

func (s *Server) DenyRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"admin_note"`
	}
	// The note is optional; an empty body is fine.
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runTransition(w, r, "denied", func(ctx context.Context, caller models.Identity, id int64) (*models.Request, error) {
		return s.Requests.Deny(ctx, caller, id, body.Note)
	})
}

func (s *Server) RetryRequest(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, "retried", s.Requests.Retry)
}

func (s *Server) CompleteRequest(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, "completed", s.Requests.Complete)
}

type statusReport struct {
	Status        models.Status `json:"status"`
	FailureReason string        `json:"failure_reason"`
	TaskID        string        `json:"download_task_id"`
}

// UpdateRequestStatus is the fetch pipeline's callback.
func (s *Server) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var report statusReport
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.Requests.ApplyExternalStatus(r.Context(), id, report.Status, report.FailureReason, report.TaskID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
