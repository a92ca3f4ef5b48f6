package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/justbri/shelfmark/middleware"
	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/services"
	sharedmw "github.com/justbri/shelfmark/shared/middleware"
)

type errorBody struct {
	Error        string               `json:"error"`
	Field        string               `json:"field,omitempty"`
	Code         string               `json:"code,omitempty"`
	LibraryMatch *models.LibraryMatch `json:"library_match,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeServiceError maps lifecycle errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *services.ValidationError
		terr  *services.InvalidTransitionError
		owned *services.AlreadyOwnedError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &owned):
		match := owned.Match.Summary()
		writeJSON(w, http.StatusConflict, errorBody{Error: owned.Error(), Code: "already_owned", LibraryMatch: &match})
	case errors.Is(err, services.ErrDuplicateActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "duplicate_active"})
	case errors.As(err, &terr):
		slog.Warn("Rejected transition", "request_id", terr.RequestID, "status", terr.Current, "transition", terr.Transition, "path", r.URL.Path)
		writeError(w, http.StatusBadRequest, terr.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "request_id", sharedmw.RequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// parseID reads the {id} route parameter.
func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid request id")
	}
	return id, nil
}

// caller returns the identity attached by the auth middleware. Routes that
// call it sit behind RequireAuth.
func caller(r *http.Request) models.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key + " parameter")
	}
	return n, nil
}
