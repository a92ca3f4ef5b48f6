package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/justbri/shelfmark/middleware"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// readCredentials accepts a JSON body or a regular form post.
func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := decodeJSON(r, &c)
		return c, err
	}
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username = r.FormValue("username")
	c.Password = r.FormValue("password")
	c.Email = r.FormValue("email")
	return c, nil
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.Auth.Authenticate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		slog.Info("Failed login", "username", creds.Username, "remote_addr", r.RemoteAddr)
		writeServiceError(w, r, err)
		return
	}

	if err := s.Sessions.Login(w, r, user.ID); err != nil {
		slog.Error("Failed to save session", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, user.Identity())
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if id, ok := middleware.IdentityFrom(r.Context()); ok {
		s.Authn.Forget(id.UserID)
	}
	if err := s.Sessions.Logout(w, r); err != nil {
		slog.Warn("Failed to clear session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.Auth.Register(r.Context(), creds.Username, creds.Email, creds.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slog.Info("User registered", "user_id", user.ID, "username", user.Username)

	if err := s.Sessions.Login(w, r, user.ID); err != nil {
		slog.Error("Failed to save session", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, user.Identity())
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, caller(r))
}
