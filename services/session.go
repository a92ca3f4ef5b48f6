package services

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/sessions"
)

const (
	sessionName      = "shelfmark-session"
	sessionUserIDKey = "user_id"
)

// SessionStore wraps the signed cookie store that carries the logged-in user id.
type SessionStore struct {
	store *sessions.CookieStore
}

func NewSessionStore(secret string, secure bool) *SessionStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}
}

func (s *SessionStore) get(r *http.Request) (*sessions.Session, error) {
	return s.store.Get(r, sessionName)
}

// Login stores userID in the session cookie.
func (s *SessionStore) Login(w http.ResponseWriter, r *http.Request, userID int64) error {
	session, err := s.get(r)
	if err != nil && session == nil {
		return err
	}
	session.Values[sessionUserIDKey] = userID
	return session.Save(r, w)
}

// Logout expires the session cookie.
func (s *SessionStore) Logout(w http.ResponseWriter, r *http.Request) error {
	session, err := s.get(r)
	if err != nil && session == nil {
		return err
	}
	delete(session.Values, sessionUserIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// UserID returns the logged-in user id, or ErrUnauthorized.
func (s *SessionStore) UserID(r *http.Request) (int64, error) {
	session, err := s.get(r)
	if err != nil {
		return 0, ErrUnauthorized
	}
	id, err := parseUserID(session.Values[sessionUserIDKey])
	if err != nil {
		return 0, ErrUnauthorized
	}
	return id, nil
}

// parseUserID converts the stored session value to int64
func parseUserID(userID interface{}) (int64, error) {
	switch v := userID.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, errors.New("no user in session")
	default:
		return 0, strconv.ErrSyntax
	}
}
