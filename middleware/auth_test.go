package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbri/shelfmark/models"
)

// headerSessions reads the user id from a test header instead of a cookie.
type headerSessions struct{}

func (headerSessions) UserID(r *http.Request) (int64, error) {
	v := r.Header.Get("X-Test-User")
	if v == "" {
		return 0, errors.New("no session")
	}
	return strconv.ParseInt(v, 10, 64)
}

type countingResolver struct {
	users map[int64]models.Identity
	calls int
}

func (c *countingResolver) Identity(_ context.Context, userID int64) (models.Identity, error) {
	c.calls++
	id, ok := c.users[userID]
	if !ok {
		return models.Identity{}, errors.New("gone")
	}
	return id, nil
}

func newTestAuth() (*Auth, *countingResolver) {
	res := &countingResolver{users: map[int64]models.Identity{
		1: {UserID: 1, Username: "alice"},
		2: {UserID: 2, Username: "root", IsAdmin: true},
	}}
	return NewAuth(headerSessions{}, res, "pipe-secret"), res
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	w.Write([]byte(id.Username))
})

func serve(h http.Handler, user string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	auth, res := newTestAuth()
	h := auth.Identify(RequireAuth(okHandler))

	rec := serve(h, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	rec = serve(h, "1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	serve(h, "1", nil)
	assert.Equal(t, 1, res.calls, "identity should be cached")

	auth.Forget(1)
	serve(h, "1", nil)
	assert.Equal(t, 2, res.calls)

	rec = serve(h, "99", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	auth, _ := newTestAuth()
	h := auth.Identify(RequireAdmin(okHandler))

	assert.Equal(t, http.StatusUnauthorized, serve(h, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "1", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, "2", nil).Code)
}

func TestRequirePipelineToken(t *testing.T) {
	auth, _ := newTestAuth()
	h := auth.RequirePipelineToken(okHandler)

	assert.Equal(t, http.StatusUnauthorized, serve(h, "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "", func(r *http.Request) {
		r.Header.Set(PipelineTokenHeader, "wrong")
	}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "", func(r *http.Request) {
		r.Header.Set(PipelineTokenHeader, "pipe-secret")
	}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer pipe-secret")
	}).Code)

	closed := NewAuth(headerSessions{}, &countingResolver{}, "")
	assert.Equal(t, http.StatusUnauthorized, serve(closed.RequirePipelineToken(okHandler), "", func(r *http.Request) {
		r.Header.Set(PipelineTokenHeader, "")
	}).Code)
}
