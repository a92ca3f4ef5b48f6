package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRequestSendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := MakeRequest(context.Background(), srv.URL, "secret", nil)
	require.NoError(t, err)

	var out struct{ OK bool }
	require.NoError(t, DecodeJSONResponse(resp, &out))
	assert.True(t, out.OK)
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := PostForm(context.Background(), srv.URL, url.Values{"a": {"b"}}, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "nope", statusErr.Body)
}

func TestBuildQueryURL(t *testing.T) {
	got := BuildQueryURL("http://abs:13378/api/libraries/x/items", map[string]string{"limit": "50", "page": "2"})
	assert.Equal(t, "http://abs:13378/api/libraries/x/items?limit=50&page=2", got)
}
