package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbri/shelfmark/models"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "shelfmark-session", Value: "abc", Path: "/"})
		json.NewEncoder(w).Encode(models.Identity{UserID: 1, Username: "alice"})
	})
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("shelfmark-session"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		json.NewEncoder(w).Encode(models.Identity{UserID: 1, Username: "alice"})
	})
	mux.HandleFunc("GET /requests", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "denied", r.URL.Query().Get("status"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(Page{Requests: []models.Request{{ID: 7, Title: "Dune", Status: models.StatusDenied}}, Total: 1})
	})
	mux.HandleFunc("POST /requests", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"already in library: The Hobbit","code":"already_owned","library_match":{"id":"li_1","title":"The Hobbit","author":"J.R.R. Tolkien"}}`))
	})
	mux.HandleFunc("POST /requests/7/deny", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(models.Request{ID: 7, Status: models.StatusDenied, AdminNote: body["admin_note"]})
	})
	mux.HandleFunc("DELETE /requests/7", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":7,"action":"deleted"}`))
	})
	mux.HandleFunc("POST /catalog/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0,"error":"library catalog is unavailable: timeout"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPI_SessionCookie(t *testing.T) {
	srv := newFakeServer(t)
	api, err := NewAPI(srv.URL+"/", nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = api.Me(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "authentication required", apiErr.Message)

	id, err := api.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	id, err = api.Me(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id.UserID)
	assert.Contains(t, api.SessionHeader().Get("Cookie"), "shelfmark-session=abc")
}

func TestAPI_Calls(t *testing.T) {
	srv := newFakeServer(t)
	api, err := NewAPI(srv.URL, nil)
	require.NoError(t, err)
	ctx := context.Background()

	denied := models.StatusDenied
	page, err := api.ListRequests(ctx, &denied, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	assert.Equal(t, "Dune", page.Requests[0].Title)

	req, err := api.Deny(ctx, 7, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, "out of stock", req.AdminNote)

	require.NoError(t, api.DeleteRequest(ctx, 7))

	_, err = api.CreateRequest(ctx, models.NewRequest{Title: "The Hobbit", ContentType: models.ContentAudiobook})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "already_owned", apiErr.Code)
	require.NotNil(t, apiErr.LibraryMatch)
	assert.Equal(t, "The Hobbit", apiErr.LibraryMatch.Title)

	n, err := api.RefreshCatalog(ctx)
	assert.Zero(t, n)
	assert.EqualError(t, err, "library catalog is unavailable: timeout")
}

func TestAPI_EventsURL(t *testing.T) {
	api, err := NewAPI("https://books.example.com/app", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://books.example.com/app/events", api.EventsURL())

	api, err = NewAPI("http://localhost:8084", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8084/events", api.EventsURL())

	_, err = NewAPI("ftp://example.com", nil)
	assert.Error(t, err)
}
