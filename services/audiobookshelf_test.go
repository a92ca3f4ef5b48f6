package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newABSServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	return newABSServerTotal(t, total, true)
}

// newABSServerTotal serves total items; reportTotal controls whether pages
// carry the "total" field.
func newABSServerTotal(t *testing.T, total int, reportTotal bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/libraries", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"libraries":[{"id":"lib1","name":"Books","mediaType":"book"},{"id":"lib2","name":"Pods","mediaType":"podcast"}]}`)
	})
	mux.HandleFunc("/api/libraries/lib1/items", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		assert.Equal(t, "1", r.URL.Query().Get("minified"))

		start := page * limit
		fmt.Fprint(w, `{"results":[`)
		for i := start; i < start+limit && i < total; i++ {
			if i > start {
				fmt.Fprint(w, ",")
			}
			if i == 0 {
				fmt.Fprint(w, `{"id":"li_0","media":{"metadata":{"title":""}}}`)
				continue
			}
			fmt.Fprintf(w, `{"id":"li_%d","media":{"metadata":{"title":"Book %d","authorName":"Author %d"}}}`, i, i, i)
		}
		if reportTotal {
			fmt.Fprintf(w, `],"total":%d,"limit":%d,"page":%d}`, total, limit, page)
			return
		}
		fmt.Fprintf(w, `],"limit":%d,"page":%d}`, limit, page)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAudiobookshelfClient_Pagination(t *testing.T) {
	srv := newABSServer(t, 7)
	client := NewAudiobookshelfClient(srv.URL+"/", "secret", 3, nil)

	libs, err := client.ListLibraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libs, 2)
	assert.Equal(t, "book", libs[0].MediaType)

	items, err := client.ListItems(context.Background(), "lib1")
	require.NoError(t, err)
	require.Len(t, items, 6, "untitled items are skipped")
	assert.Equal(t, CatalogItem{ID: "li_1", Title: "Book 1", Author: "Author 1"}, items[0])
	assert.Equal(t, "Book 6", items[5].Title)
}

func TestAudiobookshelfClient_PaginationWithoutTotal(t *testing.T) {
	srv := newABSServerTotal(t, 4, false)
	client := NewAudiobookshelfClient(srv.URL, "secret", 2, nil)

	items, err := client.ListItems(context.Background(), "lib1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Book 3", items[2].Title)
}

func TestAudiobookshelfClient_Errors(t *testing.T) {
	srv := newABSServer(t, 1)

	client := NewAudiobookshelfClient(srv.URL, "wrong", 10, nil)
	_, err := client.ListLibraries(context.Background())
	assert.Error(t, err)

	client = NewAudiobookshelfClient(srv.URL, "secret", 10, nil)
	_, err = client.ListItems(context.Background(), "missing")
	assert.Error(t, err)
}

func TestAudiobookshelfClient_FeedsLibraryCache(t *testing.T) {
	srv := newABSServer(t, 4)
	cache := NewLibraryCache(NewAudiobookshelfClient(srv.URL, "secret", 2, nil), LibraryCacheConfig{}, nil)

	n, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	m := cache.FindMatch(context.Background(), "Book 2", "Author 2")
	require.NotNil(t, m)
	assert.Equal(t, "li_2", m.ID)
}
