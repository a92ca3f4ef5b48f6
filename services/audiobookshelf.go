package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	sharedhttp "github.com/justbri/shelfmark/shared/http"
)

// CatalogLibrary is one library on the Audiobookshelf server.
type CatalogLibrary struct {
	ID        string
	Name      string
	MediaType string
}

// CatalogItem is a library item as listed by the catalog.
type CatalogItem struct {
	ID     string
	Title  string
	Author string
}

// CatalogSource lists the contents of an external library.
type CatalogSource interface {
	ListLibraries(ctx context.Context) ([]CatalogLibrary, error)
	ListItems(ctx context.Context, libraryID string) ([]CatalogItem, error)
}

// AudiobookshelfClient talks to the Audiobookshelf REST API with an API token.
type AudiobookshelfClient struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
}

func NewAudiobookshelfClient(baseURL, token string, pageSize int, client *http.Client) *AudiobookshelfClient {
	if pageSize <= 0 {
		pageSize = 500
	}
	if client == nil {
		client = sharedhttp.LongTimeoutClient
	}
	return &AudiobookshelfClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		pageSize: pageSize,
		client:   client,
	}
}

func (c *AudiobookshelfClient) get(ctx context.Context, apiURL string) (gjson.Result, error) {
	resp, err := sharedhttp.MakeRequest(ctx, apiURL, c.token, c.client)
	if err != nil {
		return gjson.Result{}, err
	}
	body, err := sharedhttp.ReadResponseBody(resp)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON from %s", apiURL)
	}
	return gjson.ParseBytes(body), nil
}

func (c *AudiobookshelfClient) ListLibraries(ctx context.Context) ([]CatalogLibrary, error) {
	doc, err := c.get(ctx, c.baseURL+"/api/libraries")
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}

	var libraries []CatalogLibrary
	doc.Get("libraries").ForEach(func(_, lib gjson.Result) bool {
		libraries = append(libraries, CatalogLibrary{
			ID:        lib.Get("id").String(),
			Name:      lib.Get("name").String(),
			MediaType: lib.Get("mediaType").String(),
		})
		return true
	})
	return libraries, nil
}

// ListItems pages through a library's items. Items without a title are skipped.
func (c *AudiobookshelfClient) ListItems(ctx context.Context, libraryID string) ([]CatalogItem, error) {
	var items []CatalogItem
	seen := 0
	for page := 0; ; page++ {
		apiURL := sharedhttp.BuildQueryURL(
			fmt.Sprintf("%s/api/libraries/%s/items", c.baseURL, url.PathEscape(libraryID)),
			map[string]string{
				"minified": "1",
				"limit":    strconv.Itoa(c.pageSize),
				"page":     strconv.Itoa(page),
			},
		)
		doc, err := c.get(ctx, apiURL)
		if err != nil {
			return nil, fmt.Errorf("list items of library %s: %w", libraryID, err)
		}

		results := doc.Get("results").Array()
		for _, item := range results {
			title := strings.TrimSpace(item.Get("media.metadata.title").String())
			if title == "" {
				continue
			}
			items = append(items, CatalogItem{
				ID:     item.Get("id").String(),
				Title:  title,
				Author: strings.TrimSpace(item.Get("media.metadata.authorName").String()),
			})
		}
		seen += len(results)

		if len(results) == 0 || len(results) < c.pageSize {
			return items, nil
		}
		// Without a total, keep paging until a short page.
		if total := doc.Get("total"); total.Exists() && seen >= int(total.Int()) {
			return items, nil
		}
	}
}
