// Package client talks to the request service over HTTP and keeps a local
// view of the caller's requests in step with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"

	"github.com/justbri/shelfmark/models"
	sharedhttp "github.com/justbri/shelfmark/shared/http"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode   int
	Message      string
	Code         string
	Field        string
	LibraryMatch *models.LibraryMatch
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a duplicate or already-owned rejection.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

type Page struct {
	Requests []models.Request `json:"requests"`
	Total    int              `json:"total"`
}

type Counts struct {
	ByStatus models.Counts `json:"by_status"`
	Total    int           `json:"total"`
	Unviewed *int          `json:"unviewed,omitempty"`
}

type CatalogCheck struct {
	Configured bool                 `json:"configured"`
	Owned      bool                 `json:"owned"`
	Match      *models.LibraryMatch `json:"match"`
}

// API is a session-holding client for the HTTP API. Cookies from Login are
// kept in a jar and reused by every call, including the events websocket.
type API struct {
	baseURL *url.URL
	http    *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) (*API, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	c := &http.Client{Timeout: 15 * time.Second}
	if httpClient != nil {
		copied := *httpClient
		c = &copied
	}
	c.Jar = jar
	return &API{baseURL: u, http: c}, nil
}

func (a *API) endpoint(path string) string {
	return a.baseURL.String() + path
}

// EventsURL is the websocket address of the event stream.
func (a *API) EventsURL() string {
	u := *a.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	return u.String()
}

// SessionHeader carries the session cookies for a websocket handshake.
func (a *API) SessionHeader() http.Header {
	h := http.Header{}
	for _, c := range a.http.Jar.Cookies(a.baseURL) {
		h.Add("Cookie", c.String())
	}
	return h
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(path), rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := sharedhttp.ReadResponseBody(resp)
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		sharedhttp.DrainAndClose(resp)
		return nil
	}
	return sharedhttp.DecodeJSONResponse(resp, out)
}

func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if !gjson.ValidBytes(raw) {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	body := gjson.ParseBytes(raw)
	apiErr.Message = body.Get("error").String()
	apiErr.Code = body.Get("code").String()
	apiErr.Field = body.Get("field").String()
	if m := body.Get("library_match"); m.Exists() {
		apiErr.LibraryMatch = &models.LibraryMatch{
			ID:     m.Get("id").String(),
			Title:  m.Get("title").String(),
			Author: m.Get("author").String(),
		}
	}
	return apiErr
}

func (a *API) Login(ctx context.Context, username, password string) (models.Identity, error) {
	var id models.Identity
	err := a.do(ctx, http.MethodPost, "/login", map[string]string{"username": username, "password": password}, &id)
	return id, err
}

func (a *API) Logout(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/logout", nil, nil)
}

func (a *API) Me(ctx context.Context) (models.Identity, error) {
	var id models.Identity
	err := a.do(ctx, http.MethodGet, "/me", nil, &id)
	return id, err
}

// ListRequests fetches one page of the caller's view. A nil status lists all.
func (a *API) ListRequests(ctx context.Context, status *models.Status, limit, offset int) (*Page, error) {
	params := map[string]string{}
	if status != nil {
		params["status"] = string(*status)
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if offset > 0 {
		params["offset"] = strconv.Itoa(offset)
	}
	var page Page
	if err := a.do(ctx, http.MethodGet, pathWithQuery("/requests", params), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *API) Counts(ctx context.Context) (*Counts, error) {
	var counts Counts
	if err := a.do(ctx, http.MethodGet, "/requests/counts", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

func (a *API) MarkViewed(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/requests/mark-viewed", nil, nil)
}

func (a *API) CreateRequest(ctx context.Context, in models.NewRequest) (*models.Request, error) {
	var req models.Request
	if err := a.do(ctx, http.MethodPost, "/requests", in, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (a *API) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	var req models.Request
	if err := a.do(ctx, http.MethodGet, requestPath(id, ""), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (a *API) transition(ctx context.Context, id int64, action string, body any) (*models.Request, error) {
	var req models.Request
	if err := a.do(ctx, http.MethodPost, requestPath(id, action), body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (a *API) Approve(ctx context.Context, id int64) (*models.Request, error) {
	return a.transition(ctx, id, "approve", nil)
}

func (a *API) Deny(ctx context.Context, id int64, note string) (*models.Request, error) {
	return a.transition(ctx, id, "deny", map[string]string{"admin_note": note})
}

func (a *API) Retry(ctx context.Context, id int64) (*models.Request, error) {
	return a.transition(ctx, id, "retry", nil)
}

func (a *API) Complete(ctx context.Context, id int64) (*models.Request, error) {
	return a.transition(ctx, id, "complete", nil)
}

func (a *API) DeleteRequest(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodDelete, requestPath(id, ""), nil, nil)
}

func (a *API) CheckCatalog(ctx context.Context, title, author string) (*CatalogCheck, error) {
	var out CatalogCheck
	path := pathWithQuery("/catalog/check", map[string]string{"title": title, "author": author})
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshCatalog forces a catalog refresh. A failed refresh is reported by
// the server as a zero count plus an error string, which is returned here as
// an error.
func (a *API) RefreshCatalog(ctx context.Context) (int, error) {
	var out struct {
		Count int    `json:"count"`
		Error string `json:"error"`
	}
	if err := a.do(ctx, http.MethodPost, "/catalog/refresh", nil, &out); err != nil {
		return 0, err
	}
	if out.Error != "" {
		return 0, errors.New(out.Error)
	}
	return out.Count, nil
}

func requestPath(id int64, action string) string {
	p := "/requests/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func pathWithQuery(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	return sharedhttp.BuildQueryURL(path, params)
}
