package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/justbri/shelfmark/models"
	sharedhttp "github.com/justbri/shelfmark/shared/http"
)

var ErrNoProviderInfo = errors.New("no metadata provider info")

// Dispatcher hands an approved request to the fetch pipeline and returns the
// pipeline's task id. The pipeline later reports progress through the status
// endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.Request) (string, error)
}

// HTTPDispatcher queues requests on a downloader service over HTTP.
type HTTPDispatcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPDispatcher(baseURL, token string, client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = sharedhttp.LongTimeoutClient
	}
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type queuePayload struct {
	RequestID      int64    `json:"request_id"`
	Title          string   `json:"title"`
	Author         string   `json:"author,omitempty"`
	ContentType    string   `json:"content_type"`
	Year           string   `json:"year,omitempty"`
	Provider       string   `json:"provider"`
	ProviderID     string   `json:"provider_id"`
	ISBN10         string   `json:"isbn_10,omitempty"`
	ISBN13         string   `json:"isbn_13,omitempty"`
	SeriesName     string   `json:"series_name,omitempty"`
	SeriesPosition *float64 `json:"series_position,omitempty"`
	CoverURL       string   `json:"preview,omitempty"`
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *models.Request) (string, error) {
	if req.Provider == "" || req.ProviderID == "" {
		return "", ErrNoProviderInfo
	}

	payload := queuePayload{
		RequestID:      req.ID,
		Title:          req.Title,
		Author:         req.Author,
		ContentType:    string(req.ContentType),
		Year:           req.Year,
		Provider:       req.Provider,
		ProviderID:     req.ProviderID,
		ISBN10:         req.ISBN10,
		ISBN13:         req.ISBN13,
		SeriesName:     req.SeriesName,
		SeriesPosition: req.SeriesPosition,
		CoverURL:       req.CoverURL,
	}
	headers := map[string]string{}
	if d.token != "" {
		headers["Authorization"] = "Bearer " + d.token
	}

	resp, err := sharedhttp.PostJSON(ctx, d.baseURL+"/api/queue", payload, headers, d.client)
	if err != nil {
		return "", fmt.Errorf("queue request %d: %w", req.ID, err)
	}
	body, err := sharedhttp.ReadResponseBody(resp)
	if err != nil {
		return "", fmt.Errorf("queue request %d: %w", req.ID, err)
	}

	result := gjson.ParseBytes(body)
	if msg := result.Get("error").String(); msg != "" {
		return "", fmt.Errorf("queue request %d: %s", req.ID, msg)
	}
	return result.Get("task_id").String(), nil
}

// dispatchSlots ensures a request is handed to the pipeline at most once at a time.
type dispatchSlots struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func newDispatchSlots() *dispatchSlots {
	return &dispatchSlots{active: make(map[int64]struct{})}
}

func (s *dispatchSlots) acquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *dispatchSlots) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

func (s *dispatchSlots) busy(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}
