package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/format"
	sharedhttp "github.com/justbri/shelfmark/shared/http"
)

const (
	pushoverAPIURL       = "https://api.pushover.net/1/messages.json"
	pushoverMessageLimit = 1024
)

// PushoverNotifier pushes a message to the admin's devices for every new request.
type PushoverNotifier struct {
	apiURL   string
	userKey  string
	apiToken string
	client   *http.Client
}

func NewPushoverNotifier(userKey, apiToken string, client *http.Client) *PushoverNotifier {
	if client == nil {
		client = sharedhttp.DefaultClient
	}
	return &PushoverNotifier{
		apiURL:   pushoverAPIURL,
		userKey:  userKey,
		apiToken: apiToken,
		client:   client,
	}
}

func (p *PushoverNotifier) Name() string { return "pushover" }

func (p *PushoverNotifier) NotifyCreated(ctx context.Context, req *models.Request) error {
	label := "Ebook"
	if req.ContentType == models.ContentAudiobook {
		label = "Audiobook"
	}
	lines := []string{fmt.Sprintf("%s: %s", label, req.Title)}
	if req.Author != "" {
		lines = append(lines, "By "+req.Author)
	}
	if req.Username != "" {
		lines = append(lines, "Requested by "+req.Username)
	}

	values := url.Values{}
	values.Set("token", p.apiToken)
	values.Set("user", p.userKey)
	values.Set("title", "New Request")
	values.Set("message", format.Preview(strings.Join(lines, "\n"), pushoverMessageLimit))
	values.Set("priority", "0")

	resp, err := sharedhttp.PostForm(ctx, p.apiURL, values, p.client)
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	sharedhttp.DrainAndClose(resp)
	return nil
}

func (p *PushoverNotifier) NotifyStatusChanged(context.Context, *models.Request, models.Status) error {
	return nil
}
