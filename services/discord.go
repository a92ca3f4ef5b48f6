package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/format"
	sharedhttp "github.com/justbri/shelfmark/shared/http"
)

const (
	discordColorNewRequest = 0x5865F2
	discordColorAvailable  = 0x57F287

	// Discord rejects embeds whose field values exceed this many characters.
	discordFieldLimit = 1024
)

var discordWebhookPrefixes = []string{
	"https://discord.com/api/webhooks/",
	"https://discordapp.com/api/webhooks/",
}

// ValidDiscordWebhookURL reports whether url points at a Discord webhook.
func ValidDiscordWebhookURL(url string) bool {
	for _, p := range discordWebhookPrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordThumbnail struct {
	URL string `json:"url"`
}

type discordEmbed struct {
	Title     string            `json:"title"`
	Color     int               `json:"color"`
	Fields    []discordField    `json:"fields"`
	Thumbnail *discordThumbnail `json:"thumbnail,omitempty"`
}

// DiscordNotifier posts embeds to a channel webhook when a request is created
// and when a requested book becomes available.
type DiscordNotifier struct {
	webhookURL      string
	notifyNew       bool
	notifyAvailable bool
	client          *http.Client
}

func NewDiscordNotifier(webhookURL string, notifyNew, notifyAvailable bool, client *http.Client) *DiscordNotifier {
	if client == nil {
		client = sharedhttp.DefaultClient
	}
	return &DiscordNotifier{
		webhookURL:      webhookURL,
		notifyNew:       notifyNew,
		notifyAvailable: notifyAvailable,
		client:          client,
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) NotifyCreated(ctx context.Context, req *models.Request) error {
	if !d.notifyNew {
		return nil
	}

	fields := []discordField{{Name: "Title", Value: format.Preview(req.Title, discordFieldLimit), Inline: true}}
	if req.Author != "" {
		fields = append(fields, discordField{Name: "Author", Value: format.Preview(req.Author, discordFieldLimit), Inline: true})
	}
	fields = append(fields, discordField{Name: "Type", Value: string(req.ContentType), Inline: true})
	if req.Username != "" {
		fields = append(fields, discordField{Name: "Requested by", Value: req.Username, Inline: true})
	}

	return d.post(ctx, discordEmbed{
		Title:     "🔖 New Book Request",
		Color:     discordColorNewRequest,
		Fields:    fields,
		Thumbnail: discordCover(req.CoverURL),
	})
}

func (d *DiscordNotifier) NotifyStatusChanged(ctx context.Context, req *models.Request, previous models.Status) error {
	if !d.notifyAvailable || req.Status != models.StatusFulfilled {
		return nil
	}

	fields := []discordField{{Name: "Title", Value: format.Preview(req.Title, discordFieldLimit), Inline: true}}
	if req.Author != "" {
		fields = append(fields, discordField{Name: "Author", Value: format.Preview(req.Author, discordFieldLimit), Inline: true})
	}
	if req.Username != "" {
		fields = append(fields, discordField{Name: "Requested by", Value: req.Username, Inline: true})
	}

	return d.post(ctx, discordEmbed{
		Title:     "📗 Book Now Available",
		Color:     discordColorAvailable,
		Fields:    fields,
		Thumbnail: discordCover(req.CoverURL),
	})
}

func discordCover(coverURL string) *discordThumbnail {
	if strings.HasPrefix(coverURL, "http://") || strings.HasPrefix(coverURL, "https://") {
		return &discordThumbnail{URL: coverURL}
	}
	return nil
}

func (d *DiscordNotifier) post(ctx context.Context, embed discordEmbed) error {
	payload := map[string]any{"embeds": []discordEmbed{embed}}
	resp, err := sharedhttp.PostJSON(ctx, d.webhookURL, payload, nil, d.client)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	sharedhttp.DrainAndClose(resp)
	return nil
}
