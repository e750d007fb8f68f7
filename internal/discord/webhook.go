package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"

	"omnic/internal/extract"
	"omnic/internal/poller"
)

const (
	// Colors for Discord embeds
	colorRed    = 15158332 // 0xE74C3C - for failures
	colorGreen  = 5763719  // 0x57F287 - for ingested matches
	colorYellow = 16705372 // 0xFEE75C - for rate limits
	colorBlue   = 3447003  // 0x3498DB - for start/stop

	// Default timeout for webhook requests
	defaultWebhookTimeout = 10 * time.Second

	// Max retries for rate limiting
	maxRetries = 3
)

var ErrNoWebhookURL = errors.New("discord webhook url is not set")

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewStartedPayload announces that polling began
func NewStartedPayload(event poller.Event) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: "▶️ Tracking Started",
				Color: colorBlue,
				Fields: []EmbedField{
					{Name: "Player", Value: event.Subject, Inline: true},
					{Name: "First Shard", Value: event.Shard, Inline: true},
				},
				Timestamp: timestamp(event.At),
			},
		},
	}
}

// NewStoppedPayload announces that polling stopped
func NewStoppedPayload(event poller.Event) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title:     "⏹️ Tracking Stopped",
				Color:     colorBlue,
				Fields:    []EmbedField{{Name: "Player", Value: event.Subject, Inline: true}},
				Timestamp: timestamp(event.At),
			},
		},
	}
}

// NewRateLimitedPayload reports a 429 and when polling resumes
func NewRateLimitedPayload(event poller.Event) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: "⏳ Rate Limited",
				Color: colorYellow,
				Fields: []EmbedField{
					{Name: "Shard", Value: event.Shard, Inline: true},
					{Name: "Resumes", Value: humanize.RelTime(event.ResetAt, event.At, "ago", "from now"), Inline: true},
				},
				Timestamp: timestamp(event.At),
			},
		},
	}
}

// NewIngestedPayload reports a new result
func NewIngestedPayload(event poller.Event) WebhookPayload {
	r := event.Result
	if r == nil {
		r = &extract.Result{}
	}

	embed := Embed{
		Title:     "🏁 Match Recorded",
		Color:     colorGreen,
		Fields:    resultFields(r),
		Footer:    &EmbedFooter{Text: "Match " + r.MatchID},
		Timestamp: timestamp(event.At),
	}
	if !r.TelemetryAvailable {
		embed.Description = "Telemetry was unavailable, rank and kills are unknown."
	}

	return WebhookPayload{Embeds: []Embed{embed}}
}

// NewSinkFailedPayload reports a result that could not be stored. The match
// will not be retried, so it mentions the channel.
func NewSinkFailedPayload(event poller.Event) WebhookPayload {
	r := event.Result
	if r == nil {
		r = &extract.Result{}
	}

	description := "unknown error"
	if event.Err != nil {
		description = event.Err.Error()
	}

	return WebhookPayload{
		Content: "@here Result write failed!",
		Embeds: []Embed{
			{
				Title:       "❌ Result Not Stored",
				Description: description,
				Color:       colorRed,
				Fields:      resultFields(r),
				Footer:      &EmbedFooter{Text: "Match " + r.MatchID + " will not be retried"},
				Timestamp:   timestamp(event.At),
			},
		},
	}
}

func resultFields(r *extract.Result) []EmbedField {
	kills := "unknown"
	if k, ok := r.Kills.Value(); ok {
		kills = humanize.Comma(int64(k))
	}

	rank := "unknown"
	if v, ok := r.Rank.Value(); ok {
		rank = humanize.Ordinal(v)
	}

	return []EmbedField{
		{Name: "Rank", Value: rank, Inline: true},
		{Name: "Kills", Value: kills, Inline: true},
		{Name: "Mode", Value: orDash(r.GameMode), Inline: true},
		{Name: "Series", Value: strconv.FormatInt(r.Series, 10), Inline: true},
		{Name: "Shard", Value: orDash(r.Shard), Inline: true},
	}
}

// PayloadFor builds the message for an event
func PayloadFor(event poller.Event) (WebhookPayload, bool) {
	switch event.Kind {
	case poller.EventStarted:
		return NewStartedPayload(event), true
	case poller.EventStopped:
		return NewStoppedPayload(event), true
	case poller.EventRateLimited:
		return NewRateLimitedPayload(event), true
	case poller.EventIngested:
		return NewIngestedPayload(event), true
	case poller.EventSinkFailed:
		return NewSinkFailedPayload(event), true
	default:
		return WebhookPayload{}, false
	}
}

// WebhookClient sends notifications to Discord webhooks
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
	// skip lists event kinds that are not sent
	skip map[poller.EventKind]bool
}

// Option configures a WebhookClient
type Option func(*WebhookClient)

// WithoutEvents suppresses notifications for the given kinds
func WithoutEvents(kinds ...poller.EventKind) Option {
	return func(c *WebhookClient) {
		for _, k := range kinds {
			c.skip[k] = true
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *WebhookClient) {
		c.httpClient = hc
	}
}

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string, opts ...Option) (*WebhookClient, error) {
	if webhookURL == "" {
		return nil, ErrNoWebhookURL
	}

	c := &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
		skip: map[poller.EventKind]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Notify sends the message for event
func (c *WebhookClient) Notify(ctx context.Context, event poller.Event) error {
	if c.skip[event.Kind] {
		return nil
	}

	payload, ok := PayloadFor(event)
	if !ok {
		return nil
	}

	return c.sendPayload(ctx, payload)
}

// sendPayload sends a webhook payload with retry on rate limiting
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := time.Second
			if seconds, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil {
				waitDuration = time.Duration(seconds * float64(time.Second))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
