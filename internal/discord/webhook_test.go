package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"omnic/internal/extract"
	"omnic/internal/poller"
)

var eventTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testResult() *extract.Result {
	return &extract.Result{
		Series:             4,
		MatchID:            "a1b2",
		Shard:              "pc-krjp",
		Subject:            "Funzinnu",
		Rank:               extract.KnownRank(16),
		Kills:              extract.KnownKills(1234),
		GameMode:           "squad-fpp",
		TelemetryAvailable: true,
	}
}

// TestIngestedPayload_Format tests that the ingested payload renders rank and kills
func TestIngestedPayload_Format(t *testing.T) {
	payload := NewIngestedPayload(poller.Event{Kind: poller.EventIngested, Result: testResult(), At: eventTime})

	if payload.Content != "" {
		t.Errorf("Expected no mention for ingested match, got: %s", payload.Content)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("Expected 1 embed, got %d", len(payload.Embeds))
	}

	embed := payload.Embeds[0]
	if embed.Color != colorGreen {
		t.Errorf("Expected green color (%d), got: %d", colorGreen, embed.Color)
	}
	if embed.Timestamp != "2024-05-01T10:00:00Z" {
		t.Errorf("Unexpected timestamp: %s", embed.Timestamp)
	}

	want := map[string]string{
		"Rank":   "16th",
		"Kills":  "1,234",
		"Mode":   "squad-fpp",
		"Series": "4",
		"Shard":  "pc-krjp",
	}
	for _, f := range embed.Fields {
		if w, ok := want[f.Name]; ok && f.Value != w {
			t.Errorf("Field %s: expected %q, got %q", f.Name, w, f.Value)
		}
	}
	if embed.Footer == nil || !strings.Contains(embed.Footer.Text, "a1b2") {
		t.Error("Expected footer to name the match")
	}
}

func TestIngestedPayload_UnknownValues(t *testing.T) {
	r := testResult()
	r.Rank = extract.UnknownRank()
	r.Kills = extract.UnknownKills()
	r.TelemetryAvailable = false

	embed := NewIngestedPayload(poller.Event{Result: r}).Embeds[0]

	if embed.Fields[0].Value != "unknown" || embed.Fields[1].Value != "unknown" {
		t.Errorf("Expected unknown rank and kills, got %q and %q", embed.Fields[0].Value, embed.Fields[1].Value)
	}
	if embed.Description == "" {
		t.Error("Expected a description when telemetry was unavailable")
	}
	if embed.Timestamp != "" {
		t.Errorf("Expected no timestamp for zero time, got %s", embed.Timestamp)
	}
}

func TestSinkFailedPayload_Format(t *testing.T) {
	payload := NewSinkFailedPayload(poller.Event{
		Kind:   poller.EventSinkFailed,
		Result: testResult(),
		Err:    errors.New("sink postgres: connection refused"),
	})

	if !strings.Contains(payload.Content, "@here") {
		t.Error("Expected @here mention in content")
	}
	embed := payload.Embeds[0]
	if embed.Color != colorRed {
		t.Errorf("Expected red color (%d), got: %d", colorRed, embed.Color)
	}
	if !strings.Contains(embed.Description, "connection refused") {
		t.Errorf("Expected error in description, got: %s", embed.Description)
	}
}

func TestRateLimitedPayload_Format(t *testing.T) {
	payload := NewRateLimitedPayload(poller.Event{
		Kind:    poller.EventRateLimited,
		Shard:   "pc-eu",
		At:      eventTime,
		ResetAt: eventTime.Add(30 * time.Second),
	})

	embed := payload.Embeds[0]
	if embed.Color != colorYellow {
		t.Errorf("Expected yellow color, got: %d", embed.Color)
	}
	if embed.Fields[1].Value != "30 seconds from now" {
		t.Errorf("Expected '30 seconds from now', got: %s", embed.Fields[1].Value)
	}
}

func TestPayloadFor(t *testing.T) {
	kinds := []poller.EventKind{
		poller.EventStarted, poller.EventStopped, poller.EventRateLimited,
		poller.EventIngested, poller.EventSinkFailed,
	}
	for _, k := range kinds {
		if _, ok := PayloadFor(poller.Event{Kind: k}); !ok {
			t.Errorf("Expected a payload for %s", k)
		}
	}
	if _, ok := PayloadFor(poller.Event{Kind: poller.EventKind(99)}); ok {
		t.Error("Expected no payload for an unknown kind")
	}
}

func TestNewWebhookClient_RequiresURL(t *testing.T) {
	if _, err := NewWebhookClient(""); !errors.Is(err, ErrNoWebhookURL) {
		t.Errorf("Expected ErrNoWebhookURL, got %v", err)
	}
}

// TestNotify_SendsJSON tests that Notify posts the embed as JSON
func TestNotify_SendsJSON(t *testing.T) {
	var received WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewWebhookClient(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookClient failed: %v", err)
	}

	err = client.Notify(context.Background(), poller.Event{Kind: poller.EventStarted, Subject: "Funzinnu", Shard: "pc-oc"})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(received.Embeds) != 1 || received.Embeds[0].Fields[0].Value != "Funzinnu" {
		t.Errorf("Unexpected payload: %+v", received)
	}
}

// TestNotify_RetriesOnRateLimit tests that a 429 is retried after Retry-After
func TestNotify_RetriesOnRateLimit(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, _ := NewWebhookClient(server.URL)
	if err := client.Notify(context.Background(), poller.Event{Kind: poller.EventStopped}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
}

func TestNotify_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := NewWebhookClient(server.URL)
	err := client.Notify(context.Background(), poller.Event{Kind: poller.EventStopped})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("Expected status 400 error, got %v", err)
	}
}

func TestNotify_SkippedEvents(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, _ := NewWebhookClient(server.URL, WithoutEvents(poller.EventIngested))
	if err := client.Notify(context.Background(), poller.Event{Kind: poller.EventIngested, Result: testResult()}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if attempts.Load() != 0 {
		t.Errorf("Expected skipped event not to be sent, got %d requests", attempts.Load())
	}
}

// Compile time check that the client satisfies the tracker's notifier
var _ poller.Notifier = (*WebhookClient)(nil)
