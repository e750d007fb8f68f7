// Package twitch keeps the stream-status webhook subscription alive.
package twitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultBaseURL is the Helix API host
	DefaultBaseURL = "https://api.twitch.tv"

	// DefaultLease is how long one subscription lasts before renewal
	DefaultLease = 24 * time.Hour

	defaultTimeout = 10 * time.Second
)

var (
	ErrMissingClientID = errors.New("twitch client id is not set")
	ErrUserNotFound    = errors.New("twitch user not found")
)

// SubscribeRequest is the hub subscription body
type SubscribeRequest struct {
	Callback     string `json:"hub.callback"`
	Mode         string `json:"hub.mode"`
	Topic        string `json:"hub.topic"`
	LeaseSeconds int    `json:"hub.lease_seconds"`
	Secret       string `json:"hub.secret,omitempty"`
}

type usersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

// Subscriber registers the webhook for a channel's stream status and renews
// it every lease period
type Subscriber struct {
	clientID    string
	login       string
	callbackURL string
	baseURL     string
	lease       time.Duration
	secret      string
	httpClient  *http.Client
}

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber)

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(u string) SubscriberOption {
	return func(s *Subscriber) {
		s.baseURL = u
	}
}

func WithLease(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithSecret registers secret as hub.secret so notifications arrive signed
func WithSecret(secret string) SubscriberOption {
	return func(s *Subscriber) {
		s.secret = secret
	}
}

func WithHTTPClient(hc *http.Client) SubscriberOption {
	return func(s *Subscriber) {
		s.httpClient = hc
	}
}

func NewSubscriber(clientID, login, callbackURL string, opts ...SubscriberOption) (*Subscriber, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}

	s := &Subscriber{
		clientID:    clientID,
		login:       login,
		callbackURL: callbackURL,
		baseURL:     DefaultBaseURL,
		lease:       DefaultLease,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Subscriber) do(req *http.Request, result any) error {
	req.Header.Set("Client-ID", s.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("twitch returned status %d for %s", resp.StatusCode, req.URL.Path)
	}

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// UserID resolves the channel login to its numeric user id
func (s *Subscriber) UserID(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/helix/users?login=%s", s.baseURL, url.QueryEscape(s.login))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	var users usersResponse
	if err := s.do(req, &users); err != nil {
		return "", err
	}
	if len(users.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, s.login)
	}

	return users.Data[0].ID, nil
}

// Subscribe registers the stream webhook for one lease
func (s *Subscriber) Subscribe(ctx context.Context) error {
	userID, err := s.UserID(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(SubscribeRequest{
		Callback:     s.callbackURL,
		Mode:         "subscribe",
		Topic:        s.baseURL + "/helix/streams?user_id=" + userID,
		LeaseSeconds: int(s.lease / time.Second),
		Secret:       s.secret,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/helix/webhooks/hub", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if err := s.do(req, nil); err != nil {
		return err
	}

	slog.Info("Registered stream webhook",
		slog.String("callback", s.callbackURL), slog.String("user_id", userID), slog.Duration("lease", s.lease))

	return nil
}

// Run subscribes immediately and again every lease period until ctx ends.
// Failures are logged and retried at the next renewal.
func (s *Subscriber) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.lease)
	defer ticker.Stop()

	for {
		if err := s.Subscribe(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Failed to register stream webhook", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
