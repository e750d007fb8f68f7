package pubg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/ratelimit"

	"omnic/internal/telemetry"
)

const (
	// DefaultBaseURL is the production API host
	DefaultBaseURL = "https://api.playbattlegrounds.com"

	// The free tier allows 10 requests per minute per key
	defaultRequestsPerMinute = 10

	defaultTimeout = 30 * time.Second

	// Used when a 429 carries neither X-RateLimit-Reset nor Retry-After
	defaultRateLimitWait = 10 * time.Second

	mediaType = "application/vnd.api+json"
)

var (
	ErrMissingAPIKey  = errors.New("pubg api key is not set")
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("api key rejected")
	ErrRateLimited    = errors.New("rate limited")
	ErrPlayerNotFound = errors.New("player not found on shard")
	ErrNoMatches      = errors.New("player has no recent matches")
)

// StatusError is returned for any non-2xx response
type StatusError struct {
	StatusCode int
	URL        string
	// ResetAt is set for 429 responses
	ResetAt time.Time
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("API returned status %d for %s (reset at %s)", e.StatusCode, e.URL, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("API returned status %d for %s", e.StatusCode, e.URL)
}

// Is maps well known status codes onto the package sentinels
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsRateLimited reports whether err is a 429 and when the limit resets
func IsRateLimited(err error) (time.Time, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return statusErr.ResetAt, true
	}
	return time.Time{}, false
}

// Client is a paced client for the PUBG API
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	perMinute  int
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestsPerMinute sets the client side pacing. Zero or less disables it.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		c.perMinute = n
	}
}

// WithClock overrides time.Now, used to resolve Retry-After headers
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new API client
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		perMinute: defaultRequestsPerMinute,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.perMinute > 0 {
		c.limiter = ratelimit.New(c.perMinute, ratelimit.Per(time.Minute), ratelimit.WithoutSlack)
	} else {
		c.limiter = ratelimit.NewUnlimited()
	}

	return c, nil
}

// doRequest makes a paced request and decodes the JSON body into result
func (c *Client) doRequest(ctx context.Context, endpoint string, authorized bool, result any) error {
	if authorized {
		c.limiter.Take()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", mediaType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		resetAt := c.parseReset(resp.Header)
		slog.Warn("Rate limited by upstream", slog.String("url", endpoint), slog.Time("reset_at", resetAt))
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, URL: endpoint, ResetAt: resetAt}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// parseReset reads X-RateLimit-Reset (unix seconds), then Retry-After (seconds)
func (c *Client) parseReset(h http.Header) time.Time {
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil && unix > 0 {
			return time.Unix(unix, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return c.now().Add(time.Duration(seconds) * time.Second)
		}
	}
	return c.now().Add(defaultRateLimitWait)
}

func (c *Client) shardURL(shard string, parts ...string) string {
	u := c.baseURL + "/shards/" + url.PathEscape(shard)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// FetchPlayer looks a player up by name on one shard
func (c *Client) FetchPlayer(ctx context.Context, shard, name string) (*Player, error) {
	endpoint := c.shardURL(shard, "players") + "?filter[playerNames]=" + url.QueryEscape(name)

	var players PlayersResponse
	if err := c.doRequest(ctx, endpoint, true, &players); err != nil {
		return nil, err
	}
	if len(players.Data) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrPlayerNotFound, name, shard)
	}

	return players.Data[0].toPlayer(shard), nil
}

// FetchMatch fetches a match summary including its typed resources
func (c *Client) FetchMatch(ctx context.Context, shard, matchID string) (*Match, error) {
	var match MatchResponse
	if err := c.doRequest(ctx, c.shardURL(shard, "matches", matchID), true, &match); err != nil {
		return nil, err
	}

	return match.toMatch(shard), nil
}

// FetchTelemetry downloads a telemetry asset. Assets are served from a CDN and
// are neither authenticated nor counted against the key's rate limit.
func (c *Client) FetchTelemetry(ctx context.Context, assetURL string) (telemetry.Sequence, error) {
	var events telemetry.Sequence
	if err := c.doRequest(ctx, assetURL, false, &events); err != nil {
		return nil, err
	}

	return events, nil
}

// CheckStatus calls the unauthenticated status endpoint
func (c *Client) CheckStatus(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.doRequest(ctx, c.baseURL+"/status", false, &status); err != nil {
		return nil, err
	}

	return &status, nil
}
