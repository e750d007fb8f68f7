package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnic/internal/db"
	"omnic/internal/extract"
	"omnic/internal/metrics"
	"omnic/internal/poller"
	"omnic/internal/pubg"
)

type fakeTracker struct {
	mu       sync.Mutex
	started  []string
	stopped  int
	pinned   string
	ingested []string
	err      error
}

func (f *fakeTracker) Start(_ context.Context, triggerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if triggerID != poller.DefaultTriggerID {
		return fmt.Errorf("%w: %q", poller.ErrInvalidTrigger, triggerID)
	}
	f.started = append(f.started, triggerID)
	return nil
}

func (f *fakeTracker) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.err
}

func (f *fakeTracker) Pin(_ context.Context, shard string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.HasPrefix(shard, "pc-") {
		return fmt.Errorf("%w: %s", poller.ErrUnknownShard, shard)
	}
	f.pinned = shard
	return nil
}

func (f *fakeTracker) Unpin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = ""
	return nil
}

func (f *fakeTracker) ForceIngest(_ context.Context, matchID, shard string) (*extract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if matchID == "missing" {
		return nil, &pubg.StatusError{StatusCode: http.StatusNotFound}
	}
	f.ingested = append(f.ingested, matchID)
	return &extract.Result{MatchID: matchID, Shard: shard, Rank: extract.KnownRank(2), Kills: extract.UnknownKills()}, nil
}

func (f *fakeTracker) Status(context.Context) (poller.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return poller.Status{Subject: "Funzinnu", State: "polling", Pinned: f.pinned}, f.err
}

type fakeScores struct {
	limit uint64
}

func (f *fakeScores) Scores(_ context.Context, subject string, limit uint64) ([]db.Score, error) {
	f.limit = limit
	kills := 3
	return []db.Score{{Series: 1, MatchID: "m1", Rank: 4, Kills: &kills, StreamerID: subject}}, nil
}

func newRouter(t *testing.T, tracker Controller, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(tracker, opts)
}

func request(t *testing.T, router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	return recorder
}

func TestHealth(t *testing.T) {
	router := newRouter(t, &fakeTracker{}, Options{})
	resp := request(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestWebhookChallenge(t *testing.T) {
	router := newRouter(t, &fakeTracker{}, Options{})

	resp := request(t, router, http.MethodGet, "/twitch/webhook?hub.mode=subscribe&hub.challenge=abc123", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "abc123", resp.Body.String())

	resp = request(t, router, http.MethodGet, "/twitch/webhook?hub.mode=denied&hub.challenge=abc123", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, resp.Body.String())
}

func TestWebhookNotification(t *testing.T) {
	tracker := &fakeTracker{}
	router := newRouter(t, tracker, Options{})

	resp := request(t, router, http.MethodPost, "/twitch/webhook", `{"data":[{"id":"1","game_id":"403957","title":"chicken"}]}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"403957"}, tracker.started)

	resp = request(t, router, http.MethodPost, "/twitch/webhook", `{"data":[{"id":"1","game_id":"509658"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "trigger id does not match")

	resp = request(t, router, http.MethodPost, "/twitch/webhook", `{"data":[]}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, tracker.stopped)

	resp = request(t, router, http.MethodPost, "/twitch/webhook", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookNotificationSignature(t *testing.T) {
	tracker := &fakeTracker{}
	router := newRouter(t, tracker, Options{WebhookSecret: "hub-secret"})

	offline := `{"data":[]}`
	online := `{"data":[{"id":"1","game_id":"403957"}]}`

	resp := request(t, router, http.MethodPost, "/twitch/webhook", offline)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = request(t, router, http.MethodPost, "/twitch/webhook", offline, "X-Hub-Signature", sign("wrong", offline))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = request(t, router, http.MethodPost, "/twitch/webhook", offline, "X-Hub-Signature", "sha256=zz")
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, 0, tracker.stopped)

	resp = request(t, router, http.MethodPost, "/twitch/webhook", online, "X-Hub-Signature", sign("hub-secret", online))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"403957"}, tracker.started)

	// The challenge is answered without a signature
	resp = request(t, router, http.MethodGet, "/twitch/webhook?hub.mode=subscribe&hub.challenge=abc", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "abc", resp.Body.String())
}

func TestPinAndUnpin(t *testing.T) {
	tracker := &fakeTracker{}
	router := newRouter(t, tracker, Options{})

	resp := request(t, router, http.MethodPut, "/api/shard/pin", `{"shard":"pc-eu"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var status poller.Status
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	assert.Equal(t, "pc-eu", status.Pinned)

	resp = request(t, router, http.MethodPut, "/api/shard/pin", `{"shard":"xbox-na"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = request(t, router, http.MethodPut, "/api/shard/pin", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = request(t, router, http.MethodDelete, "/api/shard/pin", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, tracker.pinned)
}

func TestForceIngest(t *testing.T) {
	tracker := &fakeTracker{}
	router := newRouter(t, tracker, Options{})

	resp := request(t, router, http.MethodPost, "/api/matches/abc-123/ingest?shard=pc-as", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "abc-123", body["matchId"])
	assert.Equal(t, "pc-as", body["shard"])
	assert.InDelta(t, 2, body["rank"], 0)
	assert.Nil(t, body["kills"])

	resp = request(t, router, http.MethodPost, "/api/matches/missing/ingest", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTrackerStoppedIsUnavailable(t *testing.T) {
	router := newRouter(t, &fakeTracker{err: poller.ErrTrackerStopped}, Options{})
	resp := request(t, router, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestTokenRequired(t *testing.T) {
	router := newRouter(t, &fakeTracker{}, Options{Token: "s3cret"})

	resp := request(t, router, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = request(t, router, http.MethodGet, "/api/status", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = request(t, router, http.MethodGet, "/api/status?token=s3cret", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	// The stream webhook is called by Twitch and carries no token
	resp = request(t, router, http.MethodGet, "/twitch/webhook?hub.mode=subscribe&hub.challenge=x", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestScores(t *testing.T) {
	scores := &fakeScores{}
	router := newRouter(t, &fakeTracker{}, Options{Subject: "Funzinnu", Scores: scores})

	resp := request(t, router, http.MethodGet, "/api/scores", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, uint64(defaultScoreLimit), scores.limit)

	var got []db.Score
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Funzinnu", got[0].StreamerID)

	resp = request(t, router, http.MethodGet, "/api/scores?limit=100000", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, uint64(maxScoreLimit), scores.limit)

	resp = request(t, router, http.MethodGet, "/api/scores?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMetricsRoute(t *testing.T) {
	router := newRouter(t, &fakeTracker{}, Options{Metrics: metrics.New()})

	request(t, router, http.MethodGet, "/health", "")
	resp := request(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "omnic_http_")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, statusFor(&pubg.StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(poller.ErrEmptyMatchID))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	router := newRouter(t, &fakeTracker{}, Options{Hub: hub})

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	result := extract.Result{ID: uuid.New(), MatchID: "live-1", Rank: extract.KnownRank(1), Kills: extract.KnownKills(7)}
	require.NoError(t, hub.Write(context.Background(), result))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got extract.Result
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "live-1", got.MatchID)
	kills, _ := got.Kills.Value()
	assert.Equal(t, 7, kills)

	// A late joiner receives the last result immediately
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer late.Close()

	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err = late.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "live-1")

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
}
