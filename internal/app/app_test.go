package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnic/internal/config"
	"omnic/internal/log"
	"omnic/internal/poller"
)

func testConfig(t *testing.T, upstream string) config.Config {
	t.Helper()

	return config.Config{
		General: config.General{
			Subject:   "Funzinnu",
			TriggerID: poller.DefaultTriggerID,
			Shards:    []string{"pc-eu", "pc-na"},
		},
		PUBG: config.PUBG{
			APIKey:            "test-key",
			BaseURL:           upstream,
			RequestsPerMinute: 6000,
			Timeout:           time.Second,
		},
		Poller: config.Poller{
			RequestDelay: 10 * time.Millisecond,
			MaxBackoff:   time.Second,
		},
		Sink:    config.Sink{Backends: []string{config.SinkSQLite, config.SinkArchive, config.SinkWebsocket}},
		SQLite:  config.SQLite{Path: ":memory:"},
		Archive: config.Archive{Dir: filepath.Join(t.TempDir(), "results")},
		HTTP:    config.HTTP{Enabled: true, Host: "127.0.0.1", Port: 0, Mode: gin.TestMode},
		Logging: log.Config{Level: log.Error},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), config.Config{}, "test")
	require.ErrorIs(t, err, config.ErrMissingValue)
}

func TestNewRequiresBackends(t *testing.T) {
	conf := testConfig(t, "http://127.0.0.1:1")
	conf.Sink.Backends = nil

	_, err := New(context.Background(), conf, "test")
	require.ErrorIs(t, err, ErrNoBackends)
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	application, err := New(context.Background(), testConfig(t, "http://127.0.0.1:1"), "test")
	require.NoError(t, err)
	defer func() { require.NoError(t, application.Close()) }()

	require.NotNil(t, application.Store())
	require.NotNil(t, application.Tracker())

	router := application.Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/scores", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `[]`, recorder.Body.String())
}

func TestRouterRequiresWebhookSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)

	conf := testConfig(t, "http://127.0.0.1:1")
	conf.Twitch.Secret = "hub-secret"
	application, err := New(context.Background(), conf, "test")
	require.NoError(t, err)
	defer func() { require.NoError(t, application.Close()) }()

	router := application.Router()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/twitch/webhook", strings.NewReader(`{"data":[]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestRunAutoStartAndShutdown(t *testing.T) {
	var requests atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	conf := testConfig(t, upstream.URL)
	conf.HTTP.Enabled = false
	conf.Sink.Backends = []string{config.SinkSQLite}
	conf.Poller.AutoStart = true

	application, err := New(context.Background(), conf, "test")
	require.NoError(t, err)
	defer func() { require.NoError(t, application.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	require.Eventually(t, func() bool { return requests.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	status, errStatus := application.Tracker().Status(ctx)
	require.NoError(t, errStatus)
	assert.Equal(t, poller.StatePolling.String(), status.State)

	cancel()
	select {
	case errRun := <-done:
		require.NoError(t, errRun)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSignalContextCancelledByParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := SignalContext(parent, nil)
	defer cancel()

	cancelParent()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should follow its parent")
	}
}

func TestSignalContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Signal tests not supported on Windows")
	}

	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	var called atomic.Bool
	ctx, cancel := SignalContext(parent, func(os.Signal) { called.Store(true) })
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled initially")
	default:
	}

	p, _ := os.FindProcess(os.Getpid())
	require.NoError(t, p.Signal(os.Interrupt))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after signal")
	}

	assert.True(t, called.Load())
}

func TestOpenStoreFallsBackToSQLite(t *testing.T) {
	conf := testConfig(t, "http://127.0.0.1:1")
	conf.Sink.Backends = []string{config.SinkArchive}

	store, closer, err := OpenStore(context.Background(), conf)
	require.NoError(t, err)
	defer func() { require.NoError(t, closer()) }()

	series, err := store.OpenSeries(context.Background(), "Funzinnu")
	require.NoError(t, err)
	assert.Equal(t, int64(1), series)

	current, err := store.CurrentSeries(context.Background(), "Funzinnu")
	require.NoError(t, err)
	assert.Equal(t, series, current)
}
