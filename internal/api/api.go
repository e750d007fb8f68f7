// Package api is the HTTP control plane: the stream webhook, operator
// endpoints, the live result feed, metrics and health.
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Depado/ginprom"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"omnic/internal/db"
	"omnic/internal/extract"
	"omnic/internal/metrics"
	"omnic/internal/poller"
	"omnic/internal/pubg"
)

const (
	defaultScoreLimit = 20
	maxScoreLimit     = 500
	requestTimeout    = 30 * time.Second
)

// Controller is the subset of the tracker the API drives
type Controller interface {
	Start(ctx context.Context, triggerID string) error
	Stop(ctx context.Context) error
	Pin(ctx context.Context, shard string) error
	Unpin(ctx context.Context) error
	ForceIngest(ctx context.Context, matchID, shard string) (*extract.Result, error)
	Status(ctx context.Context) (poller.Status, error)
}

// ScoreReader lists stored scores
type ScoreReader interface {
	Scores(ctx context.Context, subject string, limit uint64) ([]db.Score, error)
}

// Options configures the router
type Options struct {
	// Token protects /api routes when set
	Token string
	// WebhookSecret, when set, requires stream notifications to carry a
	// matching X-Hub-Signature
	WebhookSecret string
	// Subject is the tracked player, used for score listings
	Subject string
	// Scores enables GET /api/scores
	Scores ScoreReader
	// Hub enables GET /api/ws
	Hub *Hub
	// Metrics enables GET /metrics and HTTP instrumentation
	Metrics *metrics.Collectors
	// LogRequests logs every request at the given level
	LogRequests bool
	LogLevel    slog.Level
}

type handler struct {
	tracker Controller
	opts    Options
}

// NewRouter builds the gin engine
func NewRouter(tracker Controller, opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	if opts.LogRequests {
		engine.Use(sloggin.NewWithConfig(slog.Default(), sloggin.Config{
			DefaultLevel:     opts.LogLevel,
			ClientErrorLevel: slog.LevelWarn,
			ServerErrorLevel: slog.LevelError,
		}))
	}

	if opts.Metrics != nil {
		prom := ginprom.New(
			ginprom.Registry(opts.Metrics.Registry()),
			func(prom *ginprom.Prometheus) {
				prom.Namespace = "omnic"
				prom.Subsystem = "http"
			},
		)
		engine.Use(prom.Instrument())
		opts.Metrics.Register(engine)
	}

	h := &handler{tracker: tracker, opts: opts}

	engine.GET("/health", h.onHealth)

	engine.GET("/twitch/webhook", h.onWebhookChallenge)
	if opts.WebhookSecret != "" {
		engine.POST("/twitch/webhook", requireSignature(opts.WebhookSecret), h.onWebhookNotification)
	} else {
		engine.POST("/twitch/webhook", h.onWebhookNotification)
	}

	apiGroup := engine.Group("/api")
	if opts.Token != "" {
		apiGroup.Use(requireToken(opts.Token))
	}
	apiGroup.GET("/status", h.onStatus)
	apiGroup.PUT("/shard/pin", h.onPin)
	apiGroup.DELETE("/shard/pin", h.onUnpin)
	apiGroup.POST("/matches/:match_id/ingest", h.onForceIngest)
	if opts.Scores != nil {
		apiGroup.GET("/scores", h.onScores)
	}
	if opts.Hub != nil {
		apiGroup.GET("/ws", opts.Hub.onConnect)
	}

	return engine
}

func requireToken(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			provided = ctx.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx.Next()
	}
}

// maxWebhookBody bounds the notification body read for signature checks
const maxWebhookBody = 1 << 20

// requireSignature checks X-Hub-Signature (sha256=<hex hmac of the body>) and
// restores the body for binding.
func requireSignature(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if !validSignature(secret, body, ctx.GetHeader("X-Hub-Signature")) {
			slog.Warn("Rejected webhook notification with bad signature", slog.String("remote", ctx.ClientIP()))
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}

		ctx.Request.Body = io.NopCloser(bytes.NewReader(body))
		ctx.Next()
	}
}

func validSignature(secret string, body []byte, header string) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sum, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(sum, mac.Sum(nil))
}

// statusFor maps control errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, poller.ErrInvalidTrigger),
		errors.Is(err, poller.ErrUnknownShard),
		errors.Is(err, poller.ErrEmptyMatchID):
		return http.StatusUnprocessableEntity
	case errors.Is(err, poller.ErrTrackerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, pubg.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pubg.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(ctx *gin.Context, err error) {
	ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (h *handler) onHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) onWebhookChallenge(ctx *gin.Context) {
	if ctx.Query("hub.mode") == "subscribe" {
		ctx.String(http.StatusOK, ctx.Query("hub.challenge"))
		return
	}
	if ctx.Query("hub.mode") == "denied" {
		slog.Warn("Stream webhook subscription denied", slog.String("reason", ctx.Query("hub.reason")))
	}
	ctx.String(http.StatusOK, "")
}

// streamNotification is the stream status webhook body. An empty data list
// means the stream went offline.
type streamNotification struct {
	Data []struct {
		ID     string `json:"id"`
		GameID string `json:"game_id"`
		Title  string `json:"title"`
	} `json:"data"`
}

func (h *handler) onWebhookNotification(ctx *gin.Context) {
	var note streamNotification
	if err := ctx.ShouldBindJSON(&note); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	if len(note.Data) == 0 {
		slog.Info("Stream went offline")
		if err := h.tracker.Stop(reqCtx); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.String(http.StatusOK, "")
		return
	}

	slog.Info("Stream is live", slog.String("game_id", note.Data[0].GameID), slog.String("title", note.Data[0].Title))
	if err := h.tracker.Start(reqCtx, note.Data[0].GameID); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.String(http.StatusOK, "")
}

func (h *handler) onStatus(ctx *gin.Context) {
	status, err := h.tracker.Status(ctx.Request.Context())
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (h *handler) onPin(ctx *gin.Context) {
	var req struct {
		Shard string `json:"shard"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Shard == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "shard is required"})
		return
	}

	if err := h.tracker.Pin(ctx.Request.Context(), req.Shard); err != nil {
		writeError(ctx, err)
		return
	}
	h.onStatus(ctx)
}

func (h *handler) onUnpin(ctx *gin.Context) {
	if err := h.tracker.Unpin(ctx.Request.Context()); err != nil {
		writeError(ctx, err)
		return
	}
	h.onStatus(ctx)
}

func (h *handler) onForceIngest(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	result, err := h.tracker.ForceIngest(reqCtx, ctx.Param("match_id"), ctx.Query("shard"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (h *handler) onScores(ctx *gin.Context) {
	limit := uint64(defaultScoreLimit)
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxScoreLimit)
	}

	scores, err := h.opts.Scores.Scores(ctx.Request.Context(), h.opts.Subject, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if scores == nil {
		scores = []db.Score{}
	}
	ctx.JSON(http.StatusOK, scores)
}
