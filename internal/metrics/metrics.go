package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnic"

// Collectors holds the tracker metrics. A nil *Collectors is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	cycles       *prometheus.CounterVec
	fetchErrors  *prometheus.CounterVec
	rateLimits   *prometheus.CounterVec
	ingested     *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
	state        *prometheus.GaugeVec
	watermark    prometheus.Gauge
	lastRank     prometheus.Gauge
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "poll_cycles_total", Help: "Completed poll cycles"},
			[]string{"shard"}),

		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "fetch_errors_total", Help: "Upstream fetch failures"},
			[]string{"shard", "stage"}),

		rateLimits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rate_limited_total", Help: "429 responses received"},
			[]string{"shard"}),

		ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "matches_ingested_total", Help: "Matches extracted and handed to the sink"},
			[]string{"game_mode", "forced"}),

		sinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "sink_failures_total", Help: "Result writes that failed"},
			[]string{"sink"}),

		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "scheduler_state", Help: "1 for the scheduler's current state"},
			[]string{"state"}),

		watermark: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "watermark_timestamp_seconds", Help: "Creation time of the last ingested match"}),

		lastRank: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "last_rank", Help: "Placement of the last ingested match, -1 when unknown"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cycles,
		c.fetchErrors,
		c.rateLimits,
		c.ingested,
		c.sinkFailures,
		c.state,
		c.watermark,
		c.lastRank,
	)

	return c
}

// Registry exposes the underlying registry so HTTP middleware can share it
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus text format
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Register mounts the /metrics route
func (c *Collectors) Register(engine *gin.Engine) {
	handler := c.Handler()
	engine.GET("/metrics", func(ctx *gin.Context) {
		handler.ServeHTTP(ctx.Writer, ctx.Request)
	})
}

func (c *Collectors) CycleCompleted(shard string) {
	if c == nil {
		return
	}
	c.cycles.With(prometheus.Labels{"shard": shard}).Inc()
}

func (c *Collectors) FetchFailed(shard, stage string) {
	if c == nil {
		return
	}
	c.fetchErrors.With(prometheus.Labels{"shard": shard, "stage": stage}).Inc()
}

func (c *Collectors) RateLimited(shard string) {
	if c == nil {
		return
	}
	c.rateLimits.With(prometheus.Labels{"shard": shard}).Inc()
}

func (c *Collectors) Ingested(gameMode string, forced bool, rank int) {
	if c == nil {
		return
	}
	f := "false"
	if forced {
		f = "true"
	}
	c.ingested.With(prometheus.Labels{"game_mode": gameMode, "forced": f}).Inc()
	c.lastRank.Set(float64(rank))
}

func (c *Collectors) SinkFailed(sink string) {
	if c == nil {
		return
	}
	c.sinkFailures.With(prometheus.Labels{"sink": sink}).Inc()
}

// SetState marks state as the only active scheduler state
func (c *Collectors) SetState(state string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.With(prometheus.Labels{"state": s}).Set(v)
	}
}

func (c *Collectors) SetWatermark(t time.Time) {
	if c == nil {
		return
	}
	c.watermark.Set(float64(t.Unix()))
}
