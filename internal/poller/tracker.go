package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"omnic/internal/extract"
	"omnic/internal/metrics"
	"omnic/internal/pubg"
	"omnic/internal/sink"
	"omnic/internal/telemetry"
)

var defaultShards = []string{"pc-oc", "pc-eu", "pc-as", "pc-krjp", "pc-jp", "pc-na", "pc-sa", "pc-sea"}

// DefaultShards returns the built in rotation order
func DefaultShards() []string {
	return slices.Clone(defaultShards)
}

// DefaultTriggerID is the stream game id that starts polling
const DefaultTriggerID = "403957"

var (
	ErrNoSubject      = errors.New("subject player name is required")
	ErrNoSink         = errors.New("sink is required")
	ErrAlreadyRunning = errors.New("tracker is already running")
	ErrTrackerStopped = errors.New("tracker is not running")
	ErrEmptyMatchID   = errors.New("match id is required")

	// errStale marks a cycle abandoned because polling stopped or restarted under it
	errStale = errors.New("cycle abandoned")
)

// Fetcher is the upstream API
type Fetcher interface {
	FetchPlayer(ctx context.Context, shard, name string) (*pubg.Player, error)
	FetchMatch(ctx context.Context, shard, matchID string) (*pubg.Match, error)
	FetchTelemetry(ctx context.Context, url string) (telemetry.Sequence, error)
}

// SeriesResolver finds the broadcast series a result belongs to
type SeriesResolver interface {
	CurrentSeries(ctx context.Context, subject string) (int64, error)
}

// WatermarkStore checkpoints the watermark across restarts
type WatermarkStore interface {
	Load(ctx context.Context) (time.Time, bool, error)
	Save(ctx context.Context, t time.Time) error
}

// Config holds configuration for the tracker
type Config struct {
	// Subject is the player name to track
	Subject string
	// TriggerID is the only id Start accepts
	TriggerID string
	// Shards is the rotation order
	Shards []string
	// RequestDelay is slept after every cycle (default: 8 seconds)
	RequestDelay time.Duration
	// MaxBackoff caps each sleep while waiting for a rate limit reset (default: 10 minutes)
	MaxBackoff time.Duration
	// FilterCapacity sizes the ingested match filter (default: 100000)
	FilterCapacity uint
	// FilterFalsePositive is the filter's false positive rate (default: 0.001)
	FilterFalsePositive float64
	// NotifyTimeout bounds each operator notification (default: 10 seconds)
	NotifyTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		TriggerID:           DefaultTriggerID,
		Shards:              DefaultShards(),
		RequestDelay:        8 * time.Second,
		MaxBackoff:          10 * time.Minute,
		FilterCapacity:      100000,
		FilterFalsePositive: 0.001,
		NotifyTimeout:       10 * time.Second,
	}
}

// Tracker runs poll cycles for one player. All scheduler and watermark state
// is owned by the goroutine executing Run; other goroutines talk to it with
// Commands.
type Tracker struct {
	config    Config
	fetcher   Fetcher
	extractor *extract.Extractor
	sink      sink.Sink

	series   SeriesResolver
	notifier Notifier
	store    WatermarkStore
	metrics  *metrics.Collectors
	now      func() time.Time

	commands chan request
	done     chan struct{}
	running  atomic.Bool

	notifications sync.WaitGroup

	// Owned by Run
	scheduler *Scheduler
	watermark Watermark
	// Creation time of the newest ingested match, zero until one is ingested
	// or a checkpoint is restored
	lastIngested time.Time
	seen         *matchFilter
	pending      []request
	cycles       int64
	ingested     int64
	lastResult   *extract.Result
	lastError    string
}

// Option configures a Tracker
type Option func(*Tracker)

func WithSeriesResolver(r SeriesResolver) Option {
	return func(t *Tracker) { t.series = r }
}

func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

func WithWatermarkStore(s WatermarkStore) Option {
	return func(t *Tracker) { t.store = s }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock overrides time.Now. The initial watermark is taken from it.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithInitialWatermark starts from t instead of the current time
func WithInitialWatermark(wm time.Time) Option {
	return func(t *Tracker) { t.watermark = NewWatermark(wm) }
}

func NewTracker(config Config, fetcher Fetcher, out sink.Sink, opts ...Option) (*Tracker, error) {
	if config.Subject == "" {
		return nil, ErrNoSubject
	}
	if out == nil {
		return nil, ErrNoSink
	}

	defaults := DefaultConfig()
	if len(config.Shards) == 0 {
		config.Shards = defaults.Shards
	}
	if config.FilterCapacity == 0 {
		config.FilterCapacity = defaults.FilterCapacity
	}
	if config.FilterFalsePositive <= 0 {
		config.FilterFalsePositive = defaults.FilterFalsePositive
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}

	scheduler, err := NewScheduler(config.Shards, config.TriggerID)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		config:    config,
		fetcher:   fetcher,
		extractor: extract.New(config.Subject, fetcher),
		sink:      out,
		now:       time.Now,
		commands:  make(chan request),
		done:      make(chan struct{}),
		scheduler: scheduler,
		seen:      newMatchFilter(config.FilterCapacity, config.FilterFalsePositive),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.watermark.Time().IsZero() {
		t.watermark = NewWatermark(t.now())
	}

	return t, nil
}

// Config returns the tracker's configuration
func (t *Tracker) Config() Config {
	return t.config
}

// Run processes commands and poll cycles until ctx is cancelled
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(t.done)
	defer t.notifications.Wait()
	defer t.failPending(ctx)

	t.restoreWatermark(ctx)
	t.stateChanged()

	slog.Info("Tracker ready",
		slog.String("subject", t.config.Subject),
		slog.Any("shards", t.config.Shards),
		slog.Time("watermark", t.watermark.Time()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(t.pending) > 0 {
			req := t.pending[0]
			t.pending = t.pending[1:]
			t.runForceIngest(ctx, req)
			continue
		}

		if !t.scheduler.Running() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case req := <-t.commands:
				t.handle(ctx, req)
			}
			continue
		}

		t.cycle(ctx)
	}
}

// handle applies one command. It never blocks on I/O.
func (t *Tracker) handle(_ context.Context, req request) {
	switch cmd := req.cmd.(type) {
	case Start:
		started, err := t.scheduler.Start(cmd.TriggerID)
		if err != nil {
			slog.Warn("Rejected start", slog.String("trigger_id", cmd.TriggerID), slog.String("error", err.Error()))
			req.respond(Reply{Err: err, Status: t.status()})
			return
		}
		if started {
			slog.Info("Polling started", slog.String("shard", t.scheduler.Shard()))
			t.stateChanged()
			t.notify(Event{Kind: EventStarted, Shard: t.scheduler.Shard()})
		}
		req.respond(Reply{Status: t.status()})

	case Stop:
		if t.scheduler.Stop() {
			slog.Info("Polling stopped")
			t.notify(Event{Kind: EventStopped, Shard: t.scheduler.Shard()})
		}
		t.stateChanged()
		req.respond(Reply{Status: t.status()})

	case Pin:
		if err := t.scheduler.Pin(cmd.Shard); err != nil {
			req.respond(Reply{Err: err, Status: t.status()})
			return
		}
		slog.Info("Shard pinned", slog.String("shard", cmd.Shard))
		req.respond(Reply{Status: t.status()})

	case Unpin:
		t.scheduler.Unpin()
		slog.Info("Shard unpinned")
		req.respond(Reply{Status: t.status()})

	case ForceIngest:
		if cmd.MatchID == "" {
			req.respond(Reply{Err: ErrEmptyMatchID})
			return
		}
		if cmd.Shard != "" && !slices.Contains(t.config.Shards, cmd.Shard) {
			req.respond(Reply{Err: fmt.Errorf("%w: %s", ErrUnknownShard, cmd.Shard)})
			return
		}
		t.pending = append(t.pending, req)

	case statusQuery:
		req.respond(Reply{Status: t.status()})
	}
}

// outcome carries the result of an awaited call
type outcome[T any] struct {
	value T
	err   error
}

// await runs fn on a helper goroutine and keeps serving commands until it
// returns. fn must not touch tracker state.
func await[T any](ctx context.Context, t *Tracker, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	for {
		select {
		case o := <-done:
			return o.value, o.err
		case req := <-t.commands:
			t.handle(ctx, req)
		}
	}
}

// stale reports whether the cycle started under epoch should be abandoned.
// Epoch zero is used for work not bound to a cycle.
func (t *Tracker) stale(epoch uint64) bool {
	if epoch == 0 {
		return false
	}
	return t.scheduler.Epoch() != epoch || !t.scheduler.Running()
}

// sleep waits for d while serving commands. It returns false if ctx ended or
// the cycle went stale.
func (t *Tracker) sleep(ctx context.Context, epoch uint64, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && !t.stale(epoch)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return !t.stale(epoch)
		case req := <-t.commands:
			t.handle(ctx, req)
			if t.stale(epoch) {
				return false
			}
		}
	}
}

// cycle polls the scheduler's current shard once
func (t *Tracker) cycle(ctx context.Context) {
	epoch := t.scheduler.Epoch()
	shard := t.scheduler.Shard()

	err := t.poll(ctx, epoch, shard)
	if ctx.Err() != nil || t.stale(epoch) {
		slog.Debug("Cycle abandoned", slog.String("shard", shard))
		return
	}

	if resetAt, limited := pubg.IsRateLimited(err); limited {
		t.backoff(ctx, epoch, shard, resetAt)
		return
	}

	if err != nil {
		t.lastError = err.Error()
		slog.Warn("Poll cycle failed", slog.String("shard", shard), slog.String("error", err.Error()))
	}

	if !t.sleep(ctx, epoch, t.config.RequestDelay) {
		return
	}

	t.scheduler.CycleComplete()
	t.cycles++
	t.metrics.CycleCompleted(shard)
}

func (t *Tracker) poll(ctx context.Context, epoch uint64, shard string) error {
	player, err := await(ctx, t, func(ctx context.Context) (*pubg.Player, error) {
		return t.fetcher.FetchPlayer(ctx, shard, t.config.Subject)
	})
	if t.stale(epoch) {
		return errStale
	}
	if err != nil {
		t.fetchFailed(shard, "player", err)
		return fmt.Errorf("fetch player: %w", err)
	}

	if player.LatestMatchID == "" {
		slog.Debug("Player has no recent matches", slog.String("shard", shard))
		return nil
	}
	if !t.watermark.IsNewer(player.UpdatedAt) {
		return nil
	}
	if t.seen.Has(player.LatestMatchID) {
		return nil
	}

	_, err = t.ingest(ctx, epoch, shard, player.LatestMatchID, false)

	return err
}

// ingest fetches, extracts and delivers one match. Unless forced, a match
// created no later than the last ingested one is skipped. Before the first
// ingest only the player's update time gates, so a match that started before
// startup is still picked up.
func (t *Tracker) ingest(ctx context.Context, epoch uint64, shard, matchID string, forced bool) (*extract.Result, error) {
	match, err := await(ctx, t, func(ctx context.Context) (*pubg.Match, error) {
		return t.fetcher.FetchMatch(ctx, shard, matchID)
	})
	if t.stale(epoch) {
		return nil, errStale
	}
	if err != nil {
		t.fetchFailed(shard, "match", err)
		return nil, fmt.Errorf("fetch match %s: %w", matchID, err)
	}

	if !forced && !t.lastIngested.IsZero() && !match.CreatedAt.After(t.lastIngested) {
		t.seen.Add(match.ID)
		slog.Debug("Latest match predates last ingested match",
			slog.String("match_id", match.ID), slog.Time("created_at", match.CreatedAt))
		return nil, nil
	}

	events, _ := await(ctx, t, func(ctx context.Context) (telemetry.Sequence, error) {
		events, _ := t.extractor.Telemetry(ctx, match)
		return events, nil
	})
	if t.stale(epoch) {
		return nil, errStale
	}

	result := t.extractor.Build(match, events)
	t.metrics.Ingested(result.GameMode, forced, result.Rank.Sentinel())
	t.deliver(ctx, &result)

	t.seen.Add(match.ID)
	t.ingested++
	t.lastResult = &result
	if match.CreatedAt.After(t.lastIngested) {
		t.lastIngested = match.CreatedAt
	}
	if t.watermark.Advance(match.CreatedAt) {
		t.persistWatermark(ctx)
	}

	return &result, nil
}

// deliver stamps the series and hands the result to the sink. Failures are
// reported, never retried.
func (t *Tracker) deliver(ctx context.Context, result *extract.Result) {
	if t.series != nil {
		series, err := await(ctx, t, func(ctx context.Context) (int64, error) {
			return t.series.CurrentSeries(ctx, result.Subject)
		})
		if err != nil {
			t.metrics.SinkFailed("series")
			t.sinkFailed(*result, fmt.Errorf("resolve series: %w", err))
			return
		}
		result.Series = series
	}

	r := *result
	_, err := await(ctx, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.sink.Write(ctx, r)
	})
	if err != nil {
		for _, name := range sink.FailedSinks(err) {
			t.metrics.SinkFailed(name)
		}
		t.sinkFailed(r, err)
		return
	}

	slog.Info("Match ingested",
		slog.String("match_id", r.MatchID),
		slog.String("shard", r.Shard),
		slog.Int64("series", r.Series),
		slog.String("rank", r.Rank.String()),
		slog.String("kills", r.Kills.String()),
		slog.String("game_mode", r.GameMode))
	t.notify(Event{Kind: EventIngested, Shard: r.Shard, Result: &r})
}

func (t *Tracker) sinkFailed(r extract.Result, err error) {
	t.lastError = err.Error()
	slog.Error("Failed to write result",
		slog.String("match_id", r.MatchID), slog.String("error", err.Error()))
	t.notify(Event{Kind: EventSinkFailed, Shard: r.Shard, Result: &r, Err: err})
}

func (t *Tracker) fetchFailed(shard, stage string, err error) {
	if _, limited := pubg.IsRateLimited(err); limited {
		return
	}
	t.metrics.FetchFailed(shard, stage)
}

// backoff waits out a rate limit and resumes on the same shard. Sleeps are
// capped at MaxBackoff, but the tracker stays RateLimited without fetching
// until resetAt has passed.
func (t *Tracker) backoff(ctx context.Context, epoch uint64, shard string, resetAt time.Time) {
	t.scheduler.RateLimited(resetAt)
	t.stateChanged()
	t.metrics.RateLimited(shard)

	slog.Warn("Rate limited, backing off",
		slog.String("shard", shard), slog.Time("reset_at", resetAt),
		slog.Duration("wait", max(resetAt.Sub(t.now()), 0)))
	t.notify(Event{Kind: EventRateLimited, Shard: shard, ResetAt: resetAt})

	for {
		wait := resetAt.Sub(t.now())
		if wait <= 0 {
			break
		}
		if t.config.MaxBackoff > 0 && wait > t.config.MaxBackoff {
			wait = t.config.MaxBackoff
		}
		if !t.sleep(ctx, epoch, wait) {
			return
		}
		slog.Debug("Still rate limited", slog.String("shard", shard), slog.Time("reset_at", resetAt))
	}

	t.scheduler.Resume()
	t.stateChanged()
}

func (t *Tracker) runForceIngest(ctx context.Context, req request) {
	cmd := req.cmd.(ForceIngest)
	shard := cmd.Shard
	if shard == "" {
		shard = t.scheduler.Shard()
	}

	slog.Info("Force ingest", slog.String("match_id", cmd.MatchID), slog.String("shard", shard))

	result, err := t.ingest(ctx, 0, shard, cmd.MatchID, true)
	if err != nil {
		t.lastError = err.Error()
		req.respond(Reply{Err: err, Status: t.status()})
		return
	}

	req.respond(Reply{Result: result, Status: t.status()})
}

func (t *Tracker) failPending(ctx context.Context) {
	err := ctx.Err()
	if err == nil {
		err = ErrTrackerStopped
	}
	for _, req := range t.pending {
		req.respond(Reply{Err: err})
	}
	t.pending = nil
}

func (t *Tracker) restoreWatermark(ctx context.Context) {
	if t.store == nil {
		t.metrics.SetWatermark(t.watermark.Time())
		return
	}

	checkpoint, ok, err := t.store.Load(ctx)
	switch {
	case err != nil:
		slog.Warn("Failed to load watermark checkpoint", slog.String("error", err.Error()))
	case ok:
		t.watermark = NewWatermark(checkpoint)
		t.lastIngested = checkpoint
		slog.Info("Restored watermark", slog.Time("watermark", checkpoint))
	}
	t.metrics.SetWatermark(t.watermark.Time())
}

func (t *Tracker) persistWatermark(ctx context.Context) {
	wm := t.watermark.Time()
	t.metrics.SetWatermark(wm)

	if t.store == nil {
		return
	}

	if _, err := await(ctx, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.store.Save(ctx, wm)
	}); err != nil {
		slog.Warn("Failed to checkpoint watermark", slog.String("error", err.Error()))
	}
}

func (t *Tracker) stateChanged() {
	t.metrics.SetState(t.scheduler.State().String(), StateNames())
}

// notify sends an event without blocking the loop
func (t *Tracker) notify(event Event) {
	if t.notifier == nil {
		return
	}

	event.Subject = t.config.Subject
	event.At = t.now()

	t.notifications.Add(1)
	go func() {
		defer t.notifications.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.config.NotifyTimeout)
		defer cancel()

		if err := t.notifier.Notify(ctx, event); err != nil {
			slog.Warn("Failed to notify operator",
				slog.String("event", event.Kind.String()), slog.String("error", err.Error()))
		}
	}()
}

func (t *Tracker) status() Status {
	s := Status{
		Subject:        t.config.Subject,
		State:          t.scheduler.State().String(),
		Shard:          t.scheduler.Shard(),
		Index:          t.scheduler.Index(),
		Pinned:         t.scheduler.Pinned(),
		Shards:         t.scheduler.Shards(),
		Watermark:      t.watermark.Time(),
		Cycles:         t.cycles,
		Ingested:       t.ingested,
		PendingIngests: len(t.pending),
		LastError:      t.lastError,
	}
	if reset := t.scheduler.ResetAt(); !reset.IsZero() {
		s.ResetAt = &reset
	}
	if t.lastResult != nil {
		r := *t.lastResult
		s.LastResult = &r
	}
	return s
}

// Send delivers cmd to the Run goroutine and waits for its reply
func (t *Tracker) Send(ctx context.Context, cmd Command) (Reply, error) {
	req := newRequest(cmd)

	select {
	case t.commands <- req:
	case <-t.done:
		return Reply{}, ErrTrackerStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply, reply.Err
	case <-t.done:
		return Reply{}, ErrTrackerStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Start begins polling if triggerID matches
func (t *Tracker) Start(ctx context.Context, triggerID string) error {
	_, err := t.Send(ctx, Start{TriggerID: triggerID})
	return err
}

// Stop halts polling after the in-flight call returns
func (t *Tracker) Stop(ctx context.Context) error {
	_, err := t.Send(ctx, Stop{})
	return err
}

// Pin forces following cycles onto shard
func (t *Tracker) Pin(ctx context.Context, shard string) error {
	_, err := t.Send(ctx, Pin{Shard: shard})
	return err
}

// Unpin restores rotation
func (t *Tracker) Unpin(ctx context.Context) error {
	_, err := t.Send(ctx, Unpin{})
	return err
}

// ForceIngest ingests matchID immediately, or after the current cycle step
// when one is in flight
func (t *Tracker) ForceIngest(ctx context.Context, matchID, shard string) (*extract.Result, error) {
	reply, err := t.Send(ctx, ForceIngest{MatchID: matchID, Shard: shard})
	if err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// Status returns a snapshot of the tracker
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	reply, err := t.Send(ctx, statusQuery{})
	return reply.Status, err
}
