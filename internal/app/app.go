// Package app wires configuration into a running tracker, its sinks and the
// HTTP control plane.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"omnic/internal/api"
	"omnic/internal/broker"
	"omnic/internal/config"
	"omnic/internal/db"
	"omnic/internal/discord"
	"omnic/internal/log"
	"omnic/internal/metrics"
	"omnic/internal/poller"
	"omnic/internal/pubg"
	"omnic/internal/sink"
	"omnic/internal/state"
	"omnic/internal/storage"
	"omnic/internal/twitch"
)

const shutdownTimeout = 5 * time.Second

var ErrNoBackends = errors.New("no sink backends configured")

// Store is a database sink that also tracks broadcast series and lists scores
type Store interface {
	sink.Sink
	poller.SeriesResolver
	api.ScoreReader
	OpenSeries(ctx context.Context, subject string) (int64, error)
}

type App struct {
	conf    config.Config
	version string

	client      *pubg.Client
	tracker     *poller.Tracker
	fanout      *sink.Fanout
	hub         *api.Hub
	store       Store
	checkpoints poller.WatermarkStore
	metrics     *metrics.Collectors
	subscriber  *twitch.Subscriber

	closers []func() error
}

// New builds every configured component. Close must be called even when
// Run is not.
func New(ctx context.Context, conf config.Config, version string) (*App, error) {
	if errValidate := conf.Validate(); errValidate != nil {
		return nil, errValidate
	}

	app := &App{
		conf:    conf,
		version: version,
		fanout:  sink.NewFanout(),
		metrics: metrics.New(),
	}

	client, errClient := NewClient(conf)
	if errClient != nil {
		return nil, errClient
	}
	app.client = client

	if errSinks := app.openSinks(ctx); errSinks != nil {
		return nil, errors.Join(errSinks, app.Close())
	}

	opts := []poller.Option{poller.WithMetrics(app.metrics)}
	if app.store != nil {
		opts = append(opts, poller.WithSeriesResolver(app.store))
	}

	// Without Redis the checkpoint lives as long as the process
	app.checkpoints = state.NewMemoryStore()
	if conf.Redis.Enabled {
		store, errRedis := app.openRedis(ctx)
		if errRedis != nil {
			return nil, errors.Join(errRedis, app.Close())
		}
		app.checkpoints = store
	}
	opts = append(opts, poller.WithWatermarkStore(app.checkpoints))

	if conf.Discord.WebhookURL != "" {
		var discordOpts []discord.Option
		if conf.Discord.MuteIngested {
			discordOpts = append(discordOpts, discord.WithoutEvents(poller.EventIngested))
		}
		notifier, errNotifier := discord.NewWebhookClient(conf.Discord.WebhookURL, discordOpts...)
		if errNotifier != nil {
			return nil, errors.Join(errNotifier, app.Close())
		}
		opts = append(opts, poller.WithNotifier(notifier))
	}

	tracker, errTracker := poller.NewTracker(conf.PollerConfig(), client, app.fanout, opts...)
	if errTracker != nil {
		return nil, errors.Join(errTracker, app.Close())
	}
	app.tracker = tracker

	if conf.Twitch.Enabled {
		login := conf.Twitch.Login
		if login == "" {
			login = conf.General.Subject
		}
		subscriber, errSubscriber := twitch.NewSubscriber(conf.Twitch.ClientID, login, conf.Twitch.CallbackURL,
			twitch.WithBaseURL(conf.Twitch.BaseURL), twitch.WithLease(conf.Twitch.Lease),
			twitch.WithSecret(conf.Twitch.Secret))
		if errSubscriber != nil {
			return nil, errors.Join(errSubscriber, app.Close())
		}
		app.subscriber = subscriber
	}

	return app, nil
}

// NewClient builds the upstream API client from the pubg section
func NewClient(conf config.Config) (*pubg.Client, error) {
	opts := []pubg.Option{
		pubg.WithRequestsPerMinute(conf.PUBG.RequestsPerMinute),
	}
	if conf.PUBG.BaseURL != "" {
		opts = append(opts, pubg.WithBaseURL(conf.PUBG.BaseURL))
	}
	if conf.PUBG.Timeout > 0 {
		opts = append(opts, pubg.WithTimeout(conf.PUBG.Timeout))
	}

	return pubg.NewClient(conf.PUBG.APIKey, opts...)
}

func (app *App) openSinks(ctx context.Context) error {
	if len(app.conf.Sink.Backends) == 0 {
		return ErrNoBackends
	}

	for _, backend := range app.conf.Sink.Backends {
		if errOpen := app.openSink(ctx, backend); errOpen != nil {
			return fmt.Errorf("open %s sink: %w", backend, errOpen)
		}
		slog.Info("Sink enabled", slog.String("sink", backend))
	}

	return nil
}

func (app *App) openSink(ctx context.Context, backend string) error {
	conf := app.conf

	switch backend {
	case config.SinkPostgres:
		database, errConnect := openPostgres(ctx, conf.Database)
		if errConnect != nil {
			return errConnect
		}
		app.addCloser(func() error {
			database.Close()
			return nil
		})
		app.useStore(database)

	case config.SinkSQLite:
		database, errOpen := db.OpenSQLite(conf.SQLite.Path)
		if errOpen != nil {
			return errOpen
		}
		app.addCloser(database.Close)
		app.useStore(database)

	case config.SinkArchive:
		archive, errArchive := storage.Open(storage.Config{
			Dir:               conf.Archive.Dir,
			MaxResultsPerFile: conf.Archive.MaxResultsPerFile,
			MaxFileAge:        conf.Archive.MaxFileAge,
			Compress:          conf.Archive.Compress,
		})
		if errArchive != nil {
			return errArchive
		}
		app.addCloser(archive.Close)
		app.fanout.Add(archive)

	case config.SinkKafka:
		publisher := broker.NewKafkaPublisher(conf.Kafka.Brokers, conf.Kafka.Topic)
		app.addCloser(publisher.Close)
		app.fanout.Add(publisher)

	case config.SinkNATS:
		publisher, errNATS := broker.ConnectNATS(conf.NATS.URL, conf.NATS.Subject)
		if errNATS != nil {
			return errNATS
		}
		app.addCloser(publisher.Close)
		app.fanout.Add(publisher)

	case config.SinkWebsocket:
		app.hub = api.NewHub()
		app.addCloser(func() error {
			app.hub.Close()
			return nil
		})
		app.fanout.Add(app.hub)

	default:
		return fmt.Errorf("%w: %s", config.ErrUnknownSink, backend)
	}

	return nil
}

func openPostgres(ctx context.Context, conf config.Database) (*db.Postgres, error) {
	if conf.AutoMigrate {
		if errMigrate := db.Migrate(db.MigrateUp, conf.DSN); errMigrate != nil {
			return nil, errMigrate
		}
	}

	var opts []db.PostgresOption
	if conf.LogQueries {
		opts = append(opts, db.WithQueryLog())
	}
	if conf.MaxConns > 0 {
		opts = append(opts, db.WithMaxConns(conf.MaxConns))
	}

	return db.Connect(ctx, conf.DSN, opts...)
}

// OpenStore opens the database holding series and scores: Postgres when it
// is an enabled backend, SQLite otherwise.
func OpenStore(ctx context.Context, conf config.Config) (Store, func() error, error) {
	if conf.Enabled(config.SinkPostgres) {
		database, errConnect := openPostgres(ctx, conf.Database)
		if errConnect != nil {
			return nil, nil, errConnect
		}
		return database, func() error {
			database.Close()
			return nil
		}, nil
	}

	database, errOpen := db.OpenSQLite(conf.SQLite.Path)
	if errOpen != nil {
		return nil, nil, errOpen
	}

	return database, database.Close, nil
}

// useStore adds a database sink. The first one also resolves series and serves scores.
func (app *App) useStore(store Store) {
	app.fanout.Add(store)
	if app.store == nil {
		app.store = store
	}
}

func (app *App) openRedis(ctx context.Context) (*state.RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     app.conf.Redis.Addr,
		Password: app.conf.Redis.Password,
		DB:       app.conf.Redis.DB,
	})

	if errPing := client.Ping(ctx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", errPing)
	}
	app.addCloser(client.Close)

	return state.NewRedisStore(client, state.Key(app.conf.General.Subject)), nil
}

func (app *App) addCloser(fn func() error) {
	app.closers = append(app.closers, fn)
}

func (app *App) Tracker() *poller.Tracker {
	return app.tracker
}

func (app *App) Client() *pubg.Client {
	return app.client
}

// Store returns the database used for series and scores, or nil
func (app *App) Store() Store {
	return app.store
}

// Checkpoints returns the store the tracker saves its watermark to
func (app *App) Checkpoints() poller.WatermarkStore {
	return app.checkpoints
}

// Router builds the HTTP control plane for the running tracker
func (app *App) Router() *gin.Engine {
	opts := api.Options{
		Token:         app.conf.HTTP.Token,
		WebhookSecret: app.conf.Twitch.Secret,
		Subject:       app.conf.General.Subject,
		Hub:           app.hub,
		Metrics:       app.metrics,
		LogRequests:   app.conf.Logging.HTTPEnabled,
		LogLevel:      log.ToSlogLevel(app.conf.Logging.HTTPLevel),
	}
	if app.store != nil {
		opts.Scores = app.store
	}

	return api.NewRouter(app.tracker, opts)
}

// Run blocks until ctx is cancelled or a component fails
func (app *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return app.tracker.Run(groupCtx)
	})

	if app.conf.Poller.AutoStart {
		group.Go(func() error {
			if errStart := app.tracker.Start(groupCtx, app.tracker.Config().TriggerID); errStart != nil {
				return fmt.Errorf("auto start: %w", errStart)
			}
			return nil
		})
	}

	if app.conf.HTTP.Enabled {
		group.Go(func() error {
			return app.serveHTTP(groupCtx)
		})
	}

	if app.subscriber != nil {
		group.Go(func() error {
			return app.subscriber.Run(groupCtx)
		})
	}

	errRun := group.Wait()
	if errors.Is(errRun, context.Canceled) && ctx.Err() != nil {
		return nil
	}

	return errRun
}

func (app *App) serveHTTP(ctx context.Context) error {
	gin.SetMode(app.conf.HTTP.Mode)

	httpServer := &http.Server{
		Addr:           app.conf.HTTP.Addr(),
		Handler:        app.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil { //nolint:contextcheck
			slog.Error("Error shutting down http service", slog.String("error", errShutdown.Error()))
		}
	}()

	slog.Info("Starting HTTP service", slog.String("address", httpServer.Addr))

	if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", errServe)
	}

	return ctx.Err()
}

// Close releases every opened component in reverse order
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if errClose := app.closers[i](); errClose != nil {
			errs = append(errs, errClose)
		}
	}
	app.closers = nil

	return errors.Join(errs...)
}
