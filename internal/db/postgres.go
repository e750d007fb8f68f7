package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"omnic/internal/extract"
)

var ErrPoolFailed = errors.New("could not create store pool")

type queryTracer struct{}

func (tracer *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	slog.Debug("Executing command", slog.String("sql", data.SQL), slog.Any("args", data.Args))

	return ctx
}

func (tracer *queryTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {}

// Postgres is the primary result store
type Postgres struct {
	pool *pgxpool.Pool
	q    queries
}

// PostgresOption configures Connect
type PostgresOption func(*pgxpool.Config)

// WithQueryLog logs every statement at debug level
func WithQueryLog() PostgresOption {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = &queryTracer{}
	}
}

// WithMaxConns bounds the pool size
func WithMaxConns(n int32) PostgresOption {
	return func(cfg *pgxpool.Config) {
		if n > 0 {
			cfg.MaxConns = n
		}
	}
}

// Connect creates a pool for dsn and verifies it with a ping
func Connect(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db config/dsn: %w", err)
	}

	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, ErrPoolFailed)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{
		pool: pool,
		q:    queries{sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)},
	}, nil
}

// Close closes the database connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}

// Pool returns the underlying connection pool for custom queries
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) Name() string {
	return "postgres"
}

// CurrentSeries returns the latest broadcast series for subject
func (p *Postgres) CurrentSeries(ctx context.Context, subject string) (int64, error) {
	query, args, err := p.q.currentSeries(subject)
	if err != nil {
		return 0, queryErr(err)
	}

	var series int64
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&series); err != nil {
		return 0, seriesErr(subject, DBErr(err))
	}

	return series, nil
}

// OpenSeries starts a new broadcast for subject and returns its series number
func (p *Postgres) OpenSeries(ctx context.Context, subject string) (int64, error) {
	var series int64

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		query, args, err := p.q.maxSeries(subject)
		if err != nil {
			return queryErr(err)
		}

		var current int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&current); err != nil {
			return DBErr(err)
		}

		series = current + 1

		query, args, err = p.q.insertBroadcast(subject, series, time.Now().UTC())
		if err != nil {
			return queryErr(err)
		}

		_, err = tx.Exec(ctx, query, args...)

		return DBErr(err)
	})
	if err != nil {
		return 0, err
	}

	return series, nil
}

// Write inserts one score row
func (p *Postgres) Write(ctx context.Context, result extract.Result) error {
	query, args, err := p.q.insertScore(result)
	if err != nil {
		return queryErr(err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return DBErr(err)
	}

	return nil
}

// Scores returns the newest scores for subject
func (p *Postgres) Scores(ctx context.Context, subject string, limit uint64) ([]Score, error) {
	query, args, err := p.q.scores(subject, limit)
	if err != nil {
		return nil, queryErr(err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, DBErr(err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.Series, &s.MatchID, &s.Shard, &s.Rank, &s.Kills, &s.Type, &s.StreamerID, &s.CreatedAt); err != nil {
			return nil, DBErr(err)
		}
		scores = append(scores, s)
	}

	return scores, DBErr(rows.Err())
}
