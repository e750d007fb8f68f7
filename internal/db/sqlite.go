package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"omnic/internal/extract"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS broadcast (
		series INTEGER NOT NULL,
		streamer_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (streamer_id, series)
	);

	CREATE TABLE IF NOT EXISTS score (
		result_id TEXT NOT NULL PRIMARY KEY,
		series INTEGER NOT NULL,
		match_id TEXT NOT NULL,
		shard TEXT NOT NULL,
		rank INTEGER NOT NULL,
		kills INTEGER,
		type TEXT NOT NULL,
		streamer_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		extracted_at TIMESTAMP NOT NULL,
		UNIQUE (match_id, streamer_id)
	);

	CREATE INDEX IF NOT EXISTS score_streamer_created_idx ON score (streamer_id, created_at DESC);
`

// SQLite is a single file result store for local runs
type SQLite struct {
	db *sql.DB
	q  queries
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db: db,
		q:  queries{sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)},
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the schema
func (s *SQLite) init() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Name() string {
	return "sqlite"
}

func (s *SQLite) CurrentSeries(ctx context.Context, subject string) (int64, error) {
	query, args, err := s.q.currentSeries(subject)
	if err != nil {
		return 0, queryErr(err)
	}

	var series int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&series); err != nil {
		return 0, seriesErr(subject, DBErr(err))
	}

	return series, nil
}

func (s *SQLite) OpenSeries(ctx context.Context, subject string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, DBErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := s.q.maxSeries(subject)
	if err != nil {
		return 0, queryErr(err)
	}

	var current int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&current); err != nil {
		return 0, DBErr(err)
	}

	series := current + 1

	query, args, err = s.q.insertBroadcast(subject, series, time.Now().UTC())
	if err != nil {
		return 0, queryErr(err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, DBErr(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, DBErr(err)
	}

	return series, nil
}

func (s *SQLite) Write(ctx context.Context, result extract.Result) error {
	query, args, err := s.q.insertScore(result)
	if err != nil {
		return queryErr(err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return DBErr(err)
	}

	return nil
}

func (s *SQLite) Scores(ctx context.Context, subject string, limit uint64) ([]Score, error) {
	query, args, err := s.q.scores(subject, limit)
	if err != nil {
		return nil, queryErr(err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, DBErr(err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var (
			sc    Score
			kills sql.NullInt64
		)
		if err := rows.Scan(&sc.Series, &sc.MatchID, &sc.Shard, &sc.Rank, &kills, &sc.Type, &sc.StreamerID, &sc.CreatedAt); err != nil {
			return nil, DBErr(err)
		}
		if kills.Valid {
			k := int(kills.Int64)
			sc.Kills = &k
		}
		scores = append(scores, sc)
	}

	return scores, DBErr(rows.Err())
}
