// Package db stores extracted results in the score table and resolves the
// broadcast series they belong to.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"omnic/internal/extract"
)

var (
	// ErrNoResult is returned on successful queries which return no rows.
	ErrNoResult = errors.New("no results found")
	// ErrDuplicate is returned when a duplicate row result is attempted to be inserted.
	ErrDuplicate = errors.New("entity already exists")
	// ErrNoSeries is returned when the streamer has never opened a broadcast.
	ErrNoSeries = errors.New("no broadcast series for streamer")

	ErrCreateQuery = errors.New("failed to generate query")
)

// DBErr is used to wrap common database errors in our own error types.
func DBErr(rootError error) error {
	if rootError == nil {
		return nil
	}

	if errors.Is(rootError, pgx.ErrNoRows) || errors.Is(rootError, sql.ErrNoRows) {
		return ErrNoResult
	}

	var pgErr *pgconn.PgError
	if errors.As(rootError, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrDuplicate
		default:
			return rootError
		}
	}

	return rootError
}

// Score is one stored row of the score table
type Score struct {
	Series     int64     `json:"series"`
	MatchID    string    `json:"matchId"`
	Shard      string    `json:"shard"`
	Rank       int       `json:"rank"`
	Kills      *int      `json:"kills"`
	Type       string    `json:"type"`
	StreamerID string    `json:"streamerId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// queries builds the SQL shared by every backend. Only the placeholder
// format differs.
type queries struct {
	sb sq.StatementBuilderType
}

func (q queries) currentSeries(subject string) (string, []any, error) {
	return q.sb.
		Select("series").
		From("broadcast").
		Where(sq.Eq{"streamer_id": subject}).
		OrderBy("series DESC").
		Limit(1).
		ToSql()
}

func (q queries) maxSeries(subject string) (string, []any, error) {
	return q.sb.
		Select("COALESCE(MAX(series), 0)").
		From("broadcast").
		Where(sq.Eq{"streamer_id": subject}).
		ToSql()
}

func (q queries) insertBroadcast(subject string, series int64, startedAt time.Time) (string, []any, error) {
	return q.sb.
		Insert("broadcast").
		Columns("series", "streamer_id", "started_at").
		Values(series, subject, startedAt).
		ToSql()
}

// insertScore writes one result. Re-ingesting a match for the same streamer
// replaces the stored extraction so a forced ingest can correct it.
func (q queries) insertScore(r extract.Result) (string, []any, error) {
	return q.sb.
		Insert("score").
		Columns("result_id", "series", "match_id", "shard", "rank", "kills", "type", "streamer_id", "created_at", "extracted_at").
		Values(r.ID.String(), r.Series, r.MatchID, r.Shard, r.Rank.Sentinel(), r.Kills.Sentinel(), r.GameMode, r.Subject,
			r.CreatedAt.UTC(), r.ExtractedAt.UTC()).
		Suffix("ON CONFLICT (match_id, streamer_id) DO UPDATE SET " +
			"series = EXCLUDED.series, rank = EXCLUDED.rank, kills = EXCLUDED.kills, type = EXCLUDED.type, " +
			"result_id = EXCLUDED.result_id, extracted_at = EXCLUDED.extracted_at").
		ToSql()
}

func (q queries) scores(subject string, limit uint64) (string, []any, error) {
	return q.sb.
		Select("series", "match_id", "shard", "rank", "kills", "type", "streamer_id", "created_at").
		From("score").
		Where(sq.Eq{"streamer_id": subject}).
		OrderBy("created_at DESC").
		Limit(limit).
		ToSql()
}

func queryErr(err error) error {
	return errors.Join(err, ErrCreateQuery)
}

func seriesErr(subject string, err error) error {
	if errors.Is(err, ErrNoResult) {
		return fmt.Errorf("%w: %s", ErrNoSeries, subject)
	}
	return err
}
