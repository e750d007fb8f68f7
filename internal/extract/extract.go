// Package extract turns a match and its telemetry log into a Result for one player.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"omnic/internal/pubg"
	"omnic/internal/telemetry"
)

const killEvent = "LogPlayerKill"

var (
	ErrNoAssets         = errors.New("match has no asset relationships")
	ErrAssetNotIncluded = errors.New("telemetry asset not found in included resources")
	ErrAssetURL         = errors.New("telemetry asset has no URL")
)

// TelemetryFetcher downloads a telemetry asset
type TelemetryFetcher interface {
	FetchTelemetry(ctx context.Context, url string) (telemetry.Sequence, error)
}

// Extractor computes results for a single subject player
type Extractor struct {
	subject string
	fetcher TelemetryFetcher
	now     func() time.Time
}

func New(subject string, fetcher TelemetryFetcher) *Extractor {
	return &Extractor{
		subject: subject,
		fetcher: fetcher,
		now:     time.Now,
	}
}

// Subject returns the player name results are computed for
func (e *Extractor) Subject() string {
	return e.subject
}

// TelemetryURL finds the telemetry asset referenced by the match's first asset id
func TelemetryURL(match *pubg.Match) (string, error) {
	if len(match.AssetIDs) == 0 {
		return "", ErrNoAssets
	}

	asset, ok := telemetry.First(match.Included, telemetry.Mapping{
		"type": telemetry.String("asset"),
		"id":   telemetry.String(match.AssetIDs[0]),
	})
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAssetNotIncluded, match.AssetIDs[0])
	}

	u, ok := asset.Str("attributes", "URL")
	if !ok || u == "" {
		return "", ErrAssetURL
	}

	return u, nil
}

// Telemetry fetches the match telemetry log. Any failure is logged and
// reported as unavailable (nil, false).
func (e *Extractor) Telemetry(ctx context.Context, match *pubg.Match) (telemetry.Sequence, bool) {
	u, err := TelemetryURL(match)
	if err != nil {
		slog.Warn("Telemetry asset lookup failed",
			slog.String("match_id", match.ID), slog.String("error", err.Error()))
		return nil, false
	}

	events, err := e.fetcher.FetchTelemetry(ctx, u)
	if err != nil {
		slog.Warn("Telemetry fetch failed",
			slog.String("match_id", match.ID), slog.String("url", u), slog.String("error", err.Error()))
		return nil, false
	}
	if events == nil {
		events = telemetry.Sequence{}
	}

	return events, true
}

// Rank computes the subject's placement. A nil log means telemetry was
// unavailable.
//
// If the subject was never killed they placed first. Otherwise the victim
// ranking of their death is used, falling back to the first nonzero ranking
// among their team's deaths when team modes report zero.
func (e *Extractor) Rank(events telemetry.Sequence) Rank {
	if events == nil {
		return UnknownRank()
	}

	death, ok := telemetry.First(events, telemetry.Mapping{
		"_T":     telemetry.String(killEvent),
		"victim": telemetry.Mapping{"name": telemetry.String(e.subject)},
	})
	if !ok {
		return KnownRank(1)
	}

	ranking, ok := death.Int("victim", "ranking")
	if !ok {
		return UnknownRank()
	}
	if ranking != 0 {
		return KnownRank(ranking)
	}

	teamID, ok := death.Lookup("victim", "teamId")
	if !ok {
		return UnknownRank()
	}

	teamDeaths := telemetry.Filter(events, telemetry.Mapping{
		"_T":     telemetry.String(killEvent),
		"victim": telemetry.Mapping{"teamId": teamID},
	})
	for _, event := range teamDeaths {
		if r, ok := event.(telemetry.Mapping).Int("victim", "ranking"); ok && r != 0 {
			return KnownRank(r)
		}
	}

	return UnknownRank()
}

// Kills counts kill events credited to the subject
func (e *Extractor) Kills(events telemetry.Sequence) Kills {
	if events == nil {
		return UnknownKills()
	}

	return KnownKills(telemetry.Count(events, telemetry.Mapping{
		"_T":     telemetry.String(killEvent),
		"killer": telemetry.Mapping{"name": telemetry.String(e.subject)},
	}))
}

// GameMode reads the mode straight off the match resource
func GameMode(match *pubg.Match) string {
	return match.GameMode
}

// Build assembles a Result from a match and its (possibly unavailable) log
func (e *Extractor) Build(match *pubg.Match, events telemetry.Sequence) Result {
	return Result{
		ID:                 uuid.New(),
		MatchID:            match.ID,
		Shard:              match.Shard,
		Subject:            e.subject,
		Rank:               e.Rank(events),
		Kills:              e.Kills(events),
		GameMode:           GameMode(match),
		CreatedAt:          match.CreatedAt,
		TelemetryAvailable: events != nil,
		ExtractedAt:        e.now(),
	}
}

// Extract fetches telemetry for match and builds its Result
func (e *Extractor) Extract(ctx context.Context, match *pubg.Match) Result {
	events, _ := e.Telemetry(ctx, match)
	return e.Build(match, events)
}
