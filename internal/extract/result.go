package extract

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// UnknownRankSentinel is written in place of a rank that could not be determined
const UnknownRankSentinel = -1

// Rank is a placement that may be unknown
type Rank struct {
	value int
	known bool
}

// KnownRank wraps a determined placement
func KnownRank(v int) Rank { return Rank{value: v, known: true} }

// UnknownRank is the placement when telemetry could not answer
func UnknownRank() Rank { return Rank{} }

// Value returns the placement and whether it is known
func (r Rank) Value() (int, bool) { return r.value, r.known }

// Known reports whether the placement was determined
func (r Rank) Known() bool { return r.known }

// Sentinel renders the rank for storage, -1 when unknown
func (r Rank) Sentinel() int {
	if !r.known {
		return UnknownRankSentinel
	}
	return r.value
}

func (r Rank) String() string {
	if !r.known {
		return "unknown"
	}
	return "#" + strconv.Itoa(r.value)
}

func (r Rank) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Sentinel())
}

func (r *Rank) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == UnknownRankSentinel {
		*r = UnknownRank()
		return nil
	}
	*r = KnownRank(v)
	return nil
}

// Kills is a kill count that may be unknown
type Kills struct {
	value int
	known bool
}

// KnownKills wraps a counted kill total
func KnownKills(v int) Kills { return Kills{value: v, known: true} }

// UnknownKills is the kill count when telemetry was unavailable
func UnknownKills() Kills { return Kills{} }

// Value returns the count and whether it is known
func (k Kills) Value() (int, bool) { return k.value, k.known }

// Known reports whether the count was determined
func (k Kills) Known() bool { return k.known }

// Sentinel renders the count for storage, nil when unknown
func (k Kills) Sentinel() *int {
	if !k.known {
		return nil
	}
	v := k.value
	return &v
}

func (k Kills) String() string {
	if !k.known {
		return "unknown"
	}
	return strconv.Itoa(k.value)
}

func (k Kills) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Sentinel())
}

func (k *Kills) UnmarshalJSON(data []byte) error {
	var v *int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*k = UnknownKills()
		return nil
	}
	*k = KnownKills(*v)
	return nil
}

// Result is the record produced for one ingested match
type Result struct {
	ID        uuid.UUID `json:"id"`
	Series    int64     `json:"series"`
	MatchID   string    `json:"matchId"`
	Shard     string    `json:"shard"`
	Subject   string    `json:"streamerId"`
	Rank      Rank      `json:"rank"`
	Kills     Kills     `json:"kills"`
	GameMode  string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	// TelemetryAvailable is false when the telemetry asset could not be loaded
	TelemetryAvailable bool      `json:"telemetryAvailable"`
	ExtractedAt        time.Time `json:"extractedAt"`
}
