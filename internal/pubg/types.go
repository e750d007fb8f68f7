package pubg

import (
	"time"

	"omnic/internal/telemetry"
)

// PlayersResponse represents the response from /shards/{shard}/players?filter[playerNames]=
type PlayersResponse struct {
	Data []PlayerResource `json:"data"`
}

type PlayerResource struct {
	Type          string              `json:"type"`
	ID            string              `json:"id"`
	Attributes    PlayerAttributes    `json:"attributes"`
	Relationships PlayerRelationships `json:"relationships"`
}

type PlayerAttributes struct {
	Name         string    `json:"name"`
	ShardID      string    `json:"shardId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	PatchVersion string    `json:"patchVersion"`
	TitleID      string    `json:"titleId"`
}

type PlayerRelationships struct {
	Matches Relationship `json:"matches"`
}

// Relationship is a JSON:API to-many relationship
type Relationship struct {
	Data []ResourceRef `json:"data"`
}

// ResourceRef identifies another resource by type and id
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// MatchResponse represents the response from /shards/{shard}/matches/{id}
type MatchResponse struct {
	Data     MatchResource      `json:"data"`
	Included telemetry.Sequence `json:"included"`
}

type MatchResource struct {
	Type          string             `json:"type"`
	ID            string             `json:"id"`
	Attributes    MatchAttributes    `json:"attributes"`
	Relationships MatchRelationships `json:"relationships"`
}

type MatchAttributes struct {
	CreatedAt     time.Time `json:"createdAt"`
	Duration      int       `json:"duration"`
	GameMode      string    `json:"gameMode"`
	MapName       string    `json:"mapName"`
	ShardID       string    `json:"shardId"`
	IsCustomMatch bool      `json:"isCustomMatch"`
}

type MatchRelationships struct {
	Assets  Relationship `json:"assets"`
	Rosters Relationship `json:"rosters"`
}

// StatusResponse represents the response from /status
type StatusResponse struct {
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			ReleasedAt time.Time `json:"releasedAt"`
			Version    string    `json:"version"`
		} `json:"attributes"`
	} `json:"data"`
}

// Player is the subset of a player resource the tracker needs
type Player struct {
	ID            string
	Name          string
	Shard         string
	UpdatedAt     time.Time
	LatestMatchID string
}

// Match is a match summary with its included resources
type Match struct {
	ID        string
	Shard     string
	GameMode  string
	MapName   string
	Duration  int
	CreatedAt time.Time
	AssetIDs  []string
	Included  telemetry.Sequence
}

func (r PlayerResource) toPlayer(shard string) *Player {
	p := &Player{
		ID:        r.ID,
		Name:      r.Attributes.Name,
		Shard:     shard,
		UpdatedAt: r.Attributes.UpdatedAt,
	}
	if len(r.Relationships.Matches.Data) > 0 {
		p.LatestMatchID = r.Relationships.Matches.Data[0].ID
	}
	return p
}

func (r MatchResponse) toMatch(shard string) *Match {
	m := &Match{
		ID:        r.Data.ID,
		Shard:     shard,
		GameMode:  r.Data.Attributes.GameMode,
		MapName:   r.Data.Attributes.MapName,
		Duration:  r.Data.Attributes.Duration,
		CreatedAt: r.Data.Attributes.CreatedAt,
		Included:  r.Included,
	}
	for _, asset := range r.Data.Relationships.Assets.Data {
		m.AssetIDs = append(m.AssetIDs, asset.ID)
	}
	return m
}
