// Package broker publishes results to message buses so downstream overlays
// and bots can consume them.
package broker

import (
	"fmt"

	"github.com/goccy/go-json"

	"omnic/internal/extract"
)

const (
	// DefaultTopic is used for both the Kafka topic and the NATS subject
	DefaultTopic = "omnic.results"

	headerMatchID = "Match-Id"
	headerShard   = "Shard"
)

func encode(result extract.Result) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}
