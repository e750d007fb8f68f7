package pubg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// probePlayerID never exists, so a working key gets a 404 back
const probePlayerID = "account.omnic-key-probe"

// ValidateKey checks the configured key against one shard.
// Returns:
//   - (true, nil) if the key is accepted (the probe lookup returns 200 or 404)
//   - (false, nil) if the key is rejected (401/403)
//   - (false, error) if there was a network/server error (key validity unknown)
func (c *Client) ValidateKey(ctx context.Context, shard string) (bool, error) {
	var discard PlayersResponse
	err := c.doRequest(ctx, c.shardURL(shard, "players", probePlayerID), true, &discard)
	if err == nil {
		return true, nil
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false, err
	}

	switch statusErr.StatusCode {
	case http.StatusNotFound:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status code: %d", statusErr.StatusCode)
	}
}
