package poller

import (
	"time"

	"omnic/internal/extract"
)

// Command is a control message for the Tracker. The set is closed: Start,
// Stop, Pin, Unpin, ForceIngest and the read-only status query.
type Command interface {
	command()
}

// Start begins polling when TriggerID matches the configured trigger
type Start struct {
	TriggerID string
}

// Stop halts polling once the in-flight call returns
type Stop struct{}

// Pin overrides shard selection for following cycles
type Pin struct {
	Shard string
}

// Unpin restores round-robin rotation
type Unpin struct{}

// ForceIngest ingests a specific match regardless of rotation and watermark.
// Shard defaults to the scheduler's current shard.
type ForceIngest struct {
	MatchID string
	Shard   string
}

type statusQuery struct{}

func (Start) command()       {}
func (Stop) command()        {}
func (Pin) command()         {}
func (Unpin) command()       {}
func (ForceIngest) command() {}
func (statusQuery) command() {}

// Reply is the Tracker's answer to a Command
type Reply struct {
	Err    error
	Status Status
	// Result is set for a successful ForceIngest
	Result *extract.Result
}

type request struct {
	cmd   Command
	reply chan Reply
}

func newRequest(cmd Command) request {
	return request{cmd: cmd, reply: make(chan Reply, 1)}
}

func (r request) respond(reply Reply) {
	r.reply <- reply
}

// Status is a snapshot of the tracker's state
type Status struct {
	Subject        string          `json:"subject"`
	State          string          `json:"state"`
	Shard          string          `json:"shard"`
	Index          int             `json:"index"`
	Pinned         string          `json:"pinned,omitempty"`
	Shards         []string        `json:"shards"`
	ResetAt        *time.Time      `json:"resetAt,omitempty"`
	Watermark      time.Time       `json:"watermark"`
	Cycles         int64           `json:"cycles"`
	Ingested       int64           `json:"ingested"`
	PendingIngests int             `json:"pendingIngests"`
	LastResult     *extract.Result `json:"lastResult,omitempty"`
	LastError      string          `json:"lastError,omitempty"`
}
