package poller

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// State is the scheduler's position in its lifecycle
type State int

const (
	StateIdle State = iota
	StatePolling
	StateRateLimited
	StateStopped
)

var allStates = []State{StateIdle, StatePolling, StateRateLimited, StateStopped}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateRateLimited:
		return "rate_limited"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateNames lists every state name, used to reset state gauges
func StateNames() []string {
	names := make([]string, 0, len(allStates))
	for _, s := range allStates {
		names = append(names, s.String())
	}
	return names
}

var (
	ErrInvalidTrigger = errors.New("trigger id does not match")
	ErrUnknownShard   = errors.New("unknown shard")
	ErrNoShards       = errors.New("shard list is empty")
)

// Scheduler decides which shard each poll cycle queries.
// It is not safe for concurrent use; the Tracker goroutine owns it.
type Scheduler struct {
	shards    []string
	triggerID string

	state   State
	index   int
	pinned  string
	resetAt time.Time
	// epoch increments every time polling starts so a cycle begun before a
	// stop/start pair can tell that it is stale
	epoch uint64
}

func NewScheduler(shards []string, triggerID string) (*Scheduler, error) {
	if len(shards) == 0 {
		return nil, ErrNoShards
	}

	return &Scheduler{
		shards:    slices.Clone(shards),
		triggerID: triggerID,
		state:     StateIdle,
	}, nil
}

// Start begins polling at the first shard. It returns true when the call
// changed state and false when polling was already running.
func (s *Scheduler) Start(triggerID string) (bool, error) {
	if triggerID != s.triggerID {
		return false, fmt.Errorf("%w: %q", ErrInvalidTrigger, triggerID)
	}
	if s.Running() {
		return false, nil
	}

	s.state = StatePolling
	s.index = 0
	s.resetAt = time.Time{}
	s.epoch++

	return true, nil
}

// Stop halts polling from any state. It returns true when polling was running.
func (s *Scheduler) Stop() bool {
	wasRunning := s.Running()
	s.state = StateStopped
	s.resetAt = time.Time{}
	return wasRunning
}

// Pin forces every following cycle onto shard until Unpin
func (s *Scheduler) Pin(shard string) error {
	if !slices.Contains(s.shards, shard) {
		return fmt.Errorf("%w: %s", ErrUnknownShard, shard)
	}
	s.pinned = shard
	return nil
}

func (s *Scheduler) Unpin() {
	s.pinned = ""
}

// Shard returns the shard the next fetch should target
func (s *Scheduler) Shard() string {
	if s.pinned != "" {
		return s.pinned
	}
	return s.shards[s.index]
}

// CycleComplete advances rotation after a finished cycle. The index is frozen
// while a shard is pinned.
func (s *Scheduler) CycleComplete() {
	if s.state != StatePolling {
		return
	}
	if s.pinned != "" {
		return
	}
	s.index = (s.index + 1) % len(s.shards)
}

// RateLimited suspends polling until resetAt without advancing rotation
func (s *Scheduler) RateLimited(resetAt time.Time) {
	if s.state != StatePolling {
		return
	}
	s.state = StateRateLimited
	s.resetAt = resetAt
}

// Resume returns to polling the same shard after a rate limit
func (s *Scheduler) Resume() {
	if s.state != StateRateLimited {
		return
	}
	s.state = StatePolling
	s.resetAt = time.Time{}
}

// Running reports whether cycles should execute
func (s *Scheduler) Running() bool {
	return s.state == StatePolling || s.state == StateRateLimited
}

func (s *Scheduler) State() State       { return s.state }
func (s *Scheduler) Index() int         { return s.index }
func (s *Scheduler) Pinned() string     { return s.pinned }
func (s *Scheduler) ResetAt() time.Time { return s.resetAt }
func (s *Scheduler) Epoch() uint64      { return s.epoch }
func (s *Scheduler) Shards() []string   { return slices.Clone(s.shards) }
