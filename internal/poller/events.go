package poller

import (
	"context"
	"time"

	"omnic/internal/extract"
)

// EventKind classifies operator notifications
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventRateLimited
	EventIngested
	EventSinkFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventRateLimited:
		return "rate_limited"
	case EventIngested:
		return "ingested"
	case EventSinkFailed:
		return "sink_failed"
	default:
		return "unknown"
	}
}

// Event is something the operator should hear about
type Event struct {
	Kind    EventKind
	Subject string
	Shard   string
	At      time.Time
	// ResetAt is set for EventRateLimited
	ResetAt time.Time
	// Result is set for EventIngested and EventSinkFailed
	Result *extract.Result
	// Err is set for EventSinkFailed
	Err error
}

// Notifier delivers events to the operator channel
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifyFunc adapts a function to Notifier
type NotifyFunc func(ctx context.Context, event Event) error

func (f NotifyFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}
