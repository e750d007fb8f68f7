package poller

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Watermark is the creation time of the last ingested match. It never moves backwards.
type Watermark struct {
	t time.Time
}

func NewWatermark(t time.Time) Watermark {
	return Watermark{t: t}
}

func (w *Watermark) Time() time.Time {
	return w.t
}

// IsNewer reports whether t is strictly after the watermark
func (w *Watermark) IsNewer(t time.Time) bool {
	return t.After(w.t)
}

// Advance moves the watermark to t if t is newer and reports whether it moved
func (w *Watermark) Advance(t time.Time) bool {
	if !w.IsNewer(t) {
		return false
	}
	w.t = t
	return true
}

// matchFilter remembers ingested match ids so a latest match that has already
// been handled is not fetched again. False positives are possible at the
// configured rate; false negatives are not.
type matchFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func newMatchFilter(capacity uint, rate float64) *matchFilter {
	return &matchFilter{
		filter: bloom.NewWithEstimates(capacity, rate),
	}
}

func (f *matchFilter) Has(matchID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.TestString(matchID)
}

func (f *matchFilter) Add(matchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(matchID)
}
