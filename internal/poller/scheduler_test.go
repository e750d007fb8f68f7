package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShards = []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7"}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	s, err := NewScheduler(testShards, DefaultTriggerID)
	require.NoError(t, err)

	return s
}

func TestNewSchedulerRequiresShards(t *testing.T) {
	_, err := NewScheduler(nil, DefaultTriggerID)
	require.ErrorIs(t, err, ErrNoShards)
}

func TestSchedulerRotation(t *testing.T) {
	s := newTestScheduler(t)

	started, err := s.Start(DefaultTriggerID)
	require.NoError(t, err)
	require.True(t, started)

	var visited []string
	for range len(testShards) + 1 {
		visited = append(visited, s.Shard())
		s.CycleComplete()
	}

	assert.Equal(t, append(append([]string{}, testShards...), "s0"), visited)
}

func TestSchedulerInvalidTrigger(t *testing.T) {
	s := newTestScheduler(t)

	started, err := s.Start("12345")
	require.ErrorIs(t, err, ErrInvalidTrigger)
	assert.False(t, started)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, uint64(0), s.Epoch())
}

func TestSchedulerStartWhileRunningIsNoop(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Start(DefaultTriggerID)
	require.NoError(t, err)
	s.CycleComplete()
	s.CycleComplete()

	started, err := s.Start(DefaultTriggerID)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, 2, s.Index())
	assert.Equal(t, uint64(1), s.Epoch())
}

func TestSchedulerRestartResetsIndex(t *testing.T) {
	s := newTestScheduler(t)

	_, _ = s.Start(DefaultTriggerID)
	s.CycleComplete()
	s.CycleComplete()
	s.CycleComplete()

	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())

	started, err := s.Start(DefaultTriggerID)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, "s0", s.Shard())
	assert.Equal(t, uint64(2), s.Epoch())
}

func TestSchedulerCycleCompleteIgnoredWhenNotPolling(t *testing.T) {
	s := newTestScheduler(t)

	s.CycleComplete()
	assert.Equal(t, 0, s.Index())

	_, _ = s.Start(DefaultTriggerID)
	s.RateLimited(time.Now().Add(time.Minute))
	s.CycleComplete()
	assert.Equal(t, 0, s.Index())
}

func TestSchedulerPin(t *testing.T) {
	s := newTestScheduler(t)
	_, _ = s.Start(DefaultTriggerID)
	s.CycleComplete()

	require.NoError(t, s.Pin("s5"))
	for range 3 {
		assert.Equal(t, "s5", s.Shard())
		s.CycleComplete()
	}
	assert.Equal(t, 1, s.Index())

	s.Unpin()
	assert.Equal(t, "s1", s.Shard())
	s.CycleComplete()
	assert.Equal(t, "s2", s.Shard())
}

func TestSchedulerPinUnknownShard(t *testing.T) {
	s := newTestScheduler(t)

	err := s.Pin("pc-moon")
	require.ErrorIs(t, err, ErrUnknownShard)
	assert.Empty(t, s.Pinned())
}

func TestSchedulerRateLimitResumesSameShard(t *testing.T) {
	s := newTestScheduler(t)
	_, _ = s.Start(DefaultTriggerID)
	s.CycleComplete()
	s.CycleComplete()

	reset := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.RateLimited(reset)
	assert.Equal(t, StateRateLimited, s.State())
	assert.Equal(t, reset, s.ResetAt())
	assert.True(t, s.Running())

	s.Resume()
	assert.Equal(t, StatePolling, s.State())
	assert.True(t, s.ResetAt().IsZero())
	assert.Equal(t, "s2", s.Shard())
}

func TestSchedulerStopFromRateLimited(t *testing.T) {
	s := newTestScheduler(t)
	_, _ = s.Start(DefaultTriggerID)
	s.RateLimited(time.Now().Add(time.Hour))

	assert.True(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())

	s.Resume()
	assert.Equal(t, StateStopped, s.State())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, []string{"idle", "polling", "rate_limited", "stopped"}, StateNames())
}
