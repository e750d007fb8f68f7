package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnic/internal/extract"
)

type namedSink struct {
	name string
	err  error
	hits atomic.Int32
}

func (s *namedSink) Name() string { return s.name }

func (s *namedSink) Write(context.Context, extract.Result) error {
	s.hits.Add(1)
	return s.err
}

func TestFanoutWritesAll(t *testing.T) {
	a := &namedSink{name: "a"}
	b := &namedSink{name: "b"}

	require.NoError(t, NewFanout(a, b).Write(context.Background(), extract.Result{MatchID: "m1"}))
	assert.Equal(t, int32(1), a.hits.Load())
	assert.Equal(t, int32(1), b.hits.Load())
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	errDown := errors.New("connection refused")
	a := &namedSink{name: "postgres", err: errDown}
	b := &namedSink{name: "archive"}
	c := &namedSink{name: "kafka", err: errors.New("leader not available")}

	err := NewFanout(a, b, c).Write(context.Background(), extract.Result{})

	require.Error(t, err)
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, int32(1), b.hits.Load())
	assert.ElementsMatch(t, []string{"postgres", "kafka"}, FailedSinks(err))
}

func TestFanoutEmpty(t *testing.T) {
	require.ErrorIs(t, NewFanout().Write(context.Background(), extract.Result{}), ErrNoSinks)
}

func TestFuncAndNameOf(t *testing.T) {
	var got string
	f := Func(func(_ context.Context, r extract.Result) error {
		got = r.MatchID
		return nil
	})

	require.NoError(t, f.Write(context.Background(), extract.Result{MatchID: "m2"}))
	assert.Equal(t, "m2", got)
	assert.Equal(t, "sink.Func", NameOf(f))
	assert.Equal(t, []string{"unknown"}, FailedSinks(errors.New("plain")))
	assert.Nil(t, FailedSinks(nil))
}
