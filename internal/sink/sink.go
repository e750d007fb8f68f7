// Package sink defines where extracted results are written.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"omnic/internal/extract"
)

var ErrNoSinks = errors.New("no sinks configured")

// Sink persists or forwards one result
type Sink interface {
	Write(ctx context.Context, result extract.Result) error
}

// Named is implemented by sinks that identify themselves in logs and metrics
type Named interface {
	Name() string
}

// Func adapts a function to Sink
type Func func(ctx context.Context, result extract.Result) error

func (f Func) Write(ctx context.Context, result extract.Result) error {
	return f(ctx, result)
}

// NameOf returns the sink's name, or its type when it has none
func NameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// WriteError records which sink failed
type WriteError struct {
	Sink string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Fanout writes each result to every sink concurrently. A failure in one sink
// does not stop the others; all failures are joined.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Add appends a sink
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Len returns the number of sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Name() string {
	return "fanout"
}

func (f *Fanout) Write(ctx context.Context, result extract.Result) error {
	if len(f.sinks) == 0 {
		return ErrNoSinks
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(f.sinks))
	)
	for i, s := range f.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Write(ctx, result); err != nil {
				errs[i] = &WriteError{Sink: NameOf(s), Err: err}
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// FailedSinks lists the names of the sinks that failed inside err
func FailedSinks(err error) []string {
	if err == nil {
		return nil
	}

	var names []string
	var walk func(error)
	walk = func(e error) {
		var we *WriteError
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		if errors.As(e, &we) {
			names = append(names, we.Sink)
		}
	}
	walk(err)

	if len(names) == 0 {
		names = append(names, "unknown")
	}
	return names
}
