package engine

import (
	"context"
	"sync/atomic"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// EventSink receives emitted events during a run. Implementations must be
// safe for concurrent use and must not block the engine for more than a
// small bounded time (spec §4.7: "Providers must not block the engine for
// more than a small bounded time").
type EventSink interface {
	Emit(ctx context.Context, e models.Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, models.Event) {}

// CallbackSink wraps a function as an EventSink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.Event)
}

// NewCallbackSink wraps fn as a sink, for tests and inline subscribers.
func NewCallbackSink(fn func(ctx context.Context, e models.Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Emit(ctx context.Context, e models.Event) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// MultiSink fans out to multiple sinks. Nil sinks are filtered at
// construction.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink returns a sink dispatching to every non-nil sink given.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e models.Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// BackpressureSink bounds a single subscriber's buffer (spec §5, default
// 256) and counts drops instead of blocking the engine. Unlike the
// teacher's two-lane high/low-priority split, every event kind here is
// equally droppable under backpressure — spec §5 names one bounded buffer
// per subscriber, not a priority scheme — so a single channel plus a drop
// counter covers it.
type BackpressureSink struct {
	ch      chan models.Event
	dropped uint64
	closed  uint32
}

// NewBackpressureSink creates a bounded sink. bufferSize <= 0 uses spec
// §5's default of 256. The returned channel must be drained by the caller.
func NewBackpressureSink(bufferSize int) (*BackpressureSink, <-chan models.Event) {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &BackpressureSink{ch: make(chan models.Event, bufferSize)}
	return s, s.ch
}

func (s *BackpressureSink) Emit(_ context.Context, e models.Event) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	select {
	case s.ch <- e:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// DroppedCount returns how many events this sink has dropped, surfaced in
// RunEndPayload.DroppedEvents at run_end (spec §4.7, §5).
func (s *BackpressureSink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops accepting events and closes the output channel. Safe to call
// more than once.
func (s *BackpressureSink) Close() {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.ch)
	}
}
