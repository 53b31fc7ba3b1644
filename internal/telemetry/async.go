package telemetry

import (
	"context"
	"log/slog"
	"sync"
)

// AsyncSink decouples telemetry from the response path: Log enqueues onto a
// bounded channel and never blocks; a background worker drains it into the
// wrapped sink. Overflow drops the entry with a warning, and sink failures
// are logged, never propagated.
type AsyncSink struct {
	log   *slog.Logger
	inner Sink
	ch    chan Entry
	done  chan struct{}
	once  sync.Once
}

// NewAsync wraps inner with a queue of the given size and starts the drain
// worker.
func NewAsync(log *slog.Logger, inner Sink, size int) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	s := &AsyncSink{
		log:   log,
		inner: inner,
		ch:    make(chan Entry, size),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for e := range s.ch {
		if err := s.inner.Log(context.Background(), e); err != nil {
			s.log.Warn("telemetry sink failed", "request_id", e.RequestID, "err", err)
		}
	}
}

// Log never blocks and never returns an error.
func (s *AsyncSink) Log(_ context.Context, e Entry) error {
	select {
	case s.ch <- e:
	default:
		s.log.Warn("telemetry queue full, dropping entry", "request_id", e.RequestID)
	}
	return nil
}

// Close waits for the queue to drain and closes the wrapped sink. Callers
// must not Log after Close.
func (s *AsyncSink) Close() error {
	s.once.Do(func() { close(s.ch) })
	<-s.done
	return s.inner.Close()
}
