package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingSink records entries, optionally slowly or with errors.
type capturingSink struct {
	mu      sync.Mutex
	entries []Entry
	delay   time.Duration
	err     error
}

func (c *capturingSink) Log(_ context.Context, e Entry) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return c.err
}

func (c *capturingSink) Close() error { return nil }

func (c *capturingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestAsyncDrainsAllEntries(t *testing.T) {
	inner := &capturingSink{}
	s := NewAsync(slog.Default(), inner, 16)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Log(context.Background(), Entry{RequestID: uuid.New()}))
	}
	require.NoError(t, s.Close())

	assert.Equal(t, 10, inner.count())
}

func TestAsyncNeverBlocksOnSlowSink(t *testing.T) {
	inner := &capturingSink{delay: 200 * time.Millisecond}
	s := NewAsync(slog.Default(), inner, 1)
	defer s.Close()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Log(context.Background(), Entry{RequestID: uuid.New()}))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"Log must return immediately even when the sink is slow")
}

func TestAsyncSwallowsSinkErrors(t *testing.T) {
	inner := &capturingSink{err: errors.New("broker down")}
	s := NewAsync(slog.Default(), inner, 4)

	assert.NoError(t, s.Log(context.Background(), Entry{RequestID: uuid.New()}))
	assert.NoError(t, s.Close())
	assert.Equal(t, 1, inner.count())
}

func TestAsyncOverflowDropsInsteadOfBlocking(t *testing.T) {
	inner := &capturingSink{delay: time.Hour}
	s := NewAsync(slog.Default(), inner, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = s.Log(context.Background(), Entry{RequestID: uuid.New()})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full queue")
	}
}
