// Package telemetry defines the entry emitted per invocation and the sink
// contract. Sinks are fire-and-forget: the response path never blocks on or
// fails because of them.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one invocation record, consumed by the external analytics store.
type Entry struct {
	RequestID        uuid.UUID `json:"request_id"`
	Module           string    `json:"module"`
	Provider         string    `json:"provider"`
	TokensIn         int       `json:"tokens_in"`
	TokensOut        int       `json:"tokens_out"`
	LatencyMs        int64     `json:"latency_ms"`
	CostEstimate     float64   `json:"cost_estimate"`
	FallbackUsed     bool      `json:"fallback_used"`
	OriginalProvider string    `json:"original_provider,omitempty"`
	FallbackReason   string    `json:"fallback_reason,omitempty"`
	TotalChunks      int       `json:"total_chunks,omitempty"`
	CacheHit         bool      `json:"cache_hit,omitempty"`
	UserID           string    `json:"user_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	Error            string    `json:"error,omitempty"`
	At               time.Time `json:"at"`
}

// Sink receives entries. Implementations may block; wrap them in NewAsync to
// decouple them from the caller.
type Sink interface {
	Log(ctx context.Context, e Entry) error
	Close() error
}
