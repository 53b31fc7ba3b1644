package telemetry

import (
	"context"
	"log/slog"
)

// SlogSink writes entries to the structured log. Used when no broker is
// configured so invocations stay observable in development.
type SlogSink struct {
	log *slog.Logger
}

func NewSlog(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Log(_ context.Context, e Entry) error {
	s.log.Info("invocation",
		"request_id", e.RequestID,
		"module", e.Module,
		"provider", e.Provider,
		"tokens_in", e.TokensIn,
		"tokens_out", e.TokensOut,
		"latency_ms", e.LatencyMs,
		"cost_estimate", e.CostEstimate,
		"fallback_used", e.FallbackUsed,
		"total_chunks", e.TotalChunks,
		"cache_hit", e.CacheHit,
		"error", e.Error,
	)
	return nil
}

func (s *SlogSink) Close() error { return nil }
