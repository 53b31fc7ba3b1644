package engine

import "encoding/json"

// Chunking strategies a caller can force when a prompt does not fit.
const (
	StrategyMapReduce = "map_reduce"
	StrategyRefine    = "refine"
)

// Request is one invocation from an upstream pipeline. Not persisted.
type Request struct {
	Prompt          string
	SystemPrompt    string
	JSONResponse    bool
	Provider        string // descriptor id; empty selects the configured default
	MaxOutputTokens int
	Temperature     float64

	// Attribution for telemetry.
	Module    string
	UserID    string
	SessionID string

	// Strategy picks the orchestration for oversized prompts; empty means
	// map-reduce. Refinement is for tasks needing accumulated context.
	Strategy string

	// SkipAutoStrategies disables fallback and chunking for this call.
	// Set internally on re-issued calls to prevent recursion.
	SkipAutoStrategies bool
}

// Metadata records how a result was produced.
type Metadata struct {
	FallbackUsed     bool   `json:"fallback_used"`
	OriginalProvider string `json:"original_provider,omitempty"`
	FallbackReason   string `json:"fallback_reason,omitempty"`
	TotalChunks      int    `json:"total_chunks,omitempty"`
	Repaired         bool   `json:"repaired,omitempty"`
	CacheHit         bool   `json:"cache_hit,omitempty"`
}

// Result is returned per call; ownership passes to the caller.
type Result struct {
	Text      string          `json:"text"`
	JSON      json.RawMessage `json:"json,omitempty"`
	Provider  string          `json:"provider"` // provider actually used
	TokensIn  int             `json:"tokens_in"`
	TokensOut int             `json:"tokens_out"`
	LatencyMs int64           `json:"latency_ms"`
	Metadata  Metadata        `json:"metadata"`
}
