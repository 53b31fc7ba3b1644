// Package engine is the invocation facade every pipeline calls through. It
// composes budget validation, provider fallback, chunked orchestration,
// structured-output repair, result caching and telemetry behind one entry
// point.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"aina-assist/internal/budget"
	"aina-assist/internal/cache"
	"aina-assist/internal/catalog"
	"aina-assist/internal/chunk"
	"aina-assist/internal/jsonrepair"
	"aina-assist/internal/provider"
	"aina-assist/internal/retry"
	"aina-assist/internal/telemetry"
	"aina-assist/internal/tokens"
)

// Options tunes the facade. Zero values pick the documented defaults.
type Options struct {
	DefaultProvider   string
	AutoFallback      bool
	AutoMapReduce     bool
	ChunkSize         int
	ChunkStrategy     chunk.Strategy
	ChunkOverlap      int
	MapConcurrency    int
	MapReduceProvider string // substitute for local-only providers in sub-calls
	CallTimeout       time.Duration
	RetryAttempts     int
	RetryBase         time.Duration
	CacheTTL          time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 12000
	}
	if o.ChunkStrategy == "" {
		o.ChunkStrategy = chunk.StrategyParagraph
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.MapConcurrency <= 0 {
		o.MapConcurrency = 3
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 2
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	return o
}

// Engine is safe for concurrent use. The only mutable state it touches is
// the provider registry, which synchronizes construction internally.
type Engine struct {
	log      *slog.Logger
	catalog  *catalog.Table
	registry *provider.Registry
	est      *tokens.Estimator
	sink     telemetry.Sink
	cache    cache.Cache
	opts     Options
}

func New(log *slog.Logger, table *catalog.Table, registry *provider.Registry, est *tokens.Estimator, sink telemetry.Sink, c cache.Cache, opts Options) *Engine {
	if est == nil {
		est = tokens.NewEstimator()
	}
	return &Engine{
		log:      log,
		catalog:  table,
		registry: registry,
		est:      est,
		sink:     sink,
		cache:    c,
		opts:     opts.withDefaults(),
	}
}

// Invoke resolves one request: validate, fall back or chunk when oversized,
// normalize structured output, emit telemetry. Telemetry never affects the
// returned result.
func (e *Engine) Invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidArgument)
	}
	providerID := req.Provider
	if providerID == "" {
		providerID = e.opts.DefaultProvider
	}
	desc, ok := e.catalog.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidArgument, providerID)
	}

	key := e.cacheKey(req, desc)
	if res := e.cachedResult(ctx, key); res != nil {
		e.emit(ctx, req, res, nil, start)
		return res, nil
	}

	v := budget.Validate(req.SystemPrompt, req.Prompt, req.MaxOutputTokens, desc, e.est)

	var (
		res *Result
		err error
	)
	if v.Fits {
		res, err = e.call(ctx, req, desc)
	} else {
		res, err = e.resolveOversized(ctx, req, desc, v)
	}
	if err != nil {
		e.emit(ctx, req, nil, err, start)
		return nil, err
	}

	if req.JSONResponse {
		raw, repaired := jsonrepair.Normalize(res.Text)
		res.JSON = raw
		res.Metadata.Repaired = repaired
	}
	res.LatencyMs = time.Since(start).Milliseconds()

	e.emit(ctx, req, res, nil, start)
	e.store(ctx, key, res)
	return res, nil
}

// resolveOversized applies the auto strategies in order: fallback chain
// first, then chunked orchestration, then a hard failure.
func (e *Engine) resolveOversized(ctx context.Context, req Request, desc catalog.Descriptor, v budget.Validation) (*Result, error) {
	if e.opts.AutoFallback && !req.SkipAutoStrategies {
		res, handled, err := e.fallback(ctx, req, desc, v)
		if handled {
			return res, err
		}
	}
	if e.opts.AutoMapReduce && !req.SkipAutoStrategies {
		if req.Strategy == StrategyRefine {
			return e.refine(ctx, req, desc)
		}
		return e.mapReduce(ctx, req, desc, 0)
	}
	return nil, &ContextWindowExceededError{
		Provider:     desc.ID,
		PromptTokens: v.EstimatedPromptTokens,
		MaxTokens:    v.AvailableInputTokens,
	}
}

// call issues one backend call with the per-call timeout and a bounded retry
// on transient failures.
func (e *Engine) call(ctx context.Context, req Request, desc catalog.Descriptor) (*Result, error) {
	adapter, err := e.registry.Get(desc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", desc.ID, err)
	}

	maxOut := req.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = desc.DefaultMaxOutputTokens
	}
	prompt := provider.Prompt{
		System:      req.SystemPrompt,
		User:        req.Prompt,
		MaxTokens:   maxOut,
		Temperature: req.Temperature,
		JSONMode:    req.JSONResponse,
	}

	var comp provider.Completion
	err = retry.Do(ctx, e.opts.RetryAttempts, e.opts.RetryBase, transient, func() error {
		cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		var cerr error
		comp, cerr = adapter.Generate(cctx, prompt)
		return cerr
	})
	if err != nil {
		return nil, err
	}

	tokensIn := comp.TokensIn
	if tokensIn == 0 {
		tokensIn = e.est.Count(req.SystemPrompt, desc.Encoding) + e.est.Count(req.Prompt, desc.Encoding)
	}
	tokensOut := comp.TokensOut
	if tokensOut == 0 {
		tokensOut = e.est.Count(comp.Text, desc.Encoding)
	}
	return &Result{
		Text:      comp.Text,
		Provider:  desc.ID,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}, nil
}

func transient(err error) bool {
	var perr *provider.Error
	return errors.As(err, &perr) && perr.Transient()
}

func (e *Engine) cacheKey(req Request, desc catalog.Descriptor) string {
	return cache.Key(
		desc.ID,
		req.SystemPrompt,
		req.Prompt,
		strconv.FormatBool(req.JSONResponse),
		strconv.Itoa(req.MaxOutputTokens),
		strconv.FormatFloat(req.Temperature, 'g', -1, 64),
	)
}

func (e *Engine) cachedResult(ctx context.Context, key string) *Result {
	if e.cache == nil || e.opts.CacheTTL <= 0 {
		return nil
	}
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		e.log.Warn("cache lookup failed", "err", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		e.log.Warn("cache entry corrupt, ignoring", "err", err)
		return nil
	}
	res.Metadata.CacheHit = true
	return &res
}

func (e *Engine) store(ctx context.Context, key string, res *Result) {
	if e.cache == nil || e.opts.CacheTTL <= 0 || res.Metadata.CacheHit {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, raw, e.opts.CacheTTL); err != nil {
		e.log.Warn("cache store failed", "err", err)
	}
}

// emit fires telemetry. Failures are the sink's problem, never the caller's.
func (e *Engine) emit(ctx context.Context, req Request, res *Result, callErr error, start time.Time) {
	if e.sink == nil {
		return
	}
	entry := telemetry.Entry{
		RequestID: uuid.New(),
		Module:    req.Module,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		LatencyMs: time.Since(start).Milliseconds(),
		At:        time.Now().UTC(),
	}
	if res != nil {
		entry.Provider = res.Provider
		entry.TokensIn = res.TokensIn
		entry.TokensOut = res.TokensOut
		entry.FallbackUsed = res.Metadata.FallbackUsed
		entry.OriginalProvider = res.Metadata.OriginalProvider
		entry.FallbackReason = res.Metadata.FallbackReason
		entry.TotalChunks = res.Metadata.TotalChunks
		entry.CacheHit = res.Metadata.CacheHit
		if d, ok := e.catalog.Get(res.Provider); ok {
			entry.CostEstimate = d.Cost(res.TokensIn, res.TokensOut)
		}
	} else {
		entry.Provider = req.Provider
		if entry.Provider == "" {
			entry.Provider = e.opts.DefaultProvider
		}
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	if err := e.sink.Log(context.WithoutCancel(ctx), entry); err != nil {
		e.log.Warn("telemetry emit failed", "err", err)
	}
}
