package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"aina-assist/internal/budget"
	"aina-assist/internal/catalog"
	"aina-assist/internal/chunk"
)

// maxMapReduceDepth bounds recursion when even the combined partial results
// exceed the sub-call provider's window. Beyond it the request fails rather
// than re-chunking forever.
const maxMapReduceDepth = 2

const reduceInstruction = "A continuació tens respostes parcials generades per a fragments consecutius " +
	"d'un mateix document. Combina-les en una única resposta final coherent, sense repetir contingut."

const refineInstruction = "Tens un resultat provisional construït a partir dels fragments anteriors " +
	"del document. Actualitza'l incorporant el fragment nou, mantenint la coherència i el registre formal."

// headerSlack reserves room for fragment tags and joining text when sizing
// chunks.
const headerSlack = 64

// subCallDescriptor picks the provider for orchestrator sub-calls. Local-only
// targets cannot take the fan-out, so the configured map-reduce provider
// substitutes for them.
func (e *Engine) subCallDescriptor(desc catalog.Descriptor) (catalog.Descriptor, error) {
	if !desc.LocalOnly {
		return desc, nil
	}
	sub, ok := e.catalog.Get(e.opts.MapReduceProvider)
	if !ok {
		return catalog.Descriptor{}, fmt.Errorf("%w: map-reduce provider %q not in catalog",
			ErrInvalidArgument, e.opts.MapReduceProvider)
	}
	e.log.Info("substituting provider for sub-calls", "from", desc.ID, "to", sub.ID)
	return sub, nil
}

// plan sizes chunks for the sub-call provider: its window minus the reserved
// output, instruction overhead and safety margin, capped by the configured
// chunk size. extraTokens reserves additional room (the running result during
// refinement).
func (e *Engine) plan(req Request, desc catalog.Descriptor, extraTokens int) (chunk.Plan, error) {
	maxOut := req.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = desc.DefaultMaxOutputTokens
	}
	overhead := e.est.Count(req.SystemPrompt, desc.Encoding) +
		e.est.Count(reduceInstruction, desc.Encoding) +
		headerSlack + extraTokens

	size, err := chunk.AdaptiveSize(desc.ContextLimitTokens, maxOut, overhead)
	if err != nil {
		return chunk.Plan{}, err
	}
	if e.opts.ChunkSize > 0 && e.opts.ChunkSize < size {
		size = e.opts.ChunkSize
	}
	count := func(s string) int { return e.est.Count(s, desc.Encoding) }
	return chunk.Split(req.Prompt, size, e.opts.ChunkOverlap, e.opts.ChunkStrategy, count)
}

// mapReduce splits the prompt, runs independent map calls concurrently up to
// the configured fan-out, reassembles partial results in original chunk order
// and combines them with one reduce call.
func (e *Engine) mapReduce(ctx context.Context, req Request, desc catalog.Descriptor, depth int) (*Result, error) {
	sub, err := e.subCallDescriptor(desc)
	if err != nil {
		return nil, err
	}
	if depth >= maxMapReduceDepth {
		v := budget.Validate(req.SystemPrompt, req.Prompt, req.MaxOutputTokens, sub, e.est)
		return nil, &ContextWindowExceededError{
			Provider:     sub.ID,
			PromptTokens: v.EstimatedPromptTokens,
			MaxTokens:    v.AvailableInputTokens,
		}
	}

	plan, err := e.plan(req, sub, 0)
	if err != nil {
		return nil, err
	}
	n := len(plan.Chunks)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty chunk plan", ErrInvalidArgument)
	}
	e.log.Info("map-reduce", "provider", sub.ID, "chunks", n, "depth", depth,
		"chunk_size", plan.ChunkSizeTokens, "strategy", string(plan.Strategy))

	partials := make([]*Result, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MapConcurrency)
	for i, c := range plan.Chunks {
		g.Go(func() error {
			sreq := req
			sreq.Provider = sub.ID
			sreq.SkipAutoStrategies = true
			sreq.JSONResponse = false // partials stay free text; the reduce call honors JSON mode
			sreq.Prompt = fmt.Sprintf("[Fragment %d/%d]\n\n%s", i+1, n, c.Text)
			r, cerr := e.call(gctx, sreq, sub)
			if cerr != nil {
				return cerr
			}
			partials[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Reassembly is by chunk index, never completion order.
	var combined strings.Builder
	combined.WriteString(reduceInstruction)
	combined.WriteString("\n\n")
	tokensIn, tokensOut := 0, 0
	for i, p := range partials {
		fmt.Fprintf(&combined, "[Resposta %d/%d]\n%s\n\n", i+1, n, p.Text)
		tokensIn += p.TokensIn
		tokensOut += p.TokensOut
	}

	rreq := req
	rreq.Provider = sub.ID
	rreq.Prompt = combined.String()

	var final *Result
	rv := budget.Validate(rreq.SystemPrompt, rreq.Prompt, rreq.MaxOutputTokens, sub, e.est)
	if !rv.Fits {
		final, err = e.mapReduce(ctx, rreq, sub, depth+1)
	} else {
		rreq.SkipAutoStrategies = true
		final, err = e.call(ctx, rreq, sub)
	}
	if err != nil {
		return nil, err
	}

	final.TokensIn += tokensIn
	final.TokensOut += tokensOut
	final.Metadata.TotalChunks = n
	return final, nil
}

// refine is the sequential variant for tasks needing accumulated context:
// each step feeds the running result plus one new chunk, carrying forward
// only the latest output.
func (e *Engine) refine(ctx context.Context, req Request, desc catalog.Descriptor) (*Result, error) {
	sub, err := e.subCallDescriptor(desc)
	if err != nil {
		return nil, err
	}

	maxOut := req.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = sub.DefaultMaxOutputTokens
	}
	// The running result (at most one output) rides along with every chunk.
	plan, err := e.plan(req, sub, maxOut)
	if err != nil {
		return nil, err
	}
	n := len(plan.Chunks)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty chunk plan", ErrInvalidArgument)
	}
	e.log.Info("iterative refinement", "provider", sub.ID, "chunks", n)

	running := ""
	tokensIn, tokensOut := 0, 0
	for i, c := range plan.Chunks {
		sreq := req
		sreq.Provider = sub.ID
		sreq.SkipAutoStrategies = true
		sreq.JSONResponse = req.JSONResponse && i == n-1
		if running == "" {
			sreq.Prompt = fmt.Sprintf("[Fragment %d/%d]\n\n%s", i+1, n, c.Text)
		} else {
			sreq.Prompt = fmt.Sprintf("%s\n\nResultat provisional:\n%s\n\n[Fragment %d/%d]\n\n%s",
				refineInstruction, running, i+1, n, c.Text)
		}
		r, cerr := e.call(ctx, sreq, sub)
		if cerr != nil {
			return nil, cerr
		}
		running = r.Text
		tokensIn += r.TokensIn
		tokensOut += r.TokensOut
	}

	return &Result{
		Text:      running,
		Provider:  sub.ID,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Metadata:  Metadata{TotalChunks: n},
	}, nil
}
