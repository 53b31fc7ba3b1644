package engine

import (
	"context"
	"fmt"

	"aina-assist/internal/budget"
	"aina-assist/internal/catalog"
)

// fallback walks the descriptor's chain in order and re-issues the request
// against the first candidate whose own budget accommodates it. The re-issued
// request carries SkipAutoStrategies so a mis-sized chain can never recurse.
// handled=false means no candidate fits and the facade decides what is next.
func (e *Engine) fallback(ctx context.Context, req Request, desc catalog.Descriptor, v budget.Validation) (res *Result, handled bool, err error) {
	for _, id := range desc.FallbackChain {
		cand, ok := e.catalog.Get(id)
		if !ok {
			continue
		}
		cv := budget.Validate(req.SystemPrompt, req.Prompt, req.MaxOutputTokens, cand, e.est)
		if !cv.Fits {
			continue
		}

		sub := req
		sub.Provider = cand.ID
		sub.SkipAutoStrategies = true

		e.log.Info("falling back to larger provider",
			"from", desc.ID,
			"to", cand.ID,
			"prompt_tokens", v.EstimatedPromptTokens,
			"available", v.AvailableInputTokens,
		)

		res, err := e.call(ctx, sub, cand)
		if err != nil {
			return nil, true, err
		}
		res.Metadata.FallbackUsed = true
		res.Metadata.OriginalProvider = desc.ID
		res.Metadata.FallbackReason = fmt.Sprintf("context_window_exceeded: %d > %d",
			v.EstimatedPromptTokens, v.AvailableInputTokens)
		return res, true, nil
	}
	return nil, false, nil
}
