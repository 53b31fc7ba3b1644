// Package budget decides whether a request fits a provider's context window.
// Pure functions only: no side effects, no network.
package budget

import (
	"aina-assist/internal/catalog"
	"aina-assist/internal/tokens"
)

// Validation is the outcome of checking a request against one descriptor.
type Validation struct {
	Fits                  bool
	EstimatedPromptTokens int
	AvailableInputTokens  int
}

// Validate checks whether system+prompt fit the descriptor's input budget.
// maxOutputTokens <= 0 selects the descriptor's default.
func Validate(systemPrompt, prompt string, maxOutputTokens int, desc catalog.Descriptor, est *tokens.Estimator) Validation {
	if maxOutputTokens <= 0 {
		maxOutputTokens = desc.DefaultMaxOutputTokens
	}
	available := desc.ContextLimitTokens - maxOutputTokens

	estimated := est.Count(prompt, desc.Encoding)
	if systemPrompt != "" {
		estimated += est.Count(systemPrompt, desc.Encoding)
	}

	return Validation{
		Fits:                  estimated <= available,
		EstimatedPromptTokens: estimated,
		AvailableInputTokens:  available,
	}
}
