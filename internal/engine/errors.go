package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument rejects malformed requests (empty prompt, unknown
// provider) before any backend is touched.
var ErrInvalidArgument = errors.New("invalid argument")

// ContextWindowExceededError means no provider or strategy could resolve an
// oversized prompt.
type ContextWindowExceededError struct {
	Provider     string
	PromptTokens int
	MaxTokens    int
}

func (e *ContextWindowExceededError) Error() string {
	return fmt.Sprintf("context window exceeded on %s: %d prompt tokens > %d available",
		e.Provider, e.PromptTokens, e.MaxTokens)
}
