// Package provider holds the uniform adapter contract over model backends
// and the client registry. Provider-specific prompt formatting lives entirely
// inside each adapter.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Prompt is the formatted input for one backend call.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// Completion is the uniform result of one backend call.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Adapter is implemented once per model backend.
type Adapter interface {
	ID() string
	Generate(ctx context.Context, p Prompt) (Completion, error)
}

// Failure reasons carried by Error.
const (
	ReasonTimeout     = "timeout"
	ReasonRateLimited = "rate_limited"
	ReasonAuth        = "auth"
	ReasonNetwork     = "network"
	ReasonBadResponse = "bad_response"
)

// Error wraps any failure coming out of a backend call.
type Error struct {
	Provider string
	Reason   string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether a bounded retry is worthwhile.
func (e *Error) Transient() bool {
	return e.Reason == ReasonTimeout || e.Reason == ReasonRateLimited || e.Reason == ReasonNetwork
}

// classify builds an Error from a raw adapter failure.
func classify(providerID string, status int, err error) *Error {
	reason := ReasonNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case status == 429:
		reason = ReasonRateLimited
	case status == 401 || status == 403:
		reason = ReasonAuth
	case status >= 400:
		reason = ReasonBadResponse
	}
	return &Error{Provider: providerID, Reason: reason, Status: status, Err: err}
}
