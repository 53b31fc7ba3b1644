// Package tokens estimates token counts for prompt budgeting. Providers with
// a known tiktoken encoding are counted exactly; the rest use a deterministic
// character heuristic, which is close enough for Catalan administrative text.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the heuristic ratio for models without a known tokenizer.
const charsPerToken = 4

// Estimator counts tokens, caching one tiktoken encoder per encoding name.
type Estimator struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	broken    map[string]bool // encodings that failed to load; don't retry
}

func NewEstimator() *Estimator {
	return &Estimator{
		encodings: make(map[string]*tiktoken.Tiktoken),
		broken:    make(map[string]bool),
	}
}

// Count returns the token count of text under the named encoding, falling
// back to the heuristic when the encoding is empty or unavailable.
func (e *Estimator) Count(text, encoding string) int {
	if text == "" {
		return 0
	}
	if encoding == "" {
		return Heuristic(text)
	}
	enc := e.encoder(encoding)
	if enc == nil {
		return Heuristic(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) encoder(name string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encodings[name]; ok {
		return enc
	}
	if e.broken[name] {
		return nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		e.broken[name] = true
		return nil
	}
	e.encodings[name] = enc
	return enc
}

// Heuristic approximates tokens as ceil(len/4) bytes. Deterministic and
// slightly conservative for accented Catalan text.
func Heuristic(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}
