// Package chunk splits oversized documents into provider-sized spans.
// A plan is computed per invocation and discarded after use.
package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"aina-assist/internal/tokens"
)

// Strategy selects how chunk boundaries are chosen.
type Strategy string

const (
	// StrategyParagraph splits on blank lines and packs whole paragraphs.
	StrategyParagraph Strategy = "paragraph"
	// StrategySentence packs whole sentences; finer grained, weaker context.
	StrategySentence Strategy = "sentence"
	// StrategyFixed cuts at a fixed size and may break mid-sentence.
	StrategyFixed Strategy = "fixed"
)

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyParagraph, StrategySentence, StrategyFixed:
		return Strategy(s), nil
	case "":
		return StrategyParagraph, nil
	}
	return "", fmt.Errorf("chunk: unknown strategy %q (valid: paragraph, sentence, fixed)", s)
}

// ErrChunkSizeTooSmall signals a configuration error: the provider's window
// cannot hold instructions plus any useful amount of document text.
var ErrChunkSizeTooSmall = errors.New("chunk: adaptive chunk size is not positive")

// AdaptiveSize computes the safe per-chunk token budget for a provider:
// context limit minus reserved output, instruction overhead and a 10% safety
// margin. A non-positive result is a configuration error, never clamped.
func AdaptiveSize(contextLimit, maxOutputTokens, overheadTokens int) (int, error) {
	margin := contextLimit / 10
	size := contextLimit - maxOutputTokens - overheadTokens - margin
	if size <= 0 {
		return 0, fmt.Errorf("%w: context %d - output %d - overhead %d - margin %d = %d",
			ErrChunkSizeTooSmall, contextLimit, maxOutputTokens, overheadTokens, margin, size)
	}
	return size, nil
}

// CountFunc measures text in tokens.
type CountFunc func(string) int

// Chunk is one span of the source. Text starts with Overlap bytes carried
// from the previous chunk for cross-boundary context; the remainder is the
// chunk's own span. Concatenating the own spans in order reconstructs the
// source exactly.
type Chunk struct {
	Text    string
	Overlap int
}

// Own returns the chunk's span without the carried overlap.
func (c Chunk) Own() string { return c.Text[c.Overlap:] }

// Plan is an ordered chunking of one document.
type Plan struct {
	ChunkSizeTokens int
	OverlapTokens   int
	Strategy        Strategy
	Chunks          []Chunk
}

// Split chunks text into spans of at most sizeTokens, packing units chosen by
// the strategy greedily and carrying overlapTokens of trailing text across
// boundaries.
func Split(text string, sizeTokens, overlapTokens int, strategy Strategy, count CountFunc) (Plan, error) {
	if sizeTokens <= 0 {
		return Plan{}, fmt.Errorf("%w: size %d", ErrChunkSizeTooSmall, sizeTokens)
	}
	if count == nil {
		count = tokens.Heuristic
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}

	plan := Plan{ChunkSizeTokens: sizeTokens, OverlapTokens: overlapTokens, Strategy: strategy}
	if text == "" {
		return plan, nil
	}

	var units []string
	switch strategy {
	case StrategySentence:
		units = splitSentences(text)
	case StrategyFixed:
		units = fixedCut(text, sizeTokens, count)
	default:
		units = splitParagraphs(text)
	}

	var (
		cur       strings.Builder
		curTokens int
		prevOwn   string
	)
	emit := func(own string) {
		overlap := ""
		if overlapTokens > 0 && prevOwn != "" {
			overlap = tailRunes(prevOwn, overlapTokens*4)
		}
		plan.Chunks = append(plan.Chunks, Chunk{Text: overlap + own, Overlap: len(overlap)})
		prevOwn = own
	}
	flush := func() {
		if cur.Len() > 0 {
			emit(cur.String())
			cur.Reset()
			curTokens = 0
		}
	}

	for _, unit := range units {
		ut := count(unit)
		if ut > sizeTokens {
			// A single unit larger than the budget gets hard-split.
			flush()
			for _, piece := range fixedCut(unit, sizeTokens, count) {
				emit(piece)
			}
			continue
		}
		if curTokens > 0 && curTokens+ut > sizeTokens {
			flush()
		}
		cur.WriteString(unit)
		curTokens += ut
	}
	flush()

	return plan, nil
}

// splitParagraphs partitions text after every blank line, keeping separators
// so spans concatenate back to the source.
func splitParagraphs(text string) []string {
	parts := strings.SplitAfter(text, "\n\n")
	units := parts[:0]
	for _, p := range parts {
		if p != "" {
			units = append(units, p)
		}
	}
	return units
}

// splitSentences partitions text after sentence-final punctuation followed by
// whitespace (the whitespace stays with the finished sentence).
func splitSentences(text string) []string {
	var units []string
	start := 0
	for i, r := range text {
		if i < start {
			continue
		}
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}
		j := i + utf8.RuneLen(r)
		k := j
		for k < len(text) {
			r2, w := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(r2) {
				break
			}
			k += w
		}
		if k > j || k == len(text) {
			units = append(units, text[start:k])
			start = k
		}
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

// fixedCut partitions text into pieces of roughly sizeTokens, cutting at rune
// boundaries regardless of structure.
func fixedCut(text string, sizeTokens int, count CountFunc) []string {
	total := count(text)
	if total <= sizeTokens {
		return []string{text}
	}
	bytesPerToken := len(text) / total
	if bytesPerToken < 1 {
		bytesPerToken = 1
	}
	step := sizeTokens * bytesPerToken

	var pieces []string
	for start := 0; start < len(text); {
		end := start + step
		if end >= len(text) {
			pieces = append(pieces, text[start:])
			break
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == start {
			end = start + step
		}
		pieces = append(pieces, text[start:end])
		start = end
	}
	return pieces
}

// tailRunes returns at most n trailing bytes of s, aligned to a rune start.
func tailRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if n >= len(s) {
		return s
	}
	idx := len(s) - n
	for idx < len(s) && !utf8.RuneStart(s[idx]) {
		idx++
	}
	return s[idx:]
}
