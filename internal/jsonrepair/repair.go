// Package jsonrepair recovers structured output from backends that do not
// reliably produce valid JSON. Repair is best effort: when nothing can be
// salvaged the raw text is wrapped instead of failing the call.
package jsonrepair

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// Normalize returns valid JSON for raw model output. The second return value
// reports whether a repair pass was needed; already-valid input is returned
// unchanged, so Normalize is idempotent.
func Normalize(raw string) (json.RawMessage, bool) {
	s := strings.TrimSpace(raw)
	s = stripFences(s)

	if json.Valid([]byte(s)) {
		return json.RawMessage(s), s != raw
	}

	if fixed, ok := trimExcessClosers(s); ok {
		return json.RawMessage(fixed), true
	}
	if fixed := trailingComma.ReplaceAllString(s, "$1"); json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed), true
	}
	if fixed, ok := longestValidPrefix(s); ok {
		return json.RawMessage(fixed), true
	}

	wrapped, _ := json.Marshal(map[string]string{"response": raw})
	return wrapped, true
}

// stripFences removes a markdown code fence around the payload, a common
// habit of chat-tuned models.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:] // drop the language tag line
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

// trimExcessClosers drops surplus trailing brackets or braces when the text
// ends with more closers than were ever opened.
func trimExcessClosers(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for _, c := range []byte(s) {
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}
	if depth >= 0 {
		return "", false
	}
	trimmed := s
	for depth < 0 && len(trimmed) > 0 {
		last := trimmed[len(trimmed)-1]
		if last == '}' || last == ']' {
			trimmed = strings.TrimRight(trimmed[:len(trimmed)-1], " \t\n\r")
			depth++
			continue
		}
		break
	}
	if json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	return "", false
}

// longestValidPrefix searches backwards for the longest prefix that parses
// once its open brackets are closed, recovering from responses truncated by
// an output-token limit. Only object or array payloads are considered.
func longestValidPrefix(s string) (string, bool) {
	first := strings.TrimLeft(s, " \t\r\n")
	if first == "" || (first[0] != '{' && first[0] != '[') {
		return "", false
	}
	for i := len(s); i > 1; i-- {
		candidate := strings.TrimRight(s[:i], " \t\r\n,")
		if candidate == "" || !plausibleValueEnd(candidate[len(candidate)-1]) {
			continue
		}
		closers, ok := neededClosers(candidate)
		if !ok {
			continue
		}
		candidate += closers
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// plausibleValueEnd reports whether a byte can terminate a JSON value
// (closer, string quote, digit, or the tail of true/false/null).
func plausibleValueEnd(c byte) bool {
	switch {
	case c == '}' || c == ']' || c == '"':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == 'e' || c == 'l':
		return true
	}
	return false
}

// neededClosers returns the closing brackets required to balance s, or false
// when s cannot be closed cleanly (truncated inside a string or over-closed).
func neededClosers(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString {
				if len(stack) == 0 {
					return "", false
				}
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		return "", false
	}
	out := make([]byte, len(stack))
	for i := range out {
		if stack[len(stack)-1-i] == '{' {
			out[i] = '}'
		} else {
			out[i] = ']'
		}
	}
	return string(out), true
}
