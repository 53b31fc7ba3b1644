package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristic(t *testing.T) {
	assert.Equal(t, 0, Heuristic(""))
	assert.Equal(t, 1, Heuristic("abc"))
	assert.Equal(t, 1, Heuristic("abcd"))
	assert.Equal(t, 2, Heuristic("abcde"))
	assert.Equal(t, 1000, Heuristic(strings.Repeat("x", 4000)))
}

func TestCountEmptyText(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Count("", ""))
	assert.Equal(t, 0, e.Count("", "o200k_base"))
}

func TestCountFallsBackToHeuristic(t *testing.T) {
	e := NewEstimator()
	text := "La sol·licitud es presentarà al registre general."
	// No encoding named: heuristic applies.
	assert.Equal(t, Heuristic(text), e.Count(text, ""))
	// Unknown encoding: loading fails, heuristic applies and the failure is remembered.
	assert.Equal(t, Heuristic(text), e.Count(text, "no-such-encoding"))
	assert.Equal(t, Heuristic(text), e.Count(text, "no-such-encoding"))
}

func TestCountIsDeterministic(t *testing.T) {
	e := NewEstimator()
	text := strings.Repeat("document administratiu ", 100)
	first := e.Count(text, "")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Count(text, ""))
	}
}
