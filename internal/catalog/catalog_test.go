package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalogIsValid(t *testing.T) {
	table, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", table.Largest().ID)

	sal, ok := table.Get("salamandra-7b")
	require.True(t, ok)
	assert.Equal(t, 8192, sal.ContextLimitTokens)
	assert.Equal(t, []string{"alia-40b-16k", "alia-40b-32k", "gpt-4o"}, sal.FallbackChain)

	local, ok := table.Get("salamandra-7b-local")
	require.True(t, ok)
	assert.True(t, local.LocalOnly)
}

func TestEndpointOverrides(t *testing.T) {
	table, err := Load("", map[string]string{
		"salamandra-7b": "http://vllm.internal:8000/v1",
		"alia-40b-32k":  "http://vllm-big.internal:8000/v1",
	})
	require.NoError(t, err)

	sal, _ := table.Get("salamandra-7b")
	assert.Equal(t, "http://vllm.internal:8000/v1", sal.Endpoint)
	alia, _ := table.Get("alia-40b-32k")
	assert.Equal(t, "http://vllm-big.internal:8000/v1", alia.Endpoint)
}

func TestRejectsContextSmallerThanOutput(t *testing.T) {
	_, err := New([]Descriptor{
		{ID: "broken", ContextLimitTokens: 512, DefaultMaxOutputTokens: 1024},
	})
	assert.ErrorContains(t, err, "must exceed")
}

func TestRejectsCyclicChain(t *testing.T) {
	_, err := New([]Descriptor{
		{ID: "a", ContextLimitTokens: 4096, DefaultMaxOutputTokens: 512, FallbackChain: []string{"b"}},
		{ID: "b", ContextLimitTokens: 8192, DefaultMaxOutputTokens: 512, FallbackChain: []string{"a"}},
	})
	assert.ErrorContains(t, err, "cycle")
}

func TestRejectsUnknownChainEntry(t *testing.T) {
	_, err := New([]Descriptor{
		{ID: "a", ContextLimitTokens: 4096, DefaultMaxOutputTokens: 512, FallbackChain: []string{"ghost"}},
	})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestRejectsChainNotReachingLargest(t *testing.T) {
	_, err := New([]Descriptor{
		{ID: "small", ContextLimitTokens: 4096, DefaultMaxOutputTokens: 512},
		{ID: "big", ContextLimitTokens: 32768, DefaultMaxOutputTokens: 512},
	})
	assert.ErrorContains(t, err, "never reaches")
}

func TestSharedChainTailIsNotACycle(t *testing.T) {
	// Two entries pointing at the same terminal must not be reported as a cycle.
	_, err := New([]Descriptor{
		{ID: "a", ContextLimitTokens: 4096, DefaultMaxOutputTokens: 512, FallbackChain: []string{"b", "c"}},
		{ID: "b", ContextLimitTokens: 8192, DefaultMaxOutputTokens: 512, FallbackChain: []string{"c"}},
		{ID: "c", ContextLimitTokens: 32768, DefaultMaxOutputTokens: 512},
	})
	assert.NoError(t, err)
}

func TestYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `models:
  - id: salamandra-7b
    model: BSC-LT/salamandra-7b-instruct
    kind: openai
    endpoint: http://staging:8000/v1
    context_limit_tokens: 4096
    default_max_output_tokens: 512
    fallback_chain: [gpt-4o]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := Load(path, nil)
	require.NoError(t, err)

	sal, ok := table.Get("salamandra-7b")
	require.True(t, ok)
	assert.Equal(t, 4096, sal.ContextLimitTokens)
	assert.Equal(t, "http://staging:8000/v1", sal.Endpoint)
	assert.Equal(t, []string{"gpt-4o"}, sal.FallbackChain)
}

func TestCost(t *testing.T) {
	d := Descriptor{CostPerInputToken: 0.000001, CostPerOutputToken: 0.000002}
	assert.InDelta(t, 0.0014, d.Cost(1000, 200), 1e-9)
}
