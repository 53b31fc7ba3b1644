// Package catalog holds the static per-provider descriptor table: context
// capacity, cost and fallback facts for every model backend the engine can
// reach. The table is built once at startup and immutable afterwards.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Adapter kinds understood by the provider registry.
const (
	KindOpenAI = "openai" // OpenAI API or any OpenAI-compatible server (vLLM)
	KindOllama = "ollama" // local Ollama daemon
)

// Descriptor describes one model backend.
type Descriptor struct {
	ID                     string   `yaml:"id"`
	Model                  string   `yaml:"model"`    // backend model name, e.g. BSC-LT/salamandra-7b-instruct
	Kind                   string   `yaml:"kind"`     // openai or ollama
	Endpoint               string   `yaml:"endpoint"` // base URL; empty means the provider's public API
	Encoding               string   `yaml:"encoding"` // tiktoken encoding when known, empty for heuristic counting
	ContextLimitTokens     int      `yaml:"context_limit_tokens"`
	DefaultMaxOutputTokens int      `yaml:"default_max_output_tokens"`
	CostPerInputToken      float64  `yaml:"cost_per_input_token"`
	CostPerOutputToken     float64  `yaml:"cost_per_output_token"`
	LocalOnly              bool     `yaml:"local_only"` // unreachable for orchestrator sub-calls
	FallbackChain          []string `yaml:"fallback_chain"`
}

// Cost estimates the price of a call in USD.
func (d Descriptor) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*d.CostPerInputToken + float64(tokensOut)*d.CostPerOutputToken
}

// Table is the validated, read-only descriptor table.
type Table struct {
	byID    map[string]Descriptor
	largest string
}

// builtin returns the default provider set: the BSC Catalan models served by
// vLLM at their deployed context sizes, a local Ollama target for development,
// and a large-context cloud model as the terminal fallback.
func builtin() []Descriptor {
	return []Descriptor{
		{
			ID:                     "salamandra-7b",
			Model:                  "BSC-LT/salamandra-7b-instruct",
			Kind:                   KindOpenAI,
			ContextLimitTokens:     8192,
			DefaultMaxOutputTokens: 1024,
			CostPerInputToken:      0.0000002,
			CostPerOutputToken:     0.0000002,
			FallbackChain:          []string{"alia-40b-16k", "alia-40b-32k", "gpt-4o"},
		},
		{
			ID:                     "salamandra-7b-local",
			Model:                  "salamandra-7b-instruct",
			Kind:                   KindOllama,
			ContextLimitTokens:     8192,
			DefaultMaxOutputTokens: 1024,
			LocalOnly:              true,
			FallbackChain:          []string{"alia-40b-16k", "alia-40b-32k", "gpt-4o"},
		},
		{
			ID:                     "alia-40b-8k",
			Model:                  "BSC-LT/ALIA-40b-instruct",
			Kind:                   KindOpenAI,
			ContextLimitTokens:     8192,
			DefaultMaxOutputTokens: 1024,
			CostPerInputToken:      0.0000008,
			CostPerOutputToken:     0.0000008,
			FallbackChain:          []string{"alia-40b-16k", "alia-40b-32k", "gpt-4o"},
		},
		{
			ID:                     "alia-40b-16k",
			Model:                  "BSC-LT/ALIA-40b-instruct",
			Kind:                   KindOpenAI,
			ContextLimitTokens:     16384,
			DefaultMaxOutputTokens: 2048,
			CostPerInputToken:      0.0000008,
			CostPerOutputToken:     0.0000008,
			FallbackChain:          []string{"alia-40b-32k", "gpt-4o"},
		},
		{
			ID:                     "alia-40b-32k",
			Model:                  "BSC-LT/ALIA-40b-instruct",
			Kind:                   KindOpenAI,
			ContextLimitTokens:     32768,
			DefaultMaxOutputTokens: 2048,
			CostPerInputToken:      0.0000008,
			CostPerOutputToken:     0.0000008,
			FallbackChain:          []string{"gpt-4o"},
		},
		{
			ID:                     "gpt-4o",
			Model:                  "gpt-4o",
			Kind:                   KindOpenAI,
			Encoding:               "o200k_base",
			ContextLimitTokens:     128000,
			DefaultMaxOutputTokens: 4096,
			CostPerInputToken:      0.0000025,
			CostPerOutputToken:     0.00001,
		},
	}
}

// Load builds the table from the builtin catalog, merged with an optional YAML
// override file and per-provider endpoint overrides (typically from env).
func Load(path string, endpoints map[string]string) (*Table, error) {
	descs := builtin()

	if path != "" {
		overrides, err := readOverrides(path)
		if err != nil {
			return nil, err
		}
		descs = merge(descs, overrides)
	}

	for i := range descs {
		if url, ok := endpoints[descs[i].ID]; ok && url != "" {
			descs[i].Endpoint = url
		}
	}

	return New(descs)
}

// New validates descriptors and builds an immutable table.
func New(descs []Descriptor) (*Table, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("catalog: no descriptors")
	}

	byID := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("catalog: descriptor without id")
		}
		if _, exists := byID[d.ID]; exists {
			return nil, fmt.Errorf("catalog: duplicate descriptor %q", d.ID)
		}
		if d.ContextLimitTokens <= d.DefaultMaxOutputTokens {
			return nil, fmt.Errorf("catalog: %s: context limit %d must exceed default max output %d",
				d.ID, d.ContextLimitTokens, d.DefaultMaxOutputTokens)
		}
		if d.DefaultMaxOutputTokens <= 0 {
			return nil, fmt.Errorf("catalog: %s: default max output tokens must be positive", d.ID)
		}
		byID[d.ID] = d
	}

	largest := ""
	for id, d := range byID {
		if largest == "" || d.ContextLimitTokens > byID[largest].ContextLimitTokens {
			largest = id
		}
	}

	t := &Table{byID: byID, largest: largest}
	for id := range byID {
		if err := t.checkChain(id); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// checkChain rejects unknown entries and cycles, and requires every chain to
// reach the largest-capacity provider so fallback always has a terminal.
func (t *Table) checkChain(id string) error {
	onPath := map[string]bool{}
	reached := id == t.largest

	var walk func(cur string) error
	walk = func(cur string) error {
		if onPath[cur] {
			return fmt.Errorf("catalog: fallback chain of %q contains a cycle at %q", id, cur)
		}
		onPath[cur] = true
		defer delete(onPath, cur)
		d := t.byID[cur]
		for _, next := range d.FallbackChain {
			if _, ok := t.byID[next]; !ok {
				return fmt.Errorf("catalog: fallback chain of %q references unknown provider %q", cur, next)
			}
			if next == t.largest {
				reached = true
			}
			if err := walk(next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(id); err != nil {
		return err
	}
	if !reached {
		return fmt.Errorf("catalog: fallback chain of %q never reaches the largest provider %q", id, t.largest)
	}
	return nil
}

// Get returns the descriptor for a provider id.
func (t *Table) Get(id string) (Descriptor, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// Largest returns the provider with the biggest context window.
func (t *Table) Largest() Descriptor {
	return t.byID[t.largest]
}

// List returns all descriptors sorted by id.
func (t *Table) List() []Descriptor {
	out := make([]Descriptor, 0, len(t.byID))
	for _, d := range t.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type overrideFile struct {
	Models []Descriptor `yaml:"models"`
}

func readOverrides(path string) ([]Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f overrideFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return f.Models, nil
}

// merge replaces builtin descriptors by id and appends new ones.
func merge(base, overrides []Descriptor) []Descriptor {
	out := make([]Descriptor, len(base))
	copy(out, base)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].ID == o.ID {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
