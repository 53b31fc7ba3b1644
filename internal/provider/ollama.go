package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aina-assist/internal/catalog"
)

// Ollama is the adapter for a local Ollama daemon, used for development
// against a locally pulled Salamandra build.
type Ollama struct {
	id      string
	model   string
	baseURL string
	client  *http.Client
}

func NewOllama(d catalog.Descriptor, baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &Ollama{
		id:      d.ID,
		model:   d.Model,
		baseURL: strings.TrimRight(baseURL, "/"),
		// Timeouts come from the caller's context.
		client: &http.Client{},
	}
}

func (o *Ollama) ID() string { return o.id }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (o *Ollama) Generate(ctx context.Context, p Prompt) (Completion, error) {
	var messages []ollamaMessage
	system := p.System
	if strings.Contains(strings.ToLower(o.model), "salamandra") {
		system = strings.TrimSpace(system + "\n" + antiEchoPatch)
	}
	if system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: p.User})

	body := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{},
	}
	if p.JSONMode {
		body.Format = "json"
	}
	if p.MaxTokens > 0 {
		body.Options["num_predict"] = p.MaxTokens
	}
	if p.Temperature > 0 {
		body.Options["temperature"] = p.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, &Error{Provider: o.id, Reason: ReasonBadResponse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, &Error{Provider: o.id, Reason: ReasonBadResponse, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return Completion{}, classify(o.id, 0, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return Completion{}, classify(o.id, res.StatusCode,
			fmt.Errorf("ollama: status %d: %s", res.StatusCode, string(b)))
	}

	var resp ollamaChatResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return Completion{}, &Error{Provider: o.id, Reason: ReasonBadResponse, Err: fmt.Errorf("decode response: %w", err)}
	}

	return Completion{
		Text:      resp.Message.Content,
		TokensIn:  resp.PromptEvalCount,
		TokensOut: resp.EvalCount,
	}, nil
}
