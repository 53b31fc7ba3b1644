package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aina-assist/internal/catalog"
)

// antiEchoPatch counters the habit of smaller instruction-tuned models of
// copying the input document verbatim. Best-effort mitigation, not a
// guarantee.
const antiEchoPatch = "No repeteixis el text original literalment; respon només amb el resultat demanat."

// jsonModePatch asks for bare JSON; the normalizer repairs whatever comes
// back anyway.
const jsonModePatch = "Respon únicament amb JSON vàlid, sense text addicional ni marques de codi."

// OpenAICompat calls the OpenAI Chat Completions API, either the public one
// or any OpenAI-compatible server such as the vLLM endpoints serving the BSC
// models.
type OpenAICompat struct {
	id       string
	model    string
	client   *openai.Client
	antiEcho bool
}

// NewOpenAICompat builds an adapter for a descriptor. An empty endpoint
// targets api.openai.com; vLLM descriptors point Endpoint at their base URL.
func NewOpenAICompat(d catalog.Descriptor, apiKey string) (*OpenAICompat, error) {
	if d.Endpoint == "" && apiKey == "" {
		return nil, fmt.Errorf("openai adapter %s: api key required", d.ID)
	}
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(d.Endpoint))
	}
	cli := openai.NewClient(opts...)
	return &OpenAICompat{
		id:       d.ID,
		model:    d.Model,
		client:   &cli,
		antiEcho: strings.Contains(strings.ToLower(d.Model), "salamandra"),
	}, nil
}

func (c *OpenAICompat) ID() string { return c.id }

func (c *OpenAICompat) Generate(ctx context.Context, p Prompt) (Completion, error) {
	if c == nil || c.client == nil {
		return Completion{}, &Error{Provider: c.id, Reason: ReasonBadResponse, Err: errors.New("nil client")}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: c.buildMessages(p),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if p.Temperature > 0 {
		params.Temperature = openai.Float(p.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		return Completion{}, classify(c.id, status, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, &Error{Provider: c.id, Reason: ReasonBadResponse, Err: errors.New("no choices returned")}
	}

	return Completion{
		Text:      resp.Choices[0].Message.Content,
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *OpenAICompat) buildMessages(p Prompt) []openai.ChatCompletionMessageParamUnion {
	system := p.System
	if c.antiEcho {
		system = strings.TrimSpace(system + "\n" + antiEchoPatch)
	}
	if p.JSONMode {
		system = strings.TrimSpace(system + "\n" + jsonModePatch)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(p.User),
			},
		},
	})
	return messages
}
