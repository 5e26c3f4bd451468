// Package openai adapts the OpenAI Chat Completions API to the
// llm.Provider interface the Gateway dispatches through.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"kait/internal/config"
	"kait/internal/llm"
	"kait/internal/observability"
)

// Client adapts OpenAI's Chat Completions API.
type Client struct {
	sdk    sdk.Client
	model  string
	hasKey bool
}

// New constructs a Client.
func New(cfg config.CloudProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model, hasKey: strings.TrimSpace(cfg.APIKey) != ""}
}

// Available reports whether the client has credentials configured.
func (c *Client) Available(ctx context.Context) bool {
	return c != nil && c.hasKey
}

// isThinkingModel reports whether model is one of the o-series
// reasoning models, which reject the temperature parameter.
func isThinkingModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

func adaptMessages(model string, messages []llm.Message, system string) []sdk.ChatCompletionMessageParamUnion {
	sys, merged := llm.NormalizeMessages(messages)
	if system != "" {
		if sys != "" {
			sys = sys + "\n\n" + system
		} else {
			sys = system
		}
	}
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(merged)+1)
	if sys != "" {
		out = append(out, sdk.SystemMessage(sys))
	}
	for _, m := range merged {
		if m.Role == "assistant" {
			out = append(out, sdk.AssistantMessage(m.Content))
		} else {
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

func buildParams(model string, messages []sdk.ChatCompletionMessageParamUnion, temperature float64, maxTokens int) sdk.ChatCompletionNewParams {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: messages,
	}
	if !isThinkingModel(model) && temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}
	return params
}

// Chat sends a single request and returns the assistant's reply text.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int) (string, error) {
	model := c.pickModel("")
	params := buildParams(model, adaptMessages(model, messages, system), temperature, maxTokens)

	ctx, span := llm.StartRequestSpan(ctx, "openai_chat", "openai", model, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("openai_chat_error")
		return "", err
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	out := comp.Choices[0].Message.Content
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	llm.LogRedactedResponse(ctx, out)
	return out, nil
}

// ChatStream streams response text deltas through h.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int, h llm.StreamHandler) error {
	model := c.pickModel("")
	params := buildParams(model, adaptMessages(model, messages, system), temperature, maxTokens)

	ctx, span := llm.StartRequestSpan(ctx, "openai_chat_stream", "openai", model, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" && h != nil {
			h.OnDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Embed generates an embedding vector via the OpenAI embeddings API.
func (c *Client) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	m := model
	if m == "" {
		m = "text-embedding-3-small"
	}
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(m),
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return resp.Data[0].Embedding, nil
}
