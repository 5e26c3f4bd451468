// Package claude adapts Anthropic's Claude API to the llm.Provider
// interface the Gateway dispatches through.
package claude

import (
	"context"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"kait/internal/config"
	"kait/internal/llm"
	"kait/internal/observability"
)

const defaultMaxTokens int64 = 4096

// Client adapts the Anthropic Messages API.
type Client struct {
	sdk    anthropic.Client
	model  string
	hasKey bool
}

// New constructs a Client. A blank cfg.APIKey yields a client that
// reports itself unavailable rather than erroring eagerly.
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
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model, hasKey: strings.TrimSpace(cfg.APIKey) != ""}
}

// Available reports whether the client has credentials configured. It
// does not make a network call; provider health on top of this is the
// Gateway's circuit breaker's job.
func (c *Client) Available(ctx context.Context) bool {
	return c != nil && c.hasKey
}

func (c *Client) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

func adaptMessages(messages []llm.Message, system string) (string, []anthropic.MessageParam) {
	sys, merged := llm.NormalizeMessages(messages)
	if system != "" {
		if sys != "" {
			sys = sys + "\n\n" + system
		} else {
			sys = system
		}
	}
	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, m := range merged {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return sys, out
}

// Chat sends a single request and returns the assembled response text.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int) (string, error) {
	sys, converted := adaptMessages(messages, system)
	params := buildParams(c.pickModel(""), sys, converted, temperature, maxTokens)

	ctx, span := llm.StartRequestSpan(ctx, "claude_chat", "claude", string(params.Model), len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("claude_chat_error")
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if t, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	out := sb.String()

	prompt := int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens)
	completion := int(resp.Usage.OutputTokens)
	llm.RecordTokenAttributes(span, prompt, completion, prompt+completion)
	llm.LogRedactedResponse(ctx, out)
	return out, nil
}

// ChatStream streams response text deltas through h.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int, h llm.StreamHandler) error {
	sys, converted := adaptMessages(messages, system)
	params := buildParams(c.pickModel(""), sys, converted, temperature, maxTokens)

	ctx, span := llm.StartRequestSpan(ctx, "claude_chat_stream", "claude", string(params.Model), len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if t, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && h != nil && t.Text != "" {
				h.OnDelta(t.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Embed is not implemented: Anthropic does not expose an embeddings
// API. The Gateway only ever routes embed() calls to the local backend.
func (c *Client) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	return nil, errUnsupported{"claude", "embed"}
}

func buildParams(model, system string, messages []anthropic.MessageParam, temperature float64, maxTokens int) anthropic.MessageNewParams {
	mt := int64(maxTokens)
	if mt <= 0 {
		mt = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: mt,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	return params
}

type errUnsupported struct {
	provider, op string
}

func (e errUnsupported) Error() string {
	return e.provider + " does not support " + e.op
}
