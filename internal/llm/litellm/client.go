// Package litellm adapts a local LiteLLM proxy to the llm.Provider
// interface. LiteLLM re-exposes whichever backend model it is
// configured with behind an OpenAI-compatible Chat Completions API, so
// this adapter is a thin wrapper around the OpenAI client pointed at
// the proxy's base URL with the proxy's master key as credential.
package litellm

import (
	"context"
	"net/http"

	"kait/internal/config"
	"kait/internal/llm"
	"kait/internal/llm/openai"
)

// Client talks to a local LiteLLM proxy via the OpenAI wire protocol.
type Client struct {
	inner *openai.Client
}

// New constructs a Client against a local LiteLLM proxy.
func New(cfg config.LiteLLMConfig, httpClient *http.Client) *Client {
	return &Client{inner: openai.New(config.CloudProviderConfig{
		APIKey:  cfg.MasterKey,
		BaseURL: cfg.BaseURL(),
		Model:   cfg.Model,
	}, httpClient)}
}

// Available reports whether the proxy has credentials configured. The
// Gateway's circuit breaker carries the proxy's actual reachability.
func (c *Client) Available(ctx context.Context) bool {
	return c != nil && c.inner.Available(ctx)
}

// Chat sends a single request through the proxy.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int) (string, error) {
	return c.inner.Chat(ctx, messages, system, temperature, maxTokens)
}

// ChatStream streams response text deltas through the proxy.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int, h llm.StreamHandler) error {
	return c.inner.ChatStream(ctx, messages, system, temperature, maxTokens, h)
}

// Embed generates an embedding vector through the proxy.
func (c *Client) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	return c.inner.Embed(ctx, text, model)
}
