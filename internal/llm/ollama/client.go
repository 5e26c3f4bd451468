// Package ollama adapts a local Ollama server's /api/chat and
// /api/embed HTTP endpoints to the llm.Provider interface.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kait/internal/config"
	"kait/internal/llm"
)

// Client talks to a local Ollama server over its chat HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	embedModel string
}

// New constructs a Client against a local Ollama server.
func New(cfg config.OllamaConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama3.1"
	}
	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &Client{httpClient: httpClient, baseURL: cfg.BaseURL(), model: model, embedModel: embedModel}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  *chatOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func adaptMessages(messages []llm.Message, system string) []chatMessage {
	sys, merged := llm.NormalizeMessages(messages)
	if system != "" {
		if sys != "" {
			sys = sys + "\n\n" + system
		} else {
			sys = system
		}
	}
	out := make([]chatMessage, 0, len(merged)+1)
	if sys != "" {
		out = append(out, chatMessage{Role: "system", Content: sys})
	}
	for _, m := range merged {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func buildOptions(temperature float64, maxTokens int) *chatOptions {
	if temperature <= 0 && maxTokens <= 0 {
		return nil
	}
	opts := &chatOptions{}
	if temperature > 0 {
		opts.Temperature = temperature
	}
	if maxTokens > 0 {
		opts.NumPredict = maxTokens
	}
	return opts
}

// Available queries the server's /api/tags endpoint to confirm it is up.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) doChat(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}
	return &out, nil
}

// Chat sends a non-streaming request and returns the assistant reply text.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int) (string, error) {
	ctx, span := llm.StartRequestSpan(ctx, "ollama_chat", "local", c.model, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)

	req := chatRequest{
		Model:    c.model,
		Messages: adaptMessages(messages, system),
		Stream:   false,
		Options:  buildOptions(temperature, maxTokens),
	}
	resp, err := c.doChat(ctx, req)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	llm.RecordTokenAttributes(span, resp.PromptEvalCount, resp.EvalCount, resp.PromptEvalCount+resp.EvalCount)
	llm.LogRedactedResponse(ctx, resp.Message.Content)
	return resp.Message.Content, nil
}

// ChatStream streams newline-delimited JSON chunks from /api/chat,
// emitting each chunk's message content as a delta.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int, h llm.StreamHandler) error {
	ctx, span := llm.StartRequestSpan(ctx, "ollama_chat_stream", "local", c.model, len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)

	req := chatRequest{
		Model:    c.model,
		Messages: adaptMessages(messages, system),
		Stream:   true,
		Options:  buildOptions(temperature, maxTokens),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("ollama streaming request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("ollama streaming request failed with status %d: %s", resp.StatusCode, string(data))
		span.RecordError(err)
		return err
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				var chunk chatResponse
				if jerr := json.Unmarshal(line, &chunk); jerr == nil {
					if chunk.Error != "" {
						return fmt.Errorf("ollama error: %s", chunk.Error)
					}
					if chunk.Message.Content != "" && h != nil {
						h.OnDelta(chunk.Message.Content)
					}
					if chunk.Done {
						break
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			span.RecordError(err)
			return fmt.Errorf("read ollama stream: %w", err)
		}
	}
	return nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed generates an embedding vector via the local /api/embed endpoint.
func (c *Client) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	m := model
	if m == "" {
		m = c.embedModel
	}
	body, err := json.Marshal(embedRequest{Model: m, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama embed request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ollama embed response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}
	if len(out.Embeddings) == 0 {
		return nil, nil
	}
	return out.Embeddings[0], nil
}
