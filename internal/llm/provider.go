// Package llm defines the provider-facing contract the Gateway dispatches
// through, and the shared message/normalization helpers every adapter
// (claude, openai, ollama, litellm) builds on.
package llm

import "context"

// Message is one turn in a chat conversation.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// StreamHandler receives incremental output from a streaming chat call.
type StreamHandler interface {
	OnDelta(content string)
}

// Provider is the interface every backend (Claude, OpenAI, Ollama,
// LiteLLM) implements. Chat and ChatStream take messages as the caller
// built them; each adapter normalizes them itself via NormalizeMessages
// (system extracted, consecutive same-role turns merged); Embed is only
// expected to be implemented meaningfully by the local backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message, system string, temperature float64, maxTokens int) (string, error)
	ChatStream(ctx context.Context, messages []Message, system string, temperature float64, maxTokens int, h StreamHandler) error
	Embed(ctx context.Context, text string, model string) ([]float64, error)
	Available(ctx context.Context) bool
}

// NormalizeMessages extracts a leading system message (if any) and
// merges consecutive same-role turns, which Anthropic-style APIs
// require (they reject back-to-back assistant or user turns). Models
// that don't need this can ignore the merge and use messages as-is.
func NormalizeMessages(messages []Message) (system string, merged []Message) {
	merged = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system == "" {
				system = m.Content
			} else {
				system = system + "\n\n" + m.Content
			}
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Content = merged[n-1].Content + "\n\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}
	// Anthropic's API requires the first turn to be a user turn; a
	// conversation that opens with an assistant message (e.g. a stored
	// greeting) gets a synthetic empty user turn prefixed so the merge
	// above still produces a valid alternating sequence.
	if len(merged) > 0 && merged[0].Role == "assistant" {
		merged = append([]Message{{Role: "user", Content: ""}}, merged...)
	}
	return system, merged
}
