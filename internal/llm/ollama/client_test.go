package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/config"
	"kait/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.OllamaConfig{Host: srv.URL, Model: "llama3.1", EmbedModel: "nomic-embed-text"}
	return New(cfg, srv.Client()), srv
}

func TestChatReturnsMessageContent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message:         struct{ Content string `json:"content"` }{Content: "hello"},
			Done:            true,
			PromptEvalCount: 3,
			EvalCount:       2,
		})
	})
	out, err := c.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestChatPropagatesAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{Error: "model not found"})
	})
	_, err := c.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, "", 0, 0)
	require.Error(t, err)
}

func TestChatStreamEmitsDeltasInOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		chunks := []chatResponse{
			{Message: struct{ Content string `json:"content"` }{Content: "he"}},
			{Message: struct{ Content string `json:"content"` }{Content: "llo"}},
			{Done: true, PromptEvalCount: 1, EvalCount: 2},
		}
		for _, chunk := range chunks {
			data, _ := json.Marshal(chunk)
			_, _ = w.Write(append(data, '\n'))
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	var got []string
	err := c.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, "", 0, 0, collector(&got))
	require.NoError(t, err)
	require.Equal(t, []string{"he", "llo"}, got)
}

func TestAvailableChecksTagsEndpoint(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	require.True(t, c.Available(context.Background()))
}

func TestEmbedReturnsFirstVector(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{0.1, 0.2, 0.3}}})
	})
	vec, err := c.Embed(context.Background(), "hello world", "")
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

type collectorHandler struct{ out *[]string }

func (c collectorHandler) OnDelta(content string) { *c.out = append(*c.out, content) }

func collector(out *[]string) llm.StreamHandler { return collectorHandler{out: out} }
