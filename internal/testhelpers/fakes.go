// Package testhelpers holds small fakes and helpers shared across this
// module's package-level tests.
package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"kait/internal/llm"
)

// FakeProvider is a simple llm.Provider for tests. It can be configured
// with a fixed response or a streaming delta sequence.
type FakeProvider struct {
	Resp      string
	Err       error
	Embedding []float64
	Avail     bool

	// For streaming tests
	StreamDeltas []string
}

func (f *FakeProvider) Chat(ctx context.Context, msgs []llm.Message, system string, temperature float64, maxTokens int) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Resp, nil
}

func (f *FakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, system string, temperature float64, maxTokens int, h llm.StreamHandler) error {
	if f.Err != nil {
		return f.Err
	}
	for _, d := range f.StreamDeltas {
		h.OnDelta(d)
	}
	return nil
}

func (f *FakeProvider) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Embedding, nil
}

func (f *FakeProvider) Available(ctx context.Context) bool { return f.Avail }

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}
