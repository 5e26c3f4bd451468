package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/breaker"
	"kait/internal/config"
	"kait/internal/llm"
	"kait/internal/ring"
	"kait/internal/router"
)

type fakeProvider struct {
	available bool
	chatResp  string
	chatErr   error
	streamErr error
	deltas    []string

	// midStreamErr, when set, is returned after deltas have already
	// been forwarded to h — simulating a provider that errors partway
	// through a response it already started streaming.
	midStreamErr error

	streamed int // number of ChatStream calls made, for re-routing assertions
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int) (string, error) {
	return f.chatResp, f.chatErr
}

func (f *fakeProvider) ChatStream(ctx context.Context, messages []llm.Message, system string, temperature float64, maxTokens int, h llm.StreamHandler) error {
	f.streamed++
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, d := range f.deltas {
		h.OnDelta(d)
	}
	return f.midStreamErr
}

func (f *fakeProvider) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func (f *fakeProvider) Available(ctx context.Context) bool { return f.available }

func newTestGateway(t *testing.T, providers ProviderSet) *Gateway {
	t.Helper()
	reg := breaker.NewRegistry(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 3, RecoveryTimeoutS: 60, HalfOpenTests: 2})
	r := router.New(config.RouterConfig{Enabled: false}, reg, nil)
	obsRing := ring.New(ring.Config{Enabled: true, RingSize: 100})
	return New(Config{
		Providers: providers,
		Router:    r,
		Breakers:  reg,
		Ring:      obsRing,
	})
}

func TestChatSucceedsOnFirstProvider(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local: &fakeProvider{available: true, chatResp: "hello from local"},
	})
	out, err := gw.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	require.NoError(t, err)
	require.Equal(t, "hello from local", out)
}

func TestChatFallsBackOnFailure(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local:  &fakeProvider{available: true, chatErr: errors.New("connection refused")},
		router.Claude: &fakeProvider{available: true, chatResp: "from claude"},
	})
	out, err := gw.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	require.NoError(t, err)
	require.Equal(t, "from claude", out)
}

func TestChatExhaustsAllProviders(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local: &fakeProvider{available: true, chatErr: errors.New("timeout")},
	})
	_, err := gw.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	require.Error(t, err)
}

func TestChatOverrideProviderSkipsRouter(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local:  &fakeProvider{available: true, chatResp: "local"},
		router.Claude: &fakeProvider{available: true, chatResp: "claude"},
	})
	out, err := gw.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{OverrideProvider: router.Claude})
	require.NoError(t, err)
	require.Equal(t, "claude", out)
}

func TestChatStreamPeeksFirstTokenBeforeCommitting(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local:  &fakeProvider{available: true, deltas: nil}, // empty stream
		router.Claude: &fakeProvider{available: true, deltas: []string{"a", "b"}},
	})
	var got []string
	err := gw.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{}, deltaCollector(&got))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestChatStreamAllEmptyReturnsError(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local: &fakeProvider{available: true},
	})
	var got []string
	err := gw.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{}, deltaCollector(&got))
	require.Error(t, err)
}

func TestChatStreamMidStreamErrorIsNotReroutedToNextProvider(t *testing.T) {
	reg := breaker.NewRegistry(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeoutS: 3600, HalfOpenTests: 2})
	r := router.New(config.RouterConfig{Enabled: false}, reg, nil)
	local := &fakeProvider{available: true, deltas: []string{"a", "b"}, midStreamErr: errors.New("connection reset")}
	claude := &fakeProvider{available: true, deltas: []string{"c"}}
	gw := New(Config{
		Providers: ProviderSet{router.Local: local, router.Claude: claude},
		Router:    r,
		Breakers:  reg,
		Ring:      ring.New(ring.Config{Enabled: true, RingSize: 10}),
	})

	var got []string
	err := gw.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{}, deltaCollector(&got))

	require.Error(t, err, "the mid-stream error must be surfaced to the caller, not swallowed")
	require.Equal(t, []string{"a", "b"}, got, "tokens already delivered must not be followed by a second provider's output")
	require.Equal(t, 1, local.streamed)
	require.Equal(t, 0, claude.streamed, "once a provider has delivered a token, the chain must not advance to the next provider")
	require.Equal(t, breaker.Closed, reg.Get(string(router.Local)).State(), "a response already partially delivered must not trip the breaker")
}

func TestEmbedUsesLocalOnly(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local: &fakeProvider{available: true},
	})
	vec, err := gw.Embed(context.Background(), "hello", "")
	require.NoError(t, err)
	require.Len(t, vec, 2)
}

func TestEmbedFailsWithoutLocalProvider(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{})
	_, err := gw.Embed(context.Background(), "hello", "")
	require.Error(t, err)
}

func TestHealthReportsAvailability(t *testing.T) {
	gw := newTestGateway(t, ProviderSet{
		router.Local: &fakeProvider{available: true},
	})
	h := gw.Health(context.Background())
	local := h["local"].(map[string]any)
	require.Equal(t, true, local["available"])
}

func TestFailingProviderTripsBreaker(t *testing.T) {
	reg := breaker.NewRegistry(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeoutS: 3600, HalfOpenTests: 2})
	r := router.New(config.RouterConfig{Enabled: false}, reg, nil)
	gw := New(Config{
		Providers: ProviderSet{
			router.Local: &fakeProvider{available: true, chatErr: errors.New("connection refused")},
		},
		Router:   r,
		Breakers: reg,
		Ring:     ring.New(ring.Config{Enabled: true, RingSize: 10}),
	})
	_, _ = gw.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	require.Equal(t, breaker.Open, reg.Get(string(router.Local)).State())
}

type deltaCollectorHandler struct {
	out *[]string
}

func (d deltaCollectorHandler) OnDelta(content string) {
	*d.out = append(*d.out, content)
}

func deltaCollector(out *[]string) llm.StreamHandler {
	return deltaCollectorHandler{out: out}
}
