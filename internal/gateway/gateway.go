// Package gateway implements the LLM Gateway: the single entry point
// the rest of Kait uses to talk to a model. It resolves an ordered
// provider chain via the Router, filters it through the Circuit
// Breaker Registry, tries each provider in turn, and records every
// outcome into the Observability Ring.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"kait/internal/breaker"
	"kait/internal/llm"
	"kait/internal/observability"
	"kait/internal/ring"
	"kait/internal/router"
)

// defaultChainOrder is the legacy/override fallback order used whenever
// the Router doesn't otherwise determine one.
var defaultChainOrder = []router.Provider{router.Local, router.Claude, router.OpenAI, router.LiteLLM}

// ChatOptions configures a single Chat/ChatStream call.
type ChatOptions struct {
	System           string
	Temperature      float64
	MaxTokens        int
	OverrideProvider router.Provider // "" for router-decided
	Caller           string          // attributed in the Observability Ring
}

// ProviderSet is the set of backend adapters the Gateway dispatches
// to, keyed by router.Provider. A nil entry is treated as configured
// but unavailable.
type ProviderSet map[router.Provider]llm.Provider

// Gateway is the unified chat/stream/embed entry point.
type Gateway struct {
	providers     ProviderSet
	modelFor      map[router.Provider]string
	litellmEnabled bool
	router        *router.Router
	breakers      *breaker.Registry
	ring          *ring.Ring
	cache         *redis.Client
	cacheTTL      time.Duration
}

// Config configures Gateway construction.
type Config struct {
	Providers      ProviderSet
	ModelFor       map[router.Provider]string
	LiteLLMEnabled bool
	Router         *router.Router
	Breakers       *breaker.Registry
	Ring           *ring.Ring
	// Cache, if non-nil, is used as an optional response cache for
	// non-streaming chat calls. Disabled entirely when nil.
	Cache    *redis.Client
	CacheTTL time.Duration
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Gateway{
		providers:      cfg.Providers,
		modelFor:       cfg.ModelFor,
		litellmEnabled: cfg.LiteLLMEnabled,
		router:         cfg.Router,
		breakers:       cfg.Breakers,
		ring:           cfg.Ring,
		cache:          cfg.Cache,
		cacheTTL:       ttl,
	}
}

func (g *Gateway) modelOf(p router.Provider) string {
	if g.modelFor == nil {
		return ""
	}
	return g.modelFor[p]
}

// availability probes every configured provider once, applying the
// circuit-breaker overlay through the Router at decision time (the
// Router itself consults the breaker registry).
func (g *Gateway) availability(ctx context.Context) router.Availability {
	var a router.Availability
	if p, ok := g.providers[router.Local]; ok && p != nil {
		a.Local = p.Available(ctx)
	}
	if p, ok := g.providers[router.Claude]; ok && p != nil {
		a.Claude = p.Available(ctx)
	}
	if p, ok := g.providers[router.OpenAI]; ok && p != nil {
		a.OpenAI = p.Available(ctx)
	}
	if g.litellmEnabled {
		if p, ok := g.providers[router.LiteLLM]; ok && p != nil {
			a.LiteLLM = p.Available(ctx)
		}
	}
	return a
}

// resolveProviderChain determines the ordered list of providers to try.
func (g *Gateway) resolveProviderChain(ctx context.Context, messages []llm.Message, opts ChatOptions) []router.Provider {
	avail := g.availability(ctx)

	if opts.OverrideProvider != "" {
		chain := []router.Provider{opts.OverrideProvider}
		for _, p := range defaultChainOrder {
			if p != opts.OverrideProvider {
				chain = append(chain, p)
			}
		}
		return chain
	}

	prompt := firstUserContent(messages)

	if g.router == nil {
		return legacyChain(avail)
	}

	decision := g.router.Route(prompt, "", avail)
	chain := []router.Provider{decision.Provider}
	seen := map[router.Provider]bool{decision.Provider: true}
	for _, fb := range decision.FallbackChain {
		if !seen[fb] {
			chain = append(chain, fb)
			seen[fb] = true
		}
	}
	if avail.LiteLLM && !seen[router.LiteLLM] {
		chain = append(chain, router.LiteLLM)
	}
	return chain
}

func legacyChain(avail router.Availability) []router.Provider {
	var chain []router.Provider
	if avail.Local {
		chain = append(chain, router.Local)
	}
	if avail.Claude {
		chain = append(chain, router.Claude)
	}
	if avail.OpenAI {
		chain = append(chain, router.OpenAI)
	}
	if avail.LiteLLM {
		chain = append(chain, router.LiteLLM)
	}
	if len(chain) == 0 {
		chain = []router.Provider{router.Local}
	}
	return chain
}

func firstUserContent(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

// Chat sends messages through the best available provider, trying
// fallbacks in order until one succeeds. Returns an error only once
// every provider in the chain has failed.
func (g *Gateway) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if cached, ok := g.cacheGet(ctx, messages, opts); ok {
		return cached, nil
	}

	chain := g.resolveProviderChain(ctx, messages, opts)
	var lastErr error
	for _, p := range chain {
		result, err := g.tryChat(ctx, p, messages, opts)
		if err == nil {
			g.recordSuccess(p)
			g.cacheSet(ctx, messages, opts, result)
			return result, nil
		}
		lastErr = err
		g.recordFailure(p)
	}
	if lastErr == nil {
		lastErr = errors.New("no llm provider configured")
	}
	return "", fmt.Errorf("all providers exhausted: %w", lastErr)
}

// ChatStream streams response chunks through the best available
// provider. It peeks the first chunk to confirm the stream actually
// produces output before committing to a provider; an empty first
// chunk is treated as a failure and the next provider in the chain is
// tried.
func (g *Gateway) ChatStream(ctx context.Context, messages []llm.Message, opts ChatOptions, h llm.StreamHandler) error {
	chain := g.resolveProviderChain(ctx, messages, opts)
	var lastErr error
	for _, p := range chain {
		peek := &peekHandler{inner: h}
		err := g.tryChatStream(ctx, p, messages, opts, peek)
		if peek.sawDelta {
			// At least one token already reached the caller from this
			// provider. Spec §4.4: streaming continues from the same
			// provider regardless of later errors, never re-routed
			// mid-response. tryChatStream's own defer has already
			// classified and ring-recorded any error; a partially
			// delivered response is not a breaker failure.
			if err == nil {
				g.recordSuccess(p)
			}
			return err
		}
		if err == nil {
			err = errors.New("empty stream")
		}
		lastErr = err
		g.recordFailure(p)
	}
	if lastErr == nil {
		lastErr = errors.New("no llm provider configured")
	}
	return fmt.Errorf("all providers exhausted: %w", lastErr)
}

// peekHandler forwards deltas to inner but tracks whether any arrived,
// implementing the Gateway's first-token peek-and-commit semantics.
type peekHandler struct {
	inner    llm.StreamHandler
	sawDelta bool
}

func (p *peekHandler) OnDelta(content string) {
	if content == "" {
		return
	}
	p.sawDelta = true
	p.inner.OnDelta(content)
}

// Embed generates an embedding vector. Only the local (Ollama) backend
// is expected to serve embeddings.
func (g *Gateway) Embed(ctx context.Context, text string, model string) ([]float64, error) {
	p, ok := g.providers[router.Local]
	if !ok || p == nil {
		return nil, errors.New("local provider not configured")
	}
	return p.Embed(ctx, text, model)
}

func (g *Gateway) tryChat(ctx context.Context, provider router.Provider, messages []llm.Message, opts ChatOptions) (result string, err error) {
	p, ok := g.providers[provider]
	if !ok || p == nil {
		return "", fmt.Errorf("provider %s not configured", provider)
	}
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		observability.Default.GatewayCalls.WithLabelValues(string(provider), "chat", outcome).Inc()
		observability.RecordGatewayCall(ctx, string(provider), "chat", outcome)
		if g.ring != nil {
			rec := ring.CallRecord{
				Provider:  string(provider),
				Model:     g.modelOf(provider),
				Method:    "chat",
				Caller:    opts.Caller,
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
				Success:   err == nil,
			}
			if err != nil {
				rec.Error = err.Error()
				rec.ErrorType = ring.ClassifyError(err)
			} else {
				rec.OutputTokens = ring.EstimateTokensFromText(result)
			}
			g.ring.Record(rec)
		}
	}()
	ctx, span := llm.StartRequestSpan(ctx, "chat", string(provider), g.modelOf(provider), len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	result, err = p.Chat(ctx, messages, opts.System, opts.Temperature, opts.MaxTokens)
	if err != nil {
		log.Debug().Str("provider", string(provider)).Err(err).Msg("gateway_chat_failed")
		return "", err
	}
	llm.LogRedactedResponse(ctx, result)
	return result, nil
}

func (g *Gateway) tryChatStream(ctx context.Context, provider router.Provider, messages []llm.Message, opts ChatOptions, h llm.StreamHandler) (err error) {
	p, ok := g.providers[provider]
	if !ok || p == nil {
		return fmt.Errorf("provider %s not configured", provider)
	}
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		observability.Default.GatewayCalls.WithLabelValues(string(provider), "chat_stream", outcome).Inc()
		observability.RecordGatewayCall(ctx, string(provider), "chat_stream", outcome)
		if g.ring != nil {
			rec := ring.CallRecord{
				Provider:  string(provider),
				Model:     g.modelOf(provider),
				Method:    "chat_stream",
				Caller:    opts.Caller,
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
				Success:   err == nil,
				Streaming: true,
			}
			if err != nil {
				rec.Error = err.Error()
				rec.ErrorType = ring.ClassifyError(err)
			}
			g.ring.Record(rec)
		}
	}()
	ctx, span := llm.StartRequestSpan(ctx, "chat_stream", string(provider), g.modelOf(provider), len(messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, messages)
	return p.ChatStream(ctx, messages, opts.System, opts.Temperature, opts.MaxTokens, h)
}

func (g *Gateway) recordSuccess(p router.Provider) {
	if g.breakers == nil {
		return
	}
	g.breakers.Get(string(p)).RecordSuccess()
}

func (g *Gateway) recordFailure(p router.Provider) {
	if g.breakers == nil {
		return
	}
	g.breakers.Get(string(p)).RecordFailure()
}

// AvailableProviders returns the currently usable provider names.
func (g *Gateway) AvailableProviders(ctx context.Context) []router.Provider {
	avail := g.availability(ctx)
	var out []router.Provider
	if avail.Local {
		out = append(out, router.Local)
	}
	if avail.Claude {
		out = append(out, router.Claude)
	}
	if avail.OpenAI {
		out = append(out, router.OpenAI)
	}
	if avail.LiteLLM {
		out = append(out, router.LiteLLM)
	}
	return out
}

// Health reports availability of each configured provider, for the
// /api/llm status surface.
func (g *Gateway) Health(ctx context.Context) map[string]any {
	avail := g.availability(ctx)
	return map[string]any{
		"local":   map[string]any{"available": avail.Local},
		"claude":  map[string]any{"available": avail.Claude},
		"openai":  map[string]any{"available": avail.OpenAI},
		"litellm": map[string]any{"available": avail.LiteLLM, "enabled": g.litellmEnabled},
	}
}

// CostSummary delegates to the Observability Ring.
func (g *Gateway) CostSummary(windowSeconds float64) ring.Summary {
	if g.ring == nil {
		return ring.Summary{}
	}
	return g.ring.GetSummary(windowSeconds)
}

// cacheKey hashes the provider-visible inputs of a chat call.
func cacheKey(messages []llm.Message, opts ChatOptions) (string, bool) {
	b, err := json.Marshal(struct {
		Messages    []llm.Message
		System      string
		Temperature float64
		MaxTokens   int
		Override    router.Provider
	}{messages, opts.System, opts.Temperature, opts.MaxTokens, opts.OverrideProvider})
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(b)
	return "kait:gw:chat:" + hex.EncodeToString(sum[:]), true
}

func (g *Gateway) cacheGet(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	key, ok := cacheKey(messages, opts)
	if !ok {
		return "", false
	}
	val, err := g.cache.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (g *Gateway) cacheSet(ctx context.Context, messages []llm.Message, opts ChatOptions, result string) {
	if g.cache == nil {
		return
	}
	key, ok := cacheKey(messages, opts)
	if !ok {
		return
	}
	if err := g.cache.Set(ctx, key, result, g.cacheTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("gateway_cache_set_failed")
	}
}
