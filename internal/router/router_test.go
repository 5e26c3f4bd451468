package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/breaker"
	"kait/internal/config"
)

type fixedScorer struct {
	score float64
	ready bool
}

func (f fixedScorer) Score(string) (float64, bool) { return f.score, f.ready }

func newTestRouter(t *testing.T, cfg config.RouterConfig, scorer Scorer) *Router {
	t.Helper()
	reg := breaker.NewRegistry(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 3, RecoveryTimeoutS: 60, HalfOpenTests: 2})
	return New(cfg, reg, scorer)
}

func TestRouteOverrideWins(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"}, nil)
	d := r.Route("anything", Claude, Availability{Local: true, Claude: true})
	require.Equal(t, Claude, d.Provider)
	require.Equal(t, -1.0, d.Score)
}

func TestRouteDevBuildForcesCloud(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"}, nil)
	d := r.Route("let's build a new feature for kait", "", Availability{Local: true, Claude: true, OpenAI: true})
	require.Equal(t, Claude, d.Provider)
	require.Equal(t, 1.0, d.Score)
	require.Equal(t, []Provider{OpenAI, Local}, d.FallbackChain)
}

func TestRouteDevBuildFallsBackWithoutCloud(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"}, nil)
	d := r.Route("please fix this bug in robin", "", Availability{Local: true})
	require.Equal(t, Local, d.Provider)
}

func TestLegacyRouteLocalFirst(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: false}, nil)
	d := r.Route("what's the weather like", "", Availability{Local: true, Claude: true})
	require.Equal(t, Local, d.Provider)
	require.Equal(t, []Provider{Claude}, d.FallbackChain)
}

func TestLegacyRouteFallsThroughToClaude(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: false}, nil)
	d := r.Route("hello", "", Availability{Claude: true, OpenAI: true})
	require.Equal(t, Claude, d.Provider)
}

func TestScoredRouteAboveThresholdPicksStrong(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"},
		fixedScorer{score: 0.9, ready: true})
	d := r.Route("explain quantum computing in depth", "", Availability{Local: true, Claude: true})
	require.Equal(t, Claude, d.Provider)
	require.InDelta(t, 0.9, d.Score, 1e-9)
}

func TestScoredRouteBelowThresholdPicksLocal(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"},
		fixedScorer{score: 0.01, ready: true})
	d := r.Route("hi", "", Availability{Local: true, Claude: true})
	require.Equal(t, Local, d.Provider)
}

func TestScoredRouteStrongUnavailableFallsBackToOpenAI(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"},
		fixedScorer{score: 0.9, ready: true})
	d := r.Route("deep analysis", "", Availability{Local: true, OpenAI: true})
	require.Equal(t, OpenAI, d.Provider)
}

func TestScorerNotReadyFallsBackToLegacy(t *testing.T) {
	r := newTestRouter(t, config.RouterConfig{Enabled: true, Threshold: 0.116, Strong: "claude"},
		fixedScorer{ready: false})
	d := r.Route("hello", "", Availability{Local: true})
	require.Equal(t, Local, d.Provider)
	require.Equal(t, -1.0, d.Score)
}

func TestCircuitBreakerOverlaySuppressesOpenProvider(t *testing.T) {
	reg := breaker.NewRegistry(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeoutS: 3600, HalfOpenTests: 2})
	cb := reg.Get(string(Local))
	cb.RecordFailure()
	require.Equal(t, breaker.Open, cb.State())

	r := New(config.RouterConfig{Enabled: false}, reg, nil)
	d := r.Route("hello", "", Availability{Local: true, Claude: true})
	require.Equal(t, Claude, d.Provider, "ollama circuit is open, should skip to claude")
}

func TestIsDevBuildRequestRequiresBothProjectAndAction(t *testing.T) {
	require.True(t, isDevBuildRequest("let's refactor kait's router"))
	require.False(t, isDevBuildRequest("kait is a cool name"))
	require.False(t, isDevBuildRequest("let's refactor this code"))
}
