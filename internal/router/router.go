// Package router implements the LLM Router: it decides which provider
// should answer a prompt, given an optional override, a dev/build
// trigger, and an optional complexity score, with a circuit-breaker
// overlay suppressing unhealthy providers before the decision is made.
package router

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"kait/internal/breaker"
	"kait/internal/config"
)

// Provider identifies one of the chat-capable backends Kait can route to.
type Provider string

const (
	Local   Provider = "local"
	Claude  Provider = "claude"
	OpenAI  Provider = "openai"
	LiteLLM Provider = "litellm"
)

// Availability reports which providers are currently usable, before the
// circuit-breaker overlay is applied.
type Availability struct {
	Local   bool
	Claude  bool
	OpenAI  bool
	LiteLLM bool
}

// Decision is the outcome of a routing call.
type Decision struct {
	Provider      Provider
	Score         float64 // -1 when not scored (override / legacy); 1.0 for dev-build
	Reason        string
	FallbackChain []Provider
}

// Scorer computes a [0,1] complexity score for a prompt. Ready reports
// whether the scorer could produce a meaningful score; when false the
// Router falls back to legacy routing, mirroring the original's
// behavior when its classifier library isn't available.
type Scorer interface {
	Score(prompt string) (score float64, ready bool)
}

var (
	devProjectRE = regexp.MustCompile(`(?i)\b(?:kait|robin)\b`)
	devActionRE  = regexp.MustCompile(`(?i)\b(?:` +
		`build|develop|implement|code|refactor|debug|fix|patch|deploy|ship|release` +
		`|architect|scaffold|bootstrap|create|write|engineer|program|compile` +
		`|test|testing|ci|cd|pipeline|merge|pr|pull\s*request|commit` +
		`|feature|bug|issue|sprint|roadmap|milestone|backlog` +
		`|api|endpoint|route|schema|migration|database|model` +
		`|frontend|backend|fullstack|full[\s-]?stack|component|module|service` +
		`|install|setup|config|configure|integrate|upgrade|update|version` +
		`)\b`)
)

// isDevBuildRequest reports whether prompt mentions Kait/Robin together
// with a development-action keyword. Both must be present to avoid
// false positives on casual mentions of the project name.
func isDevBuildRequest(prompt string) bool {
	return devProjectRE.MatchString(prompt) && devActionRE.MatchString(prompt)
}

// Router is the LLM Router. Safe for concurrent use; holds no mutable
// state beyond its (immutable after construction) configuration.
type Router struct {
	cfg      config.RouterConfig
	breakers *breaker.Registry
	scorer   Scorer
}

// New constructs a Router. scorer may be nil, in which case the Router
// always falls back to legacy (local-first) routing, matching the
// original's behavior when its complexity-scoring library isn't
// installed.
func New(cfg config.RouterConfig, breakers *breaker.Registry, scorer Scorer) *Router {
	return &Router{cfg: cfg, breakers: breakers, scorer: scorer}
}

func (r *Router) strongProvider() Provider {
	if r.cfg.Strong == "openai" {
		return OpenAI
	}
	return Claude
}

// Route decides which provider should answer prompt. override forces a
// specific provider (e.g. a "/claude" command); pass "" for none.
func (r *Router) Route(prompt string, override Provider, avail Availability) Decision {
	avail = r.applyCircuitBreakerOverlay(avail)

	if override != "" {
		return Decision{
			Provider:      override,
			Score:         -1,
			Reason:        fmt.Sprintf("Direct override to %s", override),
			FallbackChain: r.buildFallbackChain(override, avail),
		}
	}

	if isDevBuildRequest(prompt) {
		return r.devBuildRoute(avail)
	}

	if !r.cfg.Enabled || r.scorer == nil {
		return r.legacyRoute(avail, prompt)
	}

	score, ready := r.scorer.Score(prompt)
	if !ready {
		return r.legacyRoute(avail, prompt)
	}

	var primary Provider
	var reason string
	if score >= r.cfg.Threshold {
		primary = r.strongProvider()
		reason = fmt.Sprintf("Complex query (score=%.3f >= threshold=%.3f)", score, r.cfg.Threshold)
	} else {
		primary = Local
		reason = fmt.Sprintf("Simple query (score=%.3f < threshold=%.3f)", score, r.cfg.Threshold)
	}

	primary, reason = r.reconcileUnavailablePrimary(primary, reason, avail)

	return Decision{
		Provider:      primary,
		Score:         score,
		Reason:        reason,
		FallbackChain: r.buildFallbackChain(primary, avail),
	}
}

// reconcileUnavailablePrimary walks the same unavailable-primary
// fallthrough the scored path uses when its chosen provider turns out
// to be unavailable.
func (r *Router) reconcileUnavailablePrimary(primary Provider, reason string, avail Availability) (Provider, string) {
	switch {
	case primary == Local && !avail.Local:
		primary = r.strongProvider()
		reason += " → local unavailable, using cloud"
	case primary == Claude && !avail.Claude:
		if avail.OpenAI {
			primary = OpenAI
			reason += " → Claude unavailable, using OpenAI"
		} else if avail.Local {
			primary = Local
			reason += " → Claude unavailable, falling back to local"
		}
	case primary == OpenAI && !avail.OpenAI:
		if avail.Claude {
			primary = Claude
			reason += " → OpenAI unavailable, using Claude"
		} else if avail.Local {
			primary = Local
			reason += " → OpenAI unavailable, falling back to local"
		}
	}
	return primary, reason
}

// legacyRoute is local-first, then claude, then openai, then litellm.
// A dev/build prompt takes the cloud-first route even in legacy mode.
func (r *Router) legacyRoute(avail Availability, prompt string) Decision {
	if prompt != "" && isDevBuildRequest(prompt) {
		return r.devBuildRoute(avail)
	}

	var primary Provider
	var reason string
	switch {
	case avail.Local:
		primary, reason = Local, "Legacy routing: local-first"
	case avail.Claude:
		primary, reason = Claude, "Legacy routing: local unavailable, using Claude"
	case avail.OpenAI:
		primary, reason = OpenAI, "Legacy routing: local unavailable, using OpenAI"
	case avail.LiteLLM:
		primary, reason = LiteLLM, "Legacy routing: local/cloud unavailable, using LiteLLM"
	default:
		primary, reason = Local, "Legacy routing: no providers available"
	}

	return Decision{
		Provider:      primary,
		Score:         -1,
		Reason:        reason,
		FallbackChain: r.buildFallbackChain(primary, avail),
	}
}

// devBuildRoute forces cloud-first routing: claude → openai → local →
// litellm, used for Kait/Robin development and build requests.
func (r *Router) devBuildRoute(avail Availability) Decision {
	reason := "Dev/Build request (Kait/Robin) → cloud-first"

	var primary Provider
	switch {
	case avail.Claude:
		primary = Claude
	case avail.OpenAI:
		primary = OpenAI
		reason += " → Claude unavailable, using OpenAI"
	case avail.Local:
		primary = Local
		reason += " → no cloud providers available, falling back to local"
	case avail.LiteLLM:
		primary = LiteLLM
		reason += " → no cloud or local providers available, using LiteLLM"
	default:
		primary = Local
		reason += " → no providers available"
	}

	chain := r.buildCloudFirstFallbackChain(primary, avail)
	log.Debug().Str("provider", string(primary)).Strs("chain", providerStrings(chain)).Msg("router_dev_build")

	return Decision{
		Provider:      primary,
		Score:         1.0,
		Reason:        reason,
		FallbackChain: chain,
	}
}

// buildCloudFirstFallbackChain orders candidates claude, openai, local,
// litellm, excluding primary and any unavailable provider.
func (r *Router) buildCloudFirstFallbackChain(primary Provider, avail Availability) []Provider {
	return filterChain(primary, []struct {
		p Provider
		ok bool
	}{
		{Claude, avail.Claude},
		{OpenAI, avail.OpenAI},
		{Local, avail.Local},
		{LiteLLM, avail.LiteLLM},
	})
}

// buildFallbackChain orders candidates local, claude, openai, litellm,
// excluding primary and any unavailable provider.
func (r *Router) buildFallbackChain(primary Provider, avail Availability) []Provider {
	return filterChain(primary, []struct {
		p Provider
		ok bool
	}{
		{Local, avail.Local},
		{Claude, avail.Claude},
		{OpenAI, avail.OpenAI},
		{LiteLLM, avail.LiteLLM},
	})
}

func filterChain(primary Provider, candidates []struct {
	p Provider
	ok bool
}) []Provider {
	chain := make([]Provider, 0, len(candidates))
	for _, c := range candidates {
		if c.p != primary && c.ok {
			chain = append(chain, c.p)
		}
	}
	return chain
}

// applyCircuitBreakerOverlay marks a provider unavailable when its
// breaker denies requests, so routing never picks a tripped provider.
func (r *Router) applyCircuitBreakerOverlay(avail Availability) Availability {
	if r.breakers == nil {
		return avail
	}
	if avail.Local && !r.breakers.Get(string(Local)).AllowRequest() {
		avail.Local = false
		log.Debug().Msg("router_circuit_open_ollama")
	}
	if avail.Claude && !r.breakers.Get(string(Claude)).AllowRequest() {
		avail.Claude = false
		log.Debug().Msg("router_circuit_open_claude")
	}
	if avail.OpenAI && !r.breakers.Get(string(OpenAI)).AllowRequest() {
		avail.OpenAI = false
		log.Debug().Msg("router_circuit_open_openai")
	}
	if avail.LiteLLM && !r.breakers.Get(string(LiteLLM)).AllowRequest() {
		avail.LiteLLM = false
		log.Debug().Msg("router_circuit_open_litellm")
	}
	return avail
}

func providerStrings(ps []Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
