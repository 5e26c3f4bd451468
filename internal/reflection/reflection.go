// Package reflection implements the Reflection/Evolution Pipeline: the
// periodic worker that reads the Reasoning Bank and the Observability
// Ring to produce insights, behaviour rules and evolution-stage
// transitions, and writes them back to the bank.
//
// Per spec §9's "cyclic references between reflection and the bank"
// design note, the pipeline is kept acyclic by treating the bank as an
// interface-shaped dependency (here, a concrete *bank.Bank passed in,
// never imported back into bank) and by splitting pure computation
// (insights.go, ruledetect.go, resonance.go, stage.go,
// promptbuilder.go — functions of inputs, no bank access) from the
// thin orchestration layer in this file that reads/writes the bank.
package reflection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kait/internal/bank"
	"kait/internal/breaker"
	"kait/internal/config"
	"kait/internal/mood"
	"kait/internal/observability"
	"kait/internal/ring"
)

// Result is one completed reflection cycle's output, useful for tests
// and for the /api/intelligence roll-up.
type Result struct {
	RanAt                time.Time
	Insights             Insights
	Resonance            Resonance
	DetectedRules        []RuleCandidate
	AppliedProposals     int
	ObservabilityInsights []ObservabilityInsight
	RelatedContexts      []bank.Context
	PreviousStage        int
	NewStage             int
	SystemPrompt         string
}

// Pipeline owns the cadence bookkeeping (every N interactions or every
// M minutes, whichever comes first) and the base system prompt that
// BuildSystemPrompt enriches.
type Pipeline struct {
	bank     *bank.Bank
	ring     *ring.Ring
	breakers *breaker.Registry
	cfg      config.ReflectionConfig
	basePrompt string

	mu               sync.Mutex
	lastRun          time.Time
	interactionsAtRun int64
	runCount         int
}

// New constructs a Pipeline. breakers may be nil if circuit breaking
// is disabled; breaker insights are simply skipped in that case (the
// ring-based observability insights still run when r is non-nil).
func New(b *bank.Bank, r *ring.Ring, breakers *breaker.Registry, cfg config.ReflectionConfig, basePrompt string) *Pipeline {
	return &Pipeline{bank: b, ring: r, breakers: breakers, cfg: cfg, basePrompt: basePrompt}
}

// Due reports whether a cycle should run now, given the current total
// interaction count from the bank.
func (p *Pipeline) Due(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastRun.IsZero() {
		return true, nil
	}

	interval := p.cfg.EveryInterval
	if interval > 0 && time.Since(p.lastRun) >= interval {
		return true, nil
	}

	everyN := p.cfg.EveryInteractions
	if everyN <= 0 {
		return interval <= 0, nil // no cadence configured at all: run every call
	}

	stats, err := p.bank.GetStats(ctx)
	if err != nil {
		return false, err
	}
	return stats.TotalInteractions-p.interactionsAtRun >= int64(everyN), nil
}

// Run executes one full reflection cycle: insight extraction, rule
// detection, observability-insight persistence, proposal application,
// stage advancement and system-prompt refinement. It reads a
// consistent snapshot of bank history up front (spec §4.6's ordering
// guarantee) before writing anything back.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	snapshot, err := p.snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reflection: read snapshot: %w", err)
	}

	insights := ExtractInsights(snapshot.interactions, snapshot.corrections)
	resonance := ComputeResonance(snapshot.interactions, snapshot.preferences)
	rules := DetectRules(snapshot.interactions, snapshot.corrections, insights)

	relatedContexts := p.recallTopicContexts(ctx, insights)
	p.logKnownDomains(ctx, insights.TopCorrectionCategories)

	var obsInsights []ObservabilityInsight
	if p.ring != nil {
		obsInsights = append(obsInsights, DetectObservabilityInsights(p.ring)...)
	}
	obsInsights = append(obsInsights, DetectBreakerInsights(p.breakers)...)
	if len(obsInsights) > 0 {
		if err := PersistObservabilityInsights(ctx, p.bank, obsInsights); err != nil {
			log.Error().Err(err).Msg("reflection_persist_observability_insights_failed")
		}
	}

	proposals := BuildProposals(rules)
	applied := 0
	for _, prop := range proposals {
		if _, err := ApplyProposal(ctx, p.bank, prop); err != nil {
			log.Error().Err(err).Str("proposal_type", prop.Type).Msg("reflection_apply_proposal_failed")
			continue
		}
		applied++
	}

	p.mu.Lock()
	p.runCount++
	runCount := p.runCount
	p.mu.Unlock()

	previousStage, newStage, err := p.advanceStage(ctx, snapshot, resonance, runCount)
	if err != nil {
		log.Error().Err(err).Msg("reflection_stage_advance_failed")
	}

	activeRules, err := p.bank.GetActiveBehaviorRules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reflection: reload active rules: %w", err)
	}
	recentCorrections, err := p.bank.GetRecentCorrections(ctx, 5)
	if err != nil {
		return Result{}, fmt.Errorf("reflection: reload corrections: %w", err)
	}
	prompt := BuildSystemPrompt(p.basePrompt, activeRules, recentCorrections, snapshot.preferences)

	p.mu.Lock()
	p.lastRun = time.Now()
	p.interactionsAtRun = snapshot.stats.TotalInteractions
	p.mu.Unlock()

	observability.Default.ReflectionCycles.Inc()
	observability.Default.BehaviorRules.Set(float64(len(activeRules)))

	return Result{
		RanAt:                 time.Now(),
		Insights:              insights,
		Resonance:             resonance,
		DetectedRules:         rules,
		AppliedProposals:      applied,
		ObservabilityInsights: obsInsights,
		RelatedContexts:       relatedContexts,
		PreviousStage:         previousStage,
		NewStage:              newStage,
		SystemPrompt:          prompt,
	}, nil
}

// recallTopicContexts surfaces Contexts related to this cycle's leading
// topic via the Reasoning Bank's optional semantic index, giving
// "topic clustering" (spec §4.6 step 1) access to prior knowledge, not
// just this window's keyword counts. A no-op when no semantic index is
// configured (RecallSimilarContexts returns nil, nil).
func (p *Pipeline) recallTopicContexts(ctx context.Context, insights Insights) []bank.Context {
	if len(insights.TopTopics) == 0 {
		return nil
	}
	related, err := p.bank.RecallSimilarContexts(ctx, "", insights.TopTopics[0].Topic, 5)
	if err != nil {
		log.Warn().Err(err).Str("topic", insights.TopTopics[0].Topic).Msg("reflection_recall_similar_contexts_failed")
		return nil
	}
	return related
}

// logKnownDomains checks, for each recurring correction category, what
// the Reasoning Bank's semantic-index graph already knows about that
// domain, giving the correction-category insight (spec §4.6 step 2)
// visibility into existing Contexts before a "double-check" rule fires
// for a domain the bank has substantial prior knowledge of.
func (p *Pipeline) logKnownDomains(ctx context.Context, categories []CategoryCount) {
	for _, cat := range categories {
		if !p.bank.DomainKnown(ctx, cat.Category) {
			continue
		}
		keys, err := p.bank.RelatedContextKeys(ctx, cat.Category)
		if err != nil {
			log.Warn().Err(err).Str("domain", cat.Category).Msg("reflection_related_context_keys_failed")
			continue
		}
		if len(keys) > 0 {
			log.Debug().Str("domain", cat.Category).Int("related_contexts", len(keys)).Msg("reflection_domain_has_related_contexts")
		}
	}
}

type bankSnapshot struct {
	interactions []bank.Interaction
	corrections  []bank.Correction
	preferences  []bank.Preference
	stats        bank.Stats
}

func (p *Pipeline) snapshot(ctx context.Context) (bankSnapshot, error) {
	interactions, err := p.bank.GetInteractionHistory(ctx, 200, "", "", nil)
	if err != nil {
		return bankSnapshot{}, err
	}
	// History comes back newest-first; the insight and resonance windows
	// (lastN) take the tail of the slice, so order it oldest-first.
	for i, j := 0, len(interactions)-1; i < j; i, j = i+1, j-1 {
		interactions[i], interactions[j] = interactions[j], interactions[i]
	}
	corrections, err := p.bank.GetRecentCorrections(ctx, 50)
	if err != nil {
		return bankSnapshot{}, err
	}
	preferences, err := p.bank.GetAllPreferences(ctx)
	if err != nil {
		return bankSnapshot{}, err
	}
	stats, err := p.bank.GetStats(ctx)
	if err != nil {
		return bankSnapshot{}, err
	}
	return bankSnapshot{interactions: interactions, corrections: corrections, preferences: preferences, stats: stats}, nil
}

func (p *Pipeline) advanceStage(ctx context.Context, snap bankSnapshot, resonance Resonance, runCount int) (previous, next int, err error) {
	previous, err = p.bank.CurrentStage(ctx)
	if err != nil {
		return 0, 0, err
	}

	metrics := StageMetrics{
		TotalInteractions: snap.stats.TotalInteractions,
		TotalCorrections:  snap.stats.TotalCorrections,
		ReflectionRuns:    runCount,
		AvgResonance:      resonance.Score,
		AvgQuality:        averageQuality(snap.interactions),
	}

	candidate := NextEligibleStage(metrics)
	if candidate <= previous {
		return previous, previous, nil
	}

	advanced, err := p.bank.AdvanceStage(ctx, candidate)
	if err != nil {
		return previous, previous, err
	}
	if !advanced {
		return previous, previous, nil
	}

	before := map[string]any{"stage": previous}
	after := map[string]any{"stage": candidate, "name": StageName(candidate)}
	if _, err := applyStageEvolutionEvent(ctx, p.bank, before, after); err != nil {
		log.Error().Err(err).Msg("reflection_stage_event_write_failed")
	}
	return previous, candidate, nil
}

// averageQuality maps feedback (when present) or sentiment (when not)
// from [-1,1]/[0,1] onto a single 0-1 "quality" figure used by the
// Evolution Engine's MinAvgQuality threshold.
func averageQuality(interactions []bank.Interaction) float64 {
	if len(interactions) == 0 {
		return 0
	}
	var sum float64
	for _, in := range interactions {
		if in.FeedbackScore != nil {
			sum += (clampUnit(*in.FeedbackScore) + 1.0) / 2.0
		} else {
			sum += (in.SentimentScore + 1.0) / 2.0
		}
	}
	return sum / float64(len(interactions))
}

// DefaultMoodScorer is a shared KeywordScorer instance exposed for
// callers that want one. ingest.Processor does not read it: it builds
// its own KeywordScorer in ingest.New.
var DefaultMoodScorer mood.Scorer = mood.NewKeywordScorer()
