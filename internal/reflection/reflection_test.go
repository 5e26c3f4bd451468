package reflection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/bank"
	"kait/internal/config"
)

func newTestBank(t *testing.T) *bank.Bank {
	t.Helper()
	dir := t.TempDir()
	b, err := bank.New(config.ReasoningBankConfig{DBPath: filepath.Join(dir, "sidekick.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func feedback(v float64) *float64 { return &v }

func TestExtractInsightsSentimentTrend(t *testing.T) {
	interactions := []bank.Interaction{
		{SentimentScore: 0.5, UserInput: "this is great"},
		{SentimentScore: -0.5, UserInput: "this is bad"},
	}
	insights := ExtractInsights(interactions, nil)
	require.InDelta(t, 0.0, insights.SentimentTrend, 1e-9)
}

func TestDetectRulesLengthPreference(t *testing.T) {
	interactions := []bank.Interaction{
		{AIResponse: "short reply here", FeedbackScore: feedback(0.8)},
		{AIResponse: "another short one", FeedbackScore: feedback(0.9)},
	}
	insights := ExtractInsights(interactions, nil)
	rules := DetectRules(interactions, nil, insights)

	var found bool
	for _, r := range rules {
		if r.Source == "length_preference" {
			found = true
			require.Contains(t, r.Action, "under 80 words")
		}
	}
	require.True(t, found, "expected a length_preference rule from consistently short positive-feedback replies")
}

func TestDetectRulesCorrectionCategory(t *testing.T) {
	corrections := []bank.Correction{
		{Domain: "math"}, {Domain: "math"},
	}
	insights := ExtractInsights(nil, corrections)
	rules := DetectRules(nil, corrections, insights)

	var found bool
	for _, r := range rules {
		if r.Source == "correction_category" {
			found = true
		}
	}
	require.True(t, found)
}

func TestComputeResonanceNoData(t *testing.T) {
	r := ComputeResonance(nil, nil)
	require.Equal(t, 0.5, r.Score)
}

func TestComputeResonanceWithFeedback(t *testing.T) {
	interactions := make([]bank.Interaction, 0, 20)
	for i := 0; i < 20; i++ {
		interactions = append(interactions, bank.Interaction{SentimentScore: 0.6, FeedbackScore: feedback(0.8)})
	}
	r := ComputeResonance(interactions, nil)
	require.Greater(t, r.Score, 0.6)
	require.True(t, r.HasFeedback)
}

func TestStageAdvancementRequiresAllThresholds(t *testing.T) {
	metrics := StageMetrics{TotalInteractions: 1000, TotalCorrections: 0, ReflectionRuns: 100, AvgResonance: 0.9, AvgQuality: 0.9}
	// Every stage from 3 onward requires >=2 corrections; zero corrections
	// caps eligibility at stage 2 even though every other axis is maxed.
	require.Equal(t, 2, NextEligibleStage(metrics))
}

func TestStageAdvancementAllThresholdsMet(t *testing.T) {
	metrics := StageMetrics{TotalInteractions: 1000, TotalCorrections: 30, ReflectionRuns: 100, AvgResonance: 0.9, AvgQuality: 0.9}
	require.Equal(t, 10, NextEligibleStage(metrics))
}

func TestBuildSystemPromptIncludesRulesAndCorrections(t *testing.T) {
	prompt := BuildSystemPrompt(
		"You are Kait.",
		[]bank.BehaviorRule{{Trigger: "asked about go", Action: "give detailed responses"}},
		[]bank.Correction{{CorrectionText: "Invent APIs", Reason: "hallucination risk"}},
		nil,
	)
	require.Contains(t, prompt, "You are Kait.")
	require.Contains(t, prompt, "asked about go")
	require.Contains(t, prompt, "hallucination risk")
}

func TestPipelineRunProducesSystemPrompt(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	_, err := b.SaveInteraction(ctx, bank.Interaction{UserInput: "hi", AIResponse: "hello", SentimentScore: 0.2, SessionID: "s1"})
	require.NoError(t, err)

	p := New(b, nil, nil, config.ReflectionConfig{}, "You are Kait.")
	result, err := p.Run(ctx)
	require.NoError(t, err)
	require.Contains(t, result.SystemPrompt, "You are Kait.")
	require.GreaterOrEqual(t, result.NewStage, result.PreviousStage)
}

func TestPipelineDueOnFirstCall(t *testing.T) {
	b := newTestBank(t)
	p := New(b, nil, nil, config.ReflectionConfig{EveryInteractions: 20}, "base")
	due, err := p.Due(context.Background())
	require.NoError(t, err)
	require.True(t, due)
}

func TestArchiveWorkerRunCycle(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	old := float64(0) // epoch: definitely older than any archive-age window
	_, err := b.SaveInteraction(ctx, bank.Interaction{
		UserInput: "old message", AIResponse: "old reply", SessionID: "old-session", Timestamp: old,
	})
	require.NoError(t, err)

	w := NewArchiveWorker(b, 1, "0 4 * * *")
	require.NoError(t, w.RunCycle(ctx))

	archives, err := b.GetArchives(ctx, 10)
	require.NoError(t, err)
	require.Len(t, archives, 1)

	interactions, err := b.GetInteractionHistory(ctx, 0, "old-session", "", nil)
	require.NoError(t, err)
	require.True(t, interactions[0].Archived)

	// Re-running must not double-archive (exclusivity).
	require.NoError(t, w.RunCycle(ctx))
	archives, err = b.GetArchives(ctx, 10)
	require.NoError(t, err)
	require.Len(t, archives, 1)
}

func TestArchiveWorkerBatchesSameDateSessions(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	old := float64(0)
	_, err := b.SaveInteraction(ctx, bank.Interaction{
		UserInput: "a", AIResponse: "a-reply", SessionID: "session-a", Timestamp: old,
	})
	require.NoError(t, err)
	_, err = b.SaveInteraction(ctx, bank.Interaction{
		UserInput: "b", AIResponse: "b-reply", SessionID: "session-b", Timestamp: old,
	})
	require.NoError(t, err)

	w := NewArchiveWorker(b, 1, "0 4 * * *")
	require.NoError(t, w.RunCycle(ctx))

	archives, err := b.GetArchives(ctx, 10)
	require.NoError(t, err)
	require.Len(t, archives, 1, "two stale sessions sharing a calendar date must collapse into one batch")
	require.ElementsMatch(t, []string{"session-a", "session-b"}, archives[0].SessionIDs)
	require.Len(t, archives[0].InteractionIDs, 2)
}
