package bank

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/config"
)

func newTestBank(t *testing.T) *Bank {
	t.Helper()
	dir := t.TempDir()
	b, err := New(config.ReasoningBankConfig{DBPath: filepath.Join(dir, "sidekick.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSaveInteractionRoundTrip(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	id, err := b.SaveInteraction(ctx, Interaction{
		UserInput:      "hello",
		AIResponse:     "hi there",
		SentimentScore: 0.5,
		SessionID:      "s1",
		Source:         "cli",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	history, err := b.GetInteractionHistory(ctx, 10, "s1", "", nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hello", history[0].UserInput)
	require.Equal(t, "hi there", history[0].AIResponse)
	require.False(t, history[0].Archived)
}

func TestUpdateInteractionFeedback(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()
	id, err := b.SaveInteraction(ctx, Interaction{UserInput: "x", AIResponse: "y", SessionID: "s1", Source: "gui"})
	require.NoError(t, err)

	require.NoError(t, b.UpdateInteractionFeedback(ctx, id, 0.9))

	history, err := b.GetInteractionHistory(ctx, 0, "s1", "", nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].FeedbackScore)
	require.InDelta(t, 0.9, *history[0].FeedbackScore, 1e-9)
}

func TestContextCounterBumpsExactlyN(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()
	require.NoError(t, b.SaveContext(ctx, Context{Key: "k1", Value: `{"v":1}`, Domain: "meta", Confidence: 0.8}))

	const n = 5
	for i := 0; i < n; i++ {
		c, ok, err := b.GetContext(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, i+1, c.AccessCount)
	}

	c, ok, err := b.GetContext(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, n+1, c.AccessCount)
}

func TestUpdateContextUpserts(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()
	require.NoError(t, b.UpdateContext(ctx, Context{Key: "k1", Value: "a", Domain: "d1", Confidence: 0.5}))
	require.NoError(t, b.UpdateContext(ctx, Context{Key: "k1", Value: "b", Domain: "d1", Confidence: 0.9}))

	found, ok, err := b.GetContext(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", found.Value)
	require.InDelta(t, 0.9, found.Confidence, 1e-9)
}

func TestSearchContextsByPrefix(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()
	require.NoError(t, b.SaveContext(ctx, Context{Key: "user.name", Value: "a", Domain: "profile"}))
	require.NoError(t, b.SaveContext(ctx, Context{Key: "user.email", Value: "b", Domain: "profile"}))
	require.NoError(t, b.SaveContext(ctx, Context{Key: "system.flag", Value: "c", Domain: "meta"}))

	found, err := b.SearchContexts(ctx, "user.", "")
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestDeleteContext(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()
	require.NoError(t, b.SaveContext(ctx, Context{Key: "k1", Value: "a"}))
	require.NoError(t, b.DeleteContext(ctx, "k1"))

	_, ok, err := b.GetContext(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvolvePersonalityRecordsEvent(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	trait, err := b.EvolvePersonality(ctx, "curiosity", 0.6)
	require.NoError(t, err)
	require.Len(t, trait.History, 1)

	trait, err = b.EvolvePersonality(ctx, "curiosity", 0.7)
	require.NoError(t, err)
	require.Len(t, trait.History, 2)

	events, err := b.GetEvolutionsByType(ctx, "personality")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestStageMonotonic(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	stage, err := b.CurrentStage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stage)

	advanced, err := b.AdvanceStage(ctx, 3)
	require.NoError(t, err)
	require.True(t, advanced)

	advanced, err = b.AdvanceStage(ctx, 2)
	require.NoError(t, err)
	require.False(t, advanced, "stage must never move backward")

	stage, err = b.CurrentStage(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stage)
}

func TestBehaviorRuleLifecycle(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	id, err := b.SaveBehaviorRule(ctx, BehaviorRule{Trigger: "topic:go", Action: "be detailed", Confidence: 0.9, Source: "reflection"})
	require.NoError(t, err)

	rules, err := b.GetActiveBehaviorRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	require.NoError(t, b.DeactivateBehaviorRule(ctx, id))
	rules, err = b.GetActiveBehaviorRules(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestArchiveExclusivity(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	old := nowUnix() - 3*24*3600
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := b.SaveInteraction(ctx, Interaction{
			UserInput: "x", AIResponse: "y", SessionID: "stale-session",
			Source: "cli", Timestamp: old,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	sessions, err := b.GetArchivableSessions(ctx, 24*3600)
	require.NoError(t, err)
	require.Contains(t, sessions, "stale-session")

	flipped, err := b.MarkInteractionsArchived(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, 3, flipped)

	archiveID, err := b.SaveArchive(ctx, Archive{
		BatchLabel:     "2026-07-27",
		SessionIDs:     []string{"stale-session"},
		InteractionIDs: ids,
		Summary:        "a quiet day",
	})
	require.NoError(t, err)

	got, err := b.GetArchiveInteractions(ctx, archiveID)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Re-running MarkInteractionsArchived is idempotent: already-archived
	// ids don't flip again, so no id could ever land in a second archive.
	flipped, err = b.MarkInteractionsArchived(ctx, ids)
	require.NoError(t, err)
	require.Zero(t, flipped)
}

func TestPreferenceReinforcementAndDamping(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()

	require.NoError(t, b.SavePreference(ctx, Preference{Key: "tone", Value: "formal"}))
	p, ok, err := b.GetPreference(ctx, "tone")
	require.NoError(t, err)
	require.True(t, ok)
	base := p.Confidence

	require.NoError(t, b.SavePreference(ctx, Preference{Key: "tone", Value: "formal"}))
	p, _, err = b.GetPreference(ctx, "tone")
	require.NoError(t, err)
	require.Greater(t, p.Confidence, base)

	require.NoError(t, b.SavePreference(ctx, Preference{Key: "tone", Value: "casual"}))
	p, _, err = b.GetPreference(ctx, "tone")
	require.NoError(t, err)
	require.Less(t, p.Confidence, base+reinforceGain)
}

func TestGetStats(t *testing.T) {
	b := newTestBank(t)
	ctx := context.Background()
	_, err := b.SaveInteraction(ctx, Interaction{UserInput: "a", AIResponse: "b", SessionID: "s1", Source: "cli", SentimentScore: 1})
	require.NoError(t, err)
	_, err = b.SaveInteraction(ctx, Interaction{UserInput: "c", AIResponse: "d", SessionID: "s1", Source: "cli", SentimentScore: -1})
	require.NoError(t, err)

	stats, err := b.GetStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalInteractions)
	require.InDelta(t, 0, stats.AvgSentiment, 1e-9)
}
