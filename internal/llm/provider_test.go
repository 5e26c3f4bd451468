package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMessagesExtractsSystem(t *testing.T) {
	system, merged := NormalizeMessages([]Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hi"},
	})
	require.Equal(t, "be helpful", system)
	require.Equal(t, []Message{{Role: "user", Content: "hi"}}, merged)
}

func TestNormalizeMessagesMergesConsecutiveSameRole(t *testing.T) {
	_, merged := NormalizeMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
	})
	require.Len(t, merged, 2)
	require.Equal(t, "a\n\nb", merged[0].Content)
	require.Equal(t, "c", merged[1].Content)
}

func TestNormalizeMessagesPrefixesSyntheticUserTurn(t *testing.T) {
	_, merged := NormalizeMessages([]Message{
		{Role: "assistant", Content: "hello there"},
	})
	require.Len(t, merged, 2)
	require.Equal(t, "user", merged[0].Role)
	require.Equal(t, "", merged[0].Content)
	require.Equal(t, "assistant", merged[1].Role)
}

func TestNormalizeMessagesMergesMultipleSystemTurns(t *testing.T) {
	system, _ := NormalizeMessages([]Message{
		{Role: "system", Content: "first"},
		{Role: "system", Content: "second"},
	})
	require.Equal(t, "first\n\nsecond", system)
}
