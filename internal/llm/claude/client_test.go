package claude

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/llm"
)

func TestAdaptMessagesExtractsSystemAndMergesRoles(t *testing.T) {
	sys, converted := adaptMessages([]llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, "")
	require.Equal(t, "be terse", sys)
	require.Len(t, converted, 2)
}

func TestAdaptMessagesAppendsExtraSystem(t *testing.T) {
	sys, _ := adaptMessages([]llm.Message{{Role: "system", Content: "a"}}, "b")
	require.Equal(t, "a\n\nb", sys)
}

func TestBuildParamsDefaultsMaxTokens(t *testing.T) {
	params := buildParams("claude-haiku", "", nil, 0, 0)
	require.Equal(t, defaultMaxTokens, params.MaxTokens)
}

func TestBuildParamsHonorsExplicitMaxTokens(t *testing.T) {
	params := buildParams("claude-haiku", "", nil, 0.5, 256)
	require.Equal(t, int64(256), params.MaxTokens)
}

func TestEmbedUnsupported(t *testing.T) {
	c := &Client{model: "claude-haiku"}
	_, err := c.Embed(nil, "text", "")
	require.Error(t, err)
}
