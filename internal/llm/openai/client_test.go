package openai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/llm"
)

func TestAdaptMessagesExtractsSystemAndMergesRoles(t *testing.T) {
	converted := adaptMessages("gpt-4o-mini", []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, "")
	require.Len(t, converted, 3)
}

func TestAdaptMessagesAppendsExtraSystem(t *testing.T) {
	converted := adaptMessages("gpt-4o-mini", []llm.Message{{Role: "system", Content: "a"}}, "b")
	require.NotEmpty(t, converted)
}

func TestIsThinkingModelRejectsTemperature(t *testing.T) {
	require.True(t, isThinkingModel("o1-preview"))
	require.True(t, isThinkingModel("o3-mini"))
	require.False(t, isThinkingModel("gpt-4o-mini"))
}

func TestBuildParamsOmitsTemperatureForThinkingModels(t *testing.T) {
	params := buildParams("o1-preview", nil, 0.7, 0)
	require.False(t, params.Temperature.Valid())
}

func TestBuildParamsHonorsExplicitMaxTokens(t *testing.T) {
	params := buildParams("gpt-4o-mini", nil, 0.5, 256)
	require.Equal(t, int64(256), params.MaxTokens.Value)
}

func TestPickModelDefaultsToClientModel(t *testing.T) {
	c := &Client{model: "gpt-4o-mini"}
	require.Equal(t, "gpt-4o-mini", c.pickModel(""))
	require.Equal(t, "gpt-4o", c.pickModel("gpt-4o"))
}
