package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureLoggingGatesShouldLog(t *testing.T) {
	ConfigureLogging(false, 0)
	ok, _ := shouldLog()
	require.False(t, ok)

	ConfigureLogging(true, 64)
	ok, trunc := shouldLog()
	require.True(t, ok)
	require.Equal(t, 64, trunc)

	ConfigureLogging(false, 0)
}

func TestLogRedactedPromptNoopWhenDisabled(t *testing.T) {
	ConfigureLogging(false, 0)
	// Should not panic even with no logger configured in the context.
	LogRedactedPrompt(context.Background(), []Message{{Role: "user", Content: "hi"}})
}

func TestLogRedactedPromptEnabledDoesNotPanic(t *testing.T) {
	ConfigureLogging(true, 0)
	defer ConfigureLogging(false, 0)
	LogRedactedPrompt(context.Background(), []Message{{Role: "user", Content: strings.Repeat("x", 10)}})
}

func TestStartRequestSpanSetsAttributes(t *testing.T) {
	_, span := StartRequestSpan(context.Background(), "chat", "claude", "claude-sonnet-4-6", 3)
	require.NotNil(t, span)
	span.End()
}

func TestRecordTokenAttributesNilSpanIsNoop(t *testing.T) {
	RecordTokenAttributes(nil, 1, 2, 3)
}
