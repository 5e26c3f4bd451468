package litellm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/config"
)

func TestNewBuildsProxyScopedOpenAIClient(t *testing.T) {
	c := New(config.LiteLLMConfig{Port: 4000, MasterKey: "sk-litellm-master", Model: "gpt-4o-mini"}, nil)
	require.NotNil(t, c.inner)
}

func TestAvailableNilClientIsFalse(t *testing.T) {
	var c *Client
	require.False(t, c.Available(context.Background()))
}
