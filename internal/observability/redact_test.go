package observability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactJSONMasksSensitiveKeys(t *testing.T) {
	raw := json.RawMessage(`{"api_key":"sk-12345","nested":{"Authorization":"Bearer xyz"},"prompt":"hello"}`)
	out := RedactJSON(raw)

	var v map[string]any
	require.NoError(t, json.Unmarshal(out, &v))
	require.Equal(t, "[REDACTED]", v["api_key"])
	require.Equal(t, "hello", v["prompt"])
	nested := v["nested"].(map[string]any)
	require.Equal(t, "[REDACTED]", nested["Authorization"])
}

func TestRedactJSONPassesThroughInvalid(t *testing.T) {
	raw := json.RawMessage(`not json`)
	require.Equal(t, raw, RedactJSON(raw))
}
