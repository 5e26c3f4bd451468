package observability

import (
	"encoding/json"
	"strings"
)

// sensitiveKeys covers the credential-shaped fields Kait's provider
// adapters pass around: cloud API keys, the bearer token /ingest
// checks, and the LiteLLM master key (spec §6 KAIT_LITELLM_MASTER_KEY).
var sensitiveKeys = []string{
	"api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth",
	"token", "access_token", "refresh_token", "password", "secret",
	"bearer", "master_key", "kaitd_token",
}

// RedactJSON redacts sensitive values (by key name) from a JSON
// payload before it reaches a debug log line. Called by
// llm.LogRedactedPrompt/LogRedactedResponse on every Gateway call so a
// provider's raw request/response never lands in logs verbatim.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(redactValue(v))
	if err != nil {
		return raw
	}
	return b
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
				continue
			}
			val[k] = redactValue(vv)
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if low == s || strings.Contains(low, s) {
			return true
		}
	}
	return false
}
