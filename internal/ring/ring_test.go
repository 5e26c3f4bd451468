package ring

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateCostExactAndPrefixMatch(t *testing.T) {
	require.InDelta(t, 0.0168, EstimateCost("claude-haiku-4-5-20251001", 1000, 4000), 1e-9)
	require.InDelta(t, 0.0168, EstimateCost("claude-haiku-4-5-20251001-extra", 1000, 4000), 1e-9)
	require.Equal(t, 0.0, EstimateCost("unknown-model", 1000, 1000))
	require.Equal(t, 0.0, EstimateCost("ollama", 100000, 100000))
}

func TestEstimateTokensFromText(t *testing.T) {
	require.Equal(t, 0, EstimateTokensFromText(""))
	require.Equal(t, 1, EstimateTokensFromText("hi"))
	require.Equal(t, 25, EstimateTokensFromText(string(make([]byte, 100))))
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, "", ClassifyError(nil))
	require.Equal(t, "timeout", ClassifyError(errors.New("context deadline: timeout")))
	require.Equal(t, "rate_limit", ClassifyError(errors.New("429 too many requests")))
	require.Equal(t, "auth", ClassifyError(errors.New("401 invalid api key")))
	require.Equal(t, "connection", ClassifyError(errors.New("urlopen connection refused")))
	require.Equal(t, "api", ClassifyError(errors.New("unexpected response")))
}

func TestRingRecordAndSummary(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, RingSize: 4, JSONLPath: filepath.Join(dir, "llm_calls.jsonl")})

	for i := 0; i < 6; i++ {
		r.Record(CallRecord{Provider: "claude", Model: "claude-sonnet-4-6", Method: "chat", LatencyMS: float64(100 + i), InputTokens: 10, OutputTokens: 20, Success: i%3 != 0})
	}

	recent := r.GetRecent(10)
	require.Len(t, recent, 4, "ring should be capped at RingSize")

	summary := r.GetSummary(3600)
	require.Equal(t, 4, summary.TotalCalls)
	require.Greater(t, summary.ErrorRate, 0.0)

	stats := r.GetProviderStats(3600)
	require.Contains(t, stats, "claude")
	require.Equal(t, []string{"claude-sonnet-4-6"}, stats["claude"].Models)

	life := r.LifetimeStats()
	require.Equal(t, int64(6), life.TotalCalls)
	require.Equal(t, 4, life.BufferSize)
	require.Equal(t, 4, life.BufferCapacity)

	b, err := os.ReadFile(filepath.Join(dir, "llm_calls.jsonl"))
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestRingDisabledSkipsRecording(t *testing.T) {
	r := New(Config{Enabled: false, RingSize: 10})
	r.Record(CallRecord{Provider: "openai", Success: true})
	require.Equal(t, int64(0), r.LifetimeStats().TotalCalls)
}

func TestRingDecorateRecordsOutcome(t *testing.T) {
	r := New(Config{Enabled: true, RingSize: 10})
	err := r.Decorate("claude", "claude-haiku-4-5-20251001", "chat", func() (int, int, error) {
		return 5, 10, errors.New("429 rate limited")
	})
	require.Error(t, err)
	recent := r.GetRecent(1)
	require.Len(t, recent, 1)
	require.False(t, recent[0].Success)
	require.Equal(t, "rate_limit", recent[0].ErrorType)
}

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	require.InDelta(t, 30, percentile(sorted, 50), 1e-9)
	require.InDelta(t, 49.6, percentile(sorted, 99), 1e-9)
}
