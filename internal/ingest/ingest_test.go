package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kait/internal/bank"
	"kait/internal/config"
)

func newTestProcessor(t *testing.T) (*Processor, *bank.Bank) {
	t.Helper()
	dir := t.TempDir()
	b, err := bank.New(config.ReasoningBankConfig{DBPath: filepath.Join(dir, "sidekick.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	cfg := config.IngestConfig{RateLimitPerMin: 2, QuarantineMaxLines: 3, QuarantineMaxChars: 64}
	p := New(b, cfg, filepath.Join(dir, "invalid_events.jsonl"))
	return p, b
}

func TestProcessBodyAcceptsInteraction(t *testing.T) {
	p, b := newTestProcessor(t)
	body := []byte(`{"source":"cli","user_input":"hello","ai_response":"hi there","session_id":"s1"}`)
	res := p.ProcessBody(context.Background(), body, time.Now())
	require.Equal(t, 1, res.Accepted)

	stats, err := b.GetStats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalInteractions)
}

func TestProcessBodyQuarantinesInvalid(t *testing.T) {
	p, _ := newTestProcessor(t)
	body := []byte(`{"kind":"interaction"}`) // missing source
	res := p.ProcessBody(context.Background(), body, time.Now())
	require.Equal(t, 1, res.Quarantined)
}

func TestProcessBodyRateLimits(t *testing.T) {
	p, _ := newTestProcessor(t)
	now := time.Now()
	ev := []byte(`{"source":"matrix","user_input":"a","ai_response":"b"}`)

	res1 := p.ProcessBody(context.Background(), ev, now)
	res2 := p.ProcessBody(context.Background(), ev, now.Add(time.Second))
	res3 := p.ProcessBody(context.Background(), ev, now.Add(2*time.Second))

	require.Equal(t, 1, res1.Accepted)
	require.Equal(t, 1, res2.Accepted)
	require.Equal(t, 0, res3.Accepted)
	require.Equal(t, 1, res3.RateLimited)
}

func TestProcessBodyNewlineDelimited(t *testing.T) {
	p, b := newTestProcessor(t)
	body := []byte("{\"source\":\"cli\",\"user_input\":\"one\"}\n{\"source\":\"gui\",\"user_input\":\"two\"}\n")
	res := p.ProcessBody(context.Background(), body, time.Now())
	require.Equal(t, 2, res.Accepted)

	stats, err := b.GetStats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalInteractions)
}
