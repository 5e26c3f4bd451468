package breaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kait/internal/config"
)

func testConfig(statePath string) config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RecoveryTimeoutS: 0.05,
		HalfOpenTests:    2,
		StatePath:        statePath,
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newBreaker("ollama", testConfig(""))
	require.Equal(t, Closed, b.State())

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		require.True(t, b.AllowRequest())
	}
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	require.False(t, b.AllowRequest())
}

func TestBreakerHalfOpenRecoversToClosedOnSuccesses(t *testing.T) {
	b := newBreaker("claude", testConfig(""))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	time.Sleep(80 * time.Millisecond)
	require.True(t, b.AllowRequest())
	require.Equal(t, HalfOpen, b.State())

	require.True(t, b.AllowRequest())  // second half-open probe slot
	require.False(t, b.AllowRequest()) // exhausted

	b.RecordSuccess()
	require.Equal(t, HalfOpen, b.State())
	b.RecordSuccess()
	require.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("openai", testConfig(""))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(80 * time.Millisecond)
	require.True(t, b.AllowRequest())
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	require.Equal(t, Open, b.State())
}

func TestRegistryGetCreatesAndReuses(t *testing.T) {
	r := NewRegistry(testConfig(""))
	a := r.Get("ollama")
	b := r.Get("ollama")
	require.Same(t, a, b)
	require.Len(t, r.GetAll(), 1)
}

func TestRegistrySaveAndLoadStateBackdatesOpenCircuits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm_health_state.json")

	r1 := NewRegistry(testConfig(path))
	cb := r1.Get("ollama")
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, Open, cb.State())
	require.NoError(t, r1.SaveState())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]snapshot
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Equal(t, Open, onDisk["ollama"].State)

	r2 := NewRegistry(testConfig(path))
	restored := r2.Get("ollama")
	require.Equal(t, Open, restored.State())
	// Backdated beyond the recovery window, so the breaker is immediately probeable.
	require.True(t, restored.AllowRequest())
	require.Equal(t, HalfOpen, restored.State())
}

func TestRegistryGetStatusShape(t *testing.T) {
	r := NewRegistry(testConfig(""))
	r.Get("ollama")
	status := r.GetStatus()
	require.Contains(t, status, "ollama")
}
