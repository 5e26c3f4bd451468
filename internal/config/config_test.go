package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAITD_TOKEN", "")
	dataDir := t.TempDir()
	t.Setenv("HOME", dataDir) // harmless on platforms that honor it
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, 2, cfg.CircuitBreaker.HalfOpenTests)
	require.InDelta(t, 60.0, cfg.CircuitBreaker.RecoveryTimeoutS, 0.001)
	require.InDelta(t, 0.116, cfg.Router.Threshold, 0.0001)
	require.Equal(t, filepath.Join(cfg.DataPath, "sidekick.db"), cfg.ReasoningBank.DBPath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAIT_CB_FAILURE_THRESHOLD", "9")
	t.Setenv("KAIT_ROUTER_THRESHOLD", "0.5")
	t.Setenv("KAIT_PLUGIN_ONLY", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.CircuitBreaker.FailureThreshold)
	require.InDelta(t, 0.5, cfg.Router.Threshold, 0.0001)
	require.True(t, cfg.Supervisor.PluginOnly)
}
