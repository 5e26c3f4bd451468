package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kait/internal/config"
)

// TestMain lets this test binary double as the re-exec target: when
// invoked with KAIT_SUPERVISOR_TEST_WORKER=1 it behaves like a managed
// worker (writes a heartbeat, sleeps) instead of running the test
// suite. Start() re-execs os.Executable(), which under `go test` is
// this compiled test binary, so the fake spawns real child processes
// without needing an external helper binary.
func TestMain(m *testing.M) {
	if os.Getenv("KAIT_SUPERVISOR_TEST_WORKER") == "1" {
		runFakeWorker()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runFakeWorker() {
	hbPath := os.Getenv("KAIT_SUPERVISOR_TEST_HEARTBEAT")
	for i := 0; i < 600; i++ {
		if hbPath != "" {
			_ = WriteHeartbeat(hbPath, os.Getpid(), "running", nil)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	cfg := config.SupervisorConfig{
		StopGracePeriod:   2 * time.Second,
		HeartbeatInterval: 200 * time.Millisecond,
		WatchdogInterval:  200 * time.Millisecond,
		MaxRestarts:       5,
		RestartWindow:     10 * time.Minute,
	}
	specs := map[Kind]WorkerSpec{
		Ingest: {Kind: Ingest, HeartbeatInterval: cfg.HeartbeatInterval},
	}
	sup, err := New(cfg, dir, specs)
	require.NoError(t, err)
	sup.testEnv = []string{"KAIT_SUPERVISOR_TEST_WORKER=1", "KAIT_SUPERVISOR_TEST_HEARTBEAT=" + sup.heartbeatPath(Ingest)}
	return sup
}

func TestStartIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	pid1, err := sup.Start(ctx, Ingest)
	require.NoError(t, err)
	require.NotZero(t, pid1)
	defer sup.Stop(ctx, Ingest)

	pid2, err := sup.Start(ctx, Ingest)
	require.NoError(t, err)
	require.Equal(t, pid1, pid2, "starting an already-running worker must return the same pid")
}

func TestStopIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sup.Start(ctx, Ingest)
	require.NoError(t, err)

	sup.Stop(ctx, Ingest)
	st := sup.Status(Ingest)
	require.False(t, st.Running)

	// Stopping again must not panic or block.
	sup.Stop(ctx, Ingest)
}

func TestStatusReportsHeartbeatAge(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sup.Start(ctx, Ingest)
	require.NoError(t, err)
	defer sup.Stop(ctx, Ingest)

	require.Eventually(t, func() bool {
		st := sup.Status(Ingest)
		return st.Running && st.HeartbeatAgeSeconds >= 0 && st.HeartbeatAgeSeconds < 5
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRestartBudgetCapsWithinWindow(t *testing.T) {
	sup := newTestSupervisor(t)
	wd := NewWatchdog(sup)

	for i := 0; i < 5; i++ {
		require.True(t, wd.withinRestartBudget(Ingest))
	}
	require.False(t, wd.withinRestartBudget(Ingest), "6th restart within the window must be rejected")
}

func TestPluginOnlySkipsAuxiliaryWorkers(t *testing.T) {
	require.True(t, isCoreKind(Ingest))
	require.False(t, isCoreKind(Matrix))
}
