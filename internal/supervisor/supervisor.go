// Package supervisor implements the Service Supervisor: the
// process-lifecycle authority that spawns, monitors and restarts
// Kait's long-running workers (ingest daemon, bridge, scheduler, pulse
// UI, watchdog, and the optional matrix worker), owns their PID locks
// and heartbeat files, and checks the local LLM daemon is reachable.
//
// Workers are spawned the way the teacher's internal/services package
// spawned llama-server: exec.Command against a re-exec of the current
// binary with a `--worker=<kind>` flag, run detached in its own process
// group, with a monitor goroutine that notices unexpected exits.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kait/internal/config"
	"kait/internal/errs"
)

// Kind identifies one of the Supervisor's managed workers.
type Kind string

const (
	Ingest    Kind = "ingest"
	Bridge    Kind = "bridge"
	Scheduler Kind = "scheduler"
	Pulse     Kind = "pulse"
	Matrix    Kind = "matrix"
	Watchdog  Kind = "watchdog"
)

// CoreKinds are restarted even in plugin-only mode; Matrix is the one
// auxiliary worker the watchdog leaves down under that mode.
var CoreKinds = []Kind{Ingest, Bridge, Scheduler, Pulse, Watchdog}

// dependencyOrder mirrors spec §4.5: ingest daemon starts first; bridge,
// scheduler, pulse and matrix depend on it; watchdog starts last because
// it monitors the rest.
var dependencyOrder = []Kind{Ingest, Bridge, Scheduler, Pulse, Matrix, Watchdog}

// concurrentRank is the set of workers that share a single rank in the
// dependency graph (all depend only on Ingest, and Watchdog depends on
// all of them), so they can be started concurrently once Ingest is up.
var concurrentRank = []Kind{Bridge, Scheduler, Pulse, Matrix}

// WorkerSpec describes how to launch and monitor one worker kind.
type WorkerSpec struct {
	Kind              Kind
	Args              []string // appended after "--worker=<kind>"
	HeartbeatInterval time.Duration
	Optional          bool // matrix: absence isn't an error
}

// Status is the observable state of one worker, the shape of the
// Supervisor's status(worker) operation.
type Status struct {
	Kind                Kind
	Running             bool
	PID                 int
	PIDAlive            bool
	HeartbeatAgeSeconds float64
	LogPath             string
}

// Heartbeat is the JSON structure every worker periodically overwrites
// to signal liveness to the watchdog.
type Heartbeat struct {
	Timestamp float64        `json:"timestamp"`
	PID       int            `json:"pid"`
	Status    string         `json:"status"`
	Counters  map[string]int `json:"counters,omitempty"`
}

type workerProc struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
}

// Supervisor is the process-lifecycle authority. One instance per
// daemon process.
type Supervisor struct {
	cfg      config.SupervisorConfig
	dataDir  string
	selfExec string

	mu      sync.Mutex
	specs   map[Kind]WorkerSpec
	running map[Kind]*workerProc

	restartMu      sync.Mutex
	restartHistory map[Kind][]time.Time

	// testEnv, when non-nil, is appended to every spawned worker's
	// environment. Only ever set by tests, to redirect the re-exec'd
	// binary into the fake-worker branch of TestMain.
	testEnv []string
}

// New constructs a Supervisor rooted at dataDir (Kait's per-user state
// directory) using cfg for timing/policy defaults. specs may omit
// entries to use package defaults for every standard worker kind.
func New(cfg config.SupervisorConfig, dataDir string, specs map[Kind]WorkerSpec) (*Supervisor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve self executable: %w", err)
	}
	merged := defaultSpecs(cfg)
	for k, v := range specs {
		merged[k] = v
	}
	for _, dir := range []string{"pids", "logs"} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Supervisor{
		cfg:            cfg,
		dataDir:        dataDir,
		selfExec:       self,
		specs:          merged,
		running:        make(map[Kind]*workerProc),
		restartHistory: make(map[Kind][]time.Time),
	}, nil
}

func defaultSpecs(cfg config.SupervisorConfig) map[Kind]WorkerSpec {
	hb := cfg.HeartbeatInterval
	if hb <= 0 {
		hb = 10 * time.Second
	}
	m := make(map[Kind]WorkerSpec, len(dependencyOrder))
	for _, k := range dependencyOrder {
		m[k] = WorkerSpec{Kind: k, HeartbeatInterval: hb, Optional: k == Matrix}
	}
	return m
}

func (s *Supervisor) pidPath(k Kind) string       { return filepath.Join(s.dataDir, "pids", string(k)+".lock") }
func (s *Supervisor) heartbeatPath(k Kind) string { return filepath.Join(s.dataDir, string(k)+"_heartbeat.json") }
func (s *Supervisor) logPath(k Kind) string       { return filepath.Join(s.dataDir, "logs", string(k)+".log") }

// StartAll starts every configured worker honouring the dependency
// graph's forward order: Ingest first, then every worker in
// concurrentRank fanned out concurrently (none of them depend on each
// other, only on Ingest), then Watchdog last since it monitors the rest.
func (s *Supervisor) StartAll(ctx context.Context) error {
	if err := s.startOne(ctx, Ingest); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range concurrentRank {
		k := k
		g.Go(func() error { return s.startOne(gctx, k) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.startOne(ctx, Watchdog)
}

// startOne starts a single worker kind, swallowing the error (as a
// warning) when its spec is Optional.
func (s *Supervisor) startOne(ctx context.Context, k Kind) error {
	spec, ok := s.specs[k]
	if !ok {
		return nil
	}
	if _, err := s.Start(ctx, k); err != nil {
		if spec.Optional {
			log.Warn().Str("worker", string(k)).Err(err).Msg("optional_worker_start_failed")
			return nil
		}
		return fmt.Errorf("start %s: %w", k, err)
	}
	return nil
}

// StopAll stops every running worker in reverse dependency order.
func (s *Supervisor) StopAll(ctx context.Context) {
	for i := len(dependencyOrder) - 1; i >= 0; i-- {
		s.Stop(ctx, dependencyOrder[i])
	}
}

// Start acquires the worker's PID lock and spawns it detached. If the
// worker is already running (a live PID holds the lock), Start is a
// no-op and returns the existing pid (testable property 8).
func (s *Supervisor) Start(ctx context.Context, k Kind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wp, ok := s.running[k]; ok && processAlive(wp.pid) {
		return wp.pid, nil
	}

	pid, err := s.acquireLock(k)
	if err != nil {
		return 0, err
	}
	if pid != 0 {
		// A lock already held by a live process not tracked in this
		// instance (e.g. a prior kaitd process for the same worker).
		return pid, nil
	}

	spec := s.specs[k]
	args := append([]string{"--worker=" + string(k)}, spec.Args...)
	cmd := exec.Command(s.selfExec, args...)
	cmd.Env = append(os.Environ(), s.testEnv...)
	setDetached(cmd)

	logFile, err := openLogFile(s.logPath(k))
	if err != nil {
		return 0, fmt.Errorf("%w: open log for %s: %v", errs.ErrStartFailed, k, err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		s.releaseLock(k)
		return 0, fmt.Errorf("%w: spawn %s: %v", errs.ErrStartFailed, k, err)
	}

	if err := s.writeLock(k, cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		logFile.Close()
		return 0, fmt.Errorf("%w: write pid lock for %s: %v", errs.ErrStartFailed, k, err)
	}

	wp := &workerProc{cmd: cmd, pid: cmd.Process.Pid, startedAt: time.Now()}
	s.running[k] = wp
	go s.monitor(k, wp, logFile)

	log.Info().Str("worker", string(k)).Int("pid", wp.pid).Msg("worker_started")
	return wp.pid, nil
}

// Stop sends a termination signal, waits up to the configured grace
// period, then escalates to a hard kill. Stopping an already-stopped
// worker is a no-op.
func (s *Supervisor) Stop(ctx context.Context, k Kind) {
	s.mu.Lock()
	wp, ok := s.running[k]
	s.mu.Unlock()

	lockPID, _ := readLockPID(s.pidPath(k))
	if !ok && (lockPID == 0 || !processAlive(lockPID)) {
		s.cleanupFiles(k)
		return
	}

	grace := s.cfg.StopGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}

	targetPID := lockPID
	if ok {
		targetPID = wp.pid
	}
	if targetPID != 0 {
		terminate(targetPID)
		deadline := time.After(grace)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
	waitLoop:
		for {
			select {
			case <-deadline:
				kill(targetPID)
				break waitLoop
			case <-ticker.C:
				if !processAlive(targetPID) {
					break waitLoop
				}
			}
		}
	}

	s.mu.Lock()
	delete(s.running, k)
	s.mu.Unlock()
	s.cleanupFiles(k)
	log.Info().Str("worker", string(k)).Msg("worker_stopped")
}

func (s *Supervisor) cleanupFiles(k Kind) {
	os.Remove(s.pidPath(k))
	os.Remove(s.heartbeatPath(k))
}

// Status reports the observable state of one worker.
func (s *Supervisor) Status(k Kind) Status {
	pid, _ := readLockPID(s.pidPath(k))
	alive := pid != 0 && processAlive(pid)
	age := -1.0
	if hb, ok := readHeartbeat(s.heartbeatPath(k)); ok {
		age = time.Since(time.Unix(int64(hb.Timestamp), 0)).Seconds()
	}
	return Status{
		Kind:                k,
		Running:             alive,
		PID:                 pid,
		PIDAlive:            alive,
		HeartbeatAgeSeconds: age,
		LogPath:             s.logPath(k),
	}
}

// StatusAll reports Status for every configured worker kind.
func (s *Supervisor) StatusAll() map[Kind]Status {
	out := make(map[Kind]Status, len(s.specs))
	for k := range s.specs {
		out[k] = s.Status(k)
	}
	return out
}

// monitor waits on a spawned process and clears its bookkeeping when
// it exits outside of an explicit Stop call.
func (s *Supervisor) monitor(k Kind, wp *workerProc, logFile *os.File) {
	err := wp.cmd.Wait()
	logFile.Close()

	s.mu.Lock()
	current, stillTracked := s.running[k]
	if stillTracked && current == wp {
		delete(s.running, k)
	}
	s.mu.Unlock()

	if !stillTracked || current != wp {
		return // Stop() already handled this exit.
	}
	if err != nil {
		log.Warn().Str("worker", string(k)).Err(err).Msg("worker_exited_unexpectedly")
	} else {
		log.Warn().Str("worker", string(k)).Msg("worker_exited_unexpectedly")
	}
	os.Remove(s.pidPath(k))
}
