package supervisor

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"kait/internal/config"
)

// Watchdog periodically scans every managed worker and restarts any
// that are stale or dead, subject to a bounded rolling-window restart
// cap. The cap is under-specified by the spec (§9 Open Questions); we
// pick 5 restarts per 10-minute window per worker, overridable via
// config.SupervisorConfig.MaxRestarts/RestartWindow.
type Watchdog struct {
	sup *Supervisor
}

// NewWatchdog constructs a Watchdog bound to sup.
func NewWatchdog(sup *Supervisor) *Watchdog {
	return &Watchdog{sup: sup}
}

// Run blocks, sweeping every WatchdogInterval until ctx is cancelled.
// It also watches the plugin-only sentinel file via fsnotify (spec §6
// KAIT_PLUGIN_ONLY "or a sentinel file") so toggling plugin-only mode
// takes effect on the next sweep instead of waiting a full
// WatchdogInterval or requiring a restart.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.sup.cfg.WatchdogInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	sentinelChanged := make(chan struct{}, 1)
	if path := w.sup.cfg.PluginOnlySentinel; path != "" {
		if stop, err := config.WatchFile(path, func() {
			select {
			case sentinelChanged <- struct{}{}:
			default:
			}
		}); err == nil {
			defer stop()
		} else {
			log.Warn().Err(err).Str("path", path).Msg("watchdog_sentinel_watch_unavailable")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		case <-sentinelChanged:
			log.Info().Msg("watchdog_plugin_only_sentinel_changed")
			w.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: restart any worker whose heartbeat is stale
// (age > 2x its configured interval) or whose PID is dead, unless it
// has exhausted its restart budget for the rolling window. In
// plugin-only mode, only CoreKinds are restarted — auxiliary workers
// (Matrix) are left down.
func (w *Watchdog) Sweep(ctx context.Context) {
	pluginOnly := w.sup.cfg.PluginOnly || sentinelExists(w.sup.cfg.PluginOnlySentinel)

	for k, spec := range w.sup.specs {
		if k == Watchdog {
			continue // the watchdog doesn't restart itself
		}
		if pluginOnly && !isCoreKind(k) {
			continue
		}
		if w.isHealthy(k, spec) {
			continue
		}
		if !w.withinRestartBudget(k) {
			log.Error().Str("worker", string(k)).Msg("watchdog_restart_budget_exhausted")
			continue
		}
		log.Warn().Str("worker", string(k)).Msg("watchdog_restarting_worker")
		w.sup.Stop(ctx, k)
		if _, err := w.sup.Start(ctx, k); err != nil {
			log.Error().Str("worker", string(k)).Err(err).Msg("watchdog_restart_failed")
		}
	}
}

func (w *Watchdog) isHealthy(k Kind, spec WorkerSpec) bool {
	st := w.sup.Status(k)
	if !st.Running {
		return spec.Optional && !expectedRunning(w.sup, k)
	}
	if st.HeartbeatAgeSeconds < 0 {
		return true // no heartbeat yet written; give it a grace period via Sweep's own cadence
	}
	staleAfter := 2 * spec.HeartbeatInterval.Seconds()
	return st.HeartbeatAgeSeconds <= staleAfter
}

// expectedRunning reports whether a worker's lock file exists at all
// (distinguishes "never started" from "crashed").
func expectedRunning(s *Supervisor, k Kind) bool {
	_, err := os.Stat(s.pidPath(k))
	return err == nil
}

func isCoreKind(k Kind) bool {
	for _, c := range CoreKinds {
		if c == k {
			return true
		}
	}
	return false
}

func sentinelExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

const restartCapDefault = 5

var restartWindowDefault = 10 * time.Minute

func (w *Watchdog) withinRestartBudget(k Kind) bool {
	w.sup.restartMu.Lock()
	defer w.sup.restartMu.Unlock()

	cap := w.sup.cfg.MaxRestarts
	if cap <= 0 {
		cap = restartCapDefault
	}
	window := w.sup.cfg.RestartWindow
	if window <= 0 {
		window = restartWindowDefault
	}

	now := time.Now()
	history := w.sup.restartHistory[k]
	kept := history[:0]
	for _, t := range history {
		if now.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	if len(kept) >= cap {
		w.sup.restartHistory[k] = kept
		return false
	}
	w.sup.restartHistory[k] = append(kept, now)
	return true
}
