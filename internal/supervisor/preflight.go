package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"kait/internal/config"
	"kait/internal/hostinfo"
)

// minFreeDiskBytes is the floor the `check` command enforces before
// declaring the data directory healthy: 2 GiB, enough headroom for the
// reasoning bank's SQLite WAL and the observability ring's rotated logs.
const minFreeDiskBytes = 2 * 1024 * 1024 * 1024

// CheckResult is one line of preflight output.
type CheckResult struct {
	Name string
	OK   bool
	Info string
}

// Preflight runs every startup sanity check spec §6's `check` command
// reports, grounded on internal/hostinfo for hardware facts.
func Preflight(ctx context.Context, cfg *config.Config) []CheckResult {
	var results []CheckResult

	results = append(results, checkRuntime())
	results = append(results, checkDataDir(cfg.DataPath))
	results = append(results, checkDiskSpace(cfg.DataPath))
	results = append(results, checkGPU())
	results = append(results, checkOllamaBinary())
	results = append(results, checkOllamaReachable(ctx, cfg))

	return results
}

func checkRuntime() CheckResult {
	return CheckResult{
		Name: "go_runtime",
		OK:   true,
		Info: fmt.Sprintf("%s/%s, %d CPUs", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
	}
}

func checkDataDir(path string) CheckResult {
	if path == "" {
		return CheckResult{Name: "data_dir_writable", OK: false, Info: "data path is empty"}
	}
	probe := filepath.Join(path, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "data_dir_writable", OK: false, Info: err.Error()}
	}
	os.Remove(probe)
	return CheckResult{Name: "data_dir_writable", OK: true, Info: path}
}

func checkDiskSpace(path string) CheckResult {
	free, err := hostinfo.FreeDiskBytes(path)
	if err != nil {
		return CheckResult{Name: "disk_space", OK: false, Info: err.Error()}
	}
	ok := free >= minFreeDiskBytes
	return CheckResult{
		Name: "disk_space",
		OK:   ok,
		Info: fmt.Sprintf("%.1f GiB free", float64(free)/(1024*1024*1024)),
	}
}

func checkGPU() CheckResult {
	info, err := hostinfo.GetHostInfo()
	if err != nil || len(info.GPUs) == 0 {
		return CheckResult{Name: "gpu", OK: true, Info: "none detected (CPU inference only)"}
	}
	return CheckResult{Name: "gpu", OK: true, Info: info.GPUs[0].Model}
}

func checkOllamaBinary() CheckResult {
	path, err := exec.LookPath("ollama")
	if err != nil {
		return CheckResult{Name: "ollama_binary", OK: false, Info: "ollama not found on PATH"}
	}
	return CheckResult{Name: "ollama_binary", OK: true, Info: path}
}

func checkOllamaReachable(ctx context.Context, cfg *config.Config) CheckResult {
	ok := pingOllama(ctx, cfg.Ollama.BaseURL(), 2*time.Second)
	if ok {
		return CheckResult{Name: "ollama_reachable", OK: true, Info: cfg.Ollama.BaseURL()}
	}
	return CheckResult{Name: "ollama_reachable", OK: false, Info: "not reachable; try `ollama serve`"}
}

func pingOllama(ctx context.Context, baseURL string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// EnsureOllama pings the local LLM daemon and, if unreachable, spawns
// it detached the same way Start launches a managed worker. Unlike the
// supervisor's own workers, ollama serve has no heartbeat file or PID
// lock of ours to manage — we only care that it answers on its port.
func EnsureOllama(ctx context.Context, cfg *config.Config) error {
	if pingOllama(ctx, cfg.Ollama.BaseURL(), 2*time.Second) {
		return nil
	}
	path, err := exec.LookPath("ollama")
	if err != nil {
		return fmt.Errorf("ollama binary not found on PATH: %w", err)
	}
	cmd := exec.Command(path, "serve")
	cmd.Env = os.Environ()
	setDetached(cmd)
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err == nil {
		cmd.Stdout = devNull
		cmd.Stderr = devNull
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ollama serve: %w", err)
	}
	go cmd.Wait() // reap; we don't track or restart this one

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if pingOllama(ctx, cfg.Ollama.BaseURL(), 1*time.Second) {
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	return fmt.Errorf("ollama serve did not become reachable within 10s")
}
