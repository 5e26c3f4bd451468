// Command kaitd is Kait's core daemon: the Service Supervisor's
// entrypoint. Invoked with no subcommand it behaves like `start`;
// invoked with `--worker=<kind>` it re-execs into one managed worker's
// run loop instead of the supervisor (the same re-exec pattern the
// teacher's internal/services package used to spawn llama-server).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"

	"kait/internal/bank"
	"kait/internal/bridge"
	"kait/internal/breaker"
	"kait/internal/config"
	"kait/internal/gateway"
	"kait/internal/httpapi"
	"kait/internal/ingest"
	"kait/internal/llm/claude"
	"kait/internal/llm/litellm"
	"kait/internal/llm/ollama"
	"kait/internal/llm/openai"
	"kait/internal/observability"
	"kait/internal/persistence/databases"
	"kait/internal/reflection"
	"kait/internal/ring"
	"kait/internal/router"
	"kait/internal/supervisor"
	"kait/internal/version"
)

func main() {
	workerFlag := flag.String("worker", "", "run a single supervised worker (ingest|bridge|scheduler|pulse|matrix|watchdog) instead of the supervisor CLI")
	configPath := flag.String("config", "", "optional YAML configuration overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaitd: load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(filepath.Join(cfg.DataPath, "logs", "kaitd.log"), "info")

	if *workerFlag != "" {
		if err := runWorker(context.Background(), cfg, supervisor.Kind(*workerFlag)); err != nil {
			log.Fatal().Err(err).Str("worker", *workerFlag).Msg("worker_exited_with_error")
		}
		return
	}

	args := flag.Args()
	cmd := "start"
	if len(args) > 0 {
		cmd = args[0]
	}

	if cmd == "version" {
		pterm.Info.Printfln("kaitd %s", version.Version)
		return
	}

	log.Info().Str("version", version.Version).Msg("kaitd_starting")

	sup, err := supervisor.New(cfg.Supervisor, cfg.DataPath, nil)
	if err != nil {
		pterm.Error.Printfln("construct supervisor: %v", err)
		os.Exit(1)
	}

	switch cmd {
	case "start":
		noServices := len(args) > 1 && args[1] == "--no-services"
		os.Exit(cmdStart(sup, noServices))
	case "stop":
		stopServices := len(args) > 1 && args[1] == "--stop-services-on-exit"
		cmdStop(sup, stopServices)
	case "status":
		cmdStatus(sup)
	case "check":
		os.Exit(cmdCheck(cfg))
	default:
		fmt.Fprintf(os.Stderr, "usage: kaitd [start [--no-services]|stop [--stop-services-on-exit]|status|check|version]\n")
		os.Exit(2)
	}
}

func cmdStart(sup *supervisor.Supervisor, noServices bool) int {
	if noServices {
		pterm.Info.Println("--no-services: supervisor CLI exiting without spawning workers")
		return 0
	}
	if err := sup.StartAll(context.Background()); err != nil {
		pterm.Error.Printfln("start failed: %v", err)
		return 1
	}
	pterm.Success.Println("kait started")
	return 0
}

func cmdStop(sup *supervisor.Supervisor, _ bool) {
	sup.StopAll(context.Background())
	pterm.Success.Println("kait stopped")
}

func cmdStatus(sup *supervisor.Supervisor) {
	for kind, st := range sup.StatusAll() {
		pterm.Info.Printfln("%-10s running=%-5v pid=%-7d heartbeat_age_s=%.1f", kind, st.Running, st.PID, st.HeartbeatAgeSeconds)
	}
}

// cmdCheck implements the `check` CLI command: exit 0 when every
// preflight check passes, 1 otherwise (spec §6).
func cmdCheck(cfg *config.Config) int {
	results := supervisor.Preflight(context.Background(), cfg)
	allOK := true
	for _, r := range results {
		if r.OK {
			pterm.Success.Printfln("%-20s %s", r.Name, r.Info)
		} else {
			pterm.Error.Printfln("%-20s %s", r.Name, r.Info)
			allOK = false
		}
	}
	if allOK {
		return 0
	}
	return 1
}

// runWorker dispatches a re-exec'd `--worker=<kind>` invocation into
// that worker's run loop. Every worker writes its own heartbeat file
// at the on-disk convention spec §6 documents
// (<data dir>/<kind>_heartbeat.json) so the watchdog can observe it
// without depending on a live Supervisor in this process.
func runWorker(ctx context.Context, cfg *config.Config, kind supervisor.Kind) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hbPath := filepath.Join(cfg.DataPath, string(kind)+"_heartbeat.json")
	stopHeartbeat := startHeartbeatLoop(ctx, hbPath, cfg.Supervisor.HeartbeatInterval)
	defer stopHeartbeat()

	workerLog := observability.WorkerLogger(ctx, string(kind))
	workerLog.Info().Msg("worker_dispatch_start")

	switch kind {
	case supervisor.Ingest:
		return runIngestWorker(ctx, cfg)
	case supervisor.Scheduler:
		return runSchedulerWorker(ctx, cfg)
	case supervisor.Bridge:
		return runBridgeWorker(ctx, cfg)
	case supervisor.Matrix:
		return runMatrixWorker(ctx, cfg)
	case supervisor.Pulse:
		<-ctx.Done()
		return nil
	case supervisor.Watchdog:
		return runWatchdogWorker(ctx, cfg)
	default:
		return fmt.Errorf("unknown worker kind %q", kind)
	}
}

func startHeartbeatLoop(ctx context.Context, path string, interval time.Duration) func() {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pid := os.Getpid()
		write := func() {
			if err := supervisor.WriteHeartbeat(path, pid, "running", nil); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("heartbeat_write_failed")
			}
		}
		write()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				write()
			}
		}
	}()
	return func() { <-done }
}

// coreStack bundles the shared subsystems (1)-(4) from spec §2 that
// both the ingest worker and the scheduler worker need.
type coreStack struct {
	bank     *bank.Bank
	ring     *ring.Ring
	breakers *breaker.Registry
	gw       *gateway.Gateway
}

func buildCoreStack(cfg *config.Config) (*coreStack, error) {
	var idx *databases.Manager
	if cfg.SemanticIndex.Backend != "" && cfg.SemanticIndex.Backend != "none" {
		mgr, err := databases.NewManager(context.Background(), cfg.SemanticIndex)
		if err != nil {
			log.Warn().Err(err).Msg("semantic_index_init_failed_continuing_without_it")
		} else {
			idx = &mgr
		}
	}

	b, err := bank.New(cfg.ReasoningBank, idx)
	if err != nil {
		return nil, fmt.Errorf("init reasoning bank: %w", err)
	}

	r := ring.New(ring.Config{
		Enabled:       cfg.Observability.Enabled,
		RingSize:      cfg.Observability.RingSize,
		JSONLPath:     filepath.Join(cfg.DataPath, "logs", "llm_calls.jsonl"),
		JSONLMaxBytes: cfg.Observability.JSONLMaxBytes,
		JSONLBackups:  cfg.Observability.JSONLBackups,
	})

	breakers := breaker.NewRegistry(cfg.CircuitBreaker)

	httpClient := &http.Client{Timeout: 120 * time.Second}
	providers := gateway.ProviderSet{
		router.Local:   ollama.New(cfg.Ollama, httpClient),
		router.Claude:  claude.New(cfg.Claude, httpClient),
		router.OpenAI:  openai.New(cfg.OpenAI, httpClient),
		router.LiteLLM: litellm.New(cfg.LiteLLM, httpClient),
	}
	modelFor := map[router.Provider]string{
		router.Local:   cfg.Ollama.Model,
		router.Claude:  cfg.Claude.Model,
		router.OpenAI:  cfg.OpenAI.Model,
		router.LiteLLM: cfg.LiteLLM.Model,
	}

	rt := router.New(cfg.Router, breakers, nil)
	gw := gateway.New(gateway.Config{
		Providers:      providers,
		ModelFor:       modelFor,
		LiteLLMEnabled: cfg.LiteLLM.Enabled,
		Router:         rt,
		Breakers:       breakers,
		Ring:           r,
	})

	if idx != nil && idx.Vector != nil {
		b.SetEmbedder(func(ctx context.Context, text string) ([]float64, error) {
			return gw.Embed(ctx, text, cfg.Ollama.EmbedModel)
		})
	}

	return &coreStack{bank: b, ring: r, breakers: breakers, gw: gw}, nil
}

func runIngestWorker(ctx context.Context, cfg *config.Config) error {
	stack, err := buildCoreStack(cfg)
	if err != nil {
		return err
	}
	defer stack.bank.Close()

	proc := ingest.New(stack.bank, cfg.Ingest, filepath.Join(cfg.DataPath, "invalid_events.jsonl"))

	pipeline := reflection.New(stack.bank, stack.ring, stack.breakers, cfg.Reflection, basePrompt())
	server := httpapi.NewServer(httpapi.Config{
		Bank:       stack.bank,
		Ring:       stack.ring,
		Breakers:   stack.breakers,
		Ingest:     proc,
		Token:      cfg.Ingest.Token,
		Reflection: pipeline,
		OllamaReachable: func() bool {
			for _, p := range stack.gw.AvailableProviders(ctx) {
				if p == router.Local {
					return true
				}
			}
			return false
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: server}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("ingest_worker_listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func runSchedulerWorker(ctx context.Context, cfg *config.Config) error {
	stack, err := buildCoreStack(cfg)
	if err != nil {
		return err
	}
	defer stack.bank.Close()

	pipeline := reflection.New(stack.bank, stack.ring, stack.breakers, cfg.Reflection, basePrompt())
	archiver := reflection.NewArchiveWorker(stack.bank, cfg.Reflection.ArchiveAge, cfg.Reflection.ArchiveCron)
	if err := archiver.Start(ctx); err != nil {
		return fmt.Errorf("start archive worker: %w", err)
	}
	defer archiver.Stop()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			due, err := pipeline.Due(ctx)
			if err != nil {
				log.Error().Err(err).Msg("reflection_due_check_failed")
				continue
			}
			if !due {
				continue
			}
			if _, err := pipeline.Run(ctx); err != nil {
				log.Error().Err(err).Msg("reflection_run_failed")
			}
		}
	}
}

func runBridgeWorker(ctx context.Context, _ *config.Config) error {
	inbox := bridge.NewInbox(256)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-inbox.Messages():
			log.Debug().Str("room_id", msg.RoomID).Msg("bridge_message_drained")
		}
	}
}

func runMatrixWorker(ctx context.Context, _ *config.Config) error {
	<-ctx.Done()
	return nil
}

func runWatchdogWorker(ctx context.Context, cfg *config.Config) error {
	sup, err := supervisor.New(cfg.Supervisor, cfg.DataPath, nil)
	if err != nil {
		return fmt.Errorf("construct supervisor for watchdog: %w", err)
	}
	supervisor.NewWatchdog(sup).Run(ctx)
	return nil
}

func basePrompt() string {
	return "You are Kait, a self-evolving personal AI sidekick."
}
