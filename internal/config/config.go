// Package config loads Kait's runtime configuration from environment
// variables (optionally seeded from a local .env file) and an optional
// YAML overlay for values that are awkward to express as env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// OllamaConfig locates the local LLM daemon.
type OllamaConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

// BaseURL returns the Ollama server's HTTP base URL.
func (c OllamaConfig) BaseURL() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, "://") {
		return host
	}
	port := c.Port
	if port == 0 {
		port = 11434
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// OllaConfig routes local traffic through an Olla-style proxy in front of Ollama.
type OllaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LiteLLMConfig enables the LiteLLM proxy path. LiteLLM speaks the
// OpenAI Chat Completions wire protocol, so the provider adapter reuses
// the OpenAI SDK pointed at this local base URL.
type LiteLLMConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	MasterKey string `yaml:"master_key"`
	Model     string `yaml:"model"`
}

// BaseURL returns the LiteLLM proxy's OpenAI-compatible base URL.
func (c LiteLLMConfig) BaseURL() string {
	port := c.Port
	if port == 0 {
		port = 4000
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// CloudProviderConfig holds an API key and optional base URL/model override
// for a cloud provider (Claude, OpenAI).
type CloudProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// RouterConfig controls complexity-based routing.
type RouterConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Type      string  `yaml:"type"`      // e.g. "routellm"
	Threshold float64 `yaml:"threshold"` // default ~0.116, see spec Design Notes
	Strong    string  `yaml:"strong"`    // strong cloud model name used when score >= threshold
}

// CircuitBreakerConfig tunes the per-provider breaker defaults.
type CircuitBreakerConfig struct {
	Enabled           bool    `yaml:"enabled"`
	FailureThreshold  int     `yaml:"failure_threshold"`
	RecoveryTimeoutS  float64 `yaml:"recovery_timeout_s"`
	HalfOpenTests     int     `yaml:"half_open_tests"`
	StatePath         string  `yaml:"state_path"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

// ObservabilityConfig tunes the Observability Ring.
type ObservabilityConfig struct {
	Enabled       bool  `yaml:"enabled"`
	RingSize      int   `yaml:"ring_size"`
	JSONLMaxBytes int64 `yaml:"jsonl_max_bytes"`
	JSONLBackups  int   `yaml:"jsonl_backups"`
}

// ReasoningBankConfig locates the durable store.
type ReasoningBankConfig struct {
	DBPath string `yaml:"db_path"`
}

// SemanticIndexConfig configures the optional vector/FTS backend used
// for Context semantic search (Vector/Search/Graph are all optional;
// "memory", "qdrant", "postgres" or "none").
type SemanticIndexConfig struct {
	Backend    string `yaml:"backend"`
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
}

// RedisConfig enables the Gateway/Reasoning Bank Redis cache layer.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// ReflectionConfig tunes the Reflection/Evolution Pipeline cadence.
type ReflectionConfig struct {
	EveryInteractions int           `yaml:"every_interactions"`
	EveryInterval     time.Duration `yaml:"every_interval"`
	ArchiveAge        time.Duration `yaml:"archive_age"`
	ArchiveCron       string        `yaml:"archive_cron"`
}

// SupervisorConfig tunes watchdog policy and worker ports.
type SupervisorConfig struct {
	PluginOnly          bool          `yaml:"plugin_only"`
	PluginOnlySentinel  string        `yaml:"plugin_only_sentinel"`
	StopGracePeriod     time.Duration `yaml:"stop_grace_period"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	WatchdogInterval    time.Duration `yaml:"watchdog_interval"`
	MaxRestarts         int           `yaml:"max_restarts"`
	RestartWindow       time.Duration `yaml:"restart_window"`
	PulsePort           int           `yaml:"pulse_port"`
	MindPort            int           `yaml:"mind_port"`
	MatrixWorkerPort    int           `yaml:"matrix_worker_port"`
}

// TelemetryConfig controls OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	OTLP        string `yaml:"otlp_endpoint"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

// IngestConfig tunes the /ingest endpoint's auth, rate limiting and quarantine.
type IngestConfig struct {
	Token             string `yaml:"token"`
	RateLimitPerMin   int    `yaml:"rate_limit_per_min"`
	QuarantineMaxLines int   `yaml:"quarantine_max_lines"`
	QuarantineMaxChars int   `yaml:"quarantine_max_chars"`
}

// Config is Kait's top level configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DataPath string `yaml:"data_path"`

	Ollama  OllamaConfig         `yaml:"ollama"`
	Olla    OllaConfig           `yaml:"olla"`
	LiteLLM LiteLLMConfig        `yaml:"litellm"`
	Claude  CloudProviderConfig  `yaml:"claude"`
	OpenAI  CloudProviderConfig  `yaml:"openai"`

	Router         RouterConfig         `yaml:"router"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Observability  ObservabilityConfig  `yaml:"observability"`
	ReasoningBank  ReasoningBankConfig  `yaml:"reasoning_bank"`
	SemanticIndex  SemanticIndexConfig  `yaml:"semantic_index"`
	Redis          RedisConfig          `yaml:"redis"`
	Reflection     ReflectionConfig     `yaml:"reflection"`
	Supervisor     SupervisorConfig     `yaml:"supervisor"`
	OTel           TelemetryConfig      `yaml:"otel"`
	Ingest         IngestConfig         `yaml:"ingest"`
}

// Load builds a Config from a local .env file (if present), the process
// environment, and an optional YAML overlay at path (may be empty).
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Overload()

	cfg := defaultConfig()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				pterm.Error.Printf("error unmarshaling config %s: %v\n", yamlPath, err)
				return nil, fmt.Errorf("unmarshal config: %w", err)
			}
			pterm.Success.Printfln("loaded configuration overlay from %s", yamlPath)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", yamlPath, err)
		}
	}

	if cfg.DataPath == "" {
		home, _ := os.UserHomeDir()
		cfg.DataPath = filepath.Join(home, ".kait")
	}
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	applyEnvOverrides(cfg)

	pterm.Info.Printfln("kait data directory: %s", cfg.DataPath)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8787,
		Ollama: OllamaConfig{
			Host:       "127.0.0.1",
			Port:       11434,
			Model:      "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Router: RouterConfig{
			Enabled:   true,
			Type:      "routellm",
			Threshold: 0.116,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			RecoveryTimeoutS: 60,
			HalfOpenTests:    2,
			SnapshotInterval: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Enabled:       true,
			RingSize:      1000,
			JSONLMaxBytes: 10 * 1024 * 1024,
			JSONLBackups:  3,
		},
		SemanticIndex: SemanticIndexConfig{Backend: "memory"},
		Reflection: ReflectionConfig{
			EveryInteractions: 20,
			EveryInterval:     15 * time.Minute,
			ArchiveAge:        7 * 24 * time.Hour,
			ArchiveCron:       "0 4 * * *",
		},
		Supervisor: SupervisorConfig{
			PluginOnlySentinel: "plugin_only",
			StopGracePeriod:    5 * time.Second,
			HeartbeatInterval:  10 * time.Second,
			WatchdogInterval:   15 * time.Second,
			MaxRestarts:        5,
			RestartWindow:      10 * time.Minute,
			PulsePort:          8788,
			MindPort:           8789,
			MatrixWorkerPort:   8790,
		},
		OTel: TelemetryConfig{ServiceName: "kaitd"},
		Ingest: IngestConfig{
			RateLimitPerMin:    60,
			QuarantineMaxLines: 200,
			QuarantineMaxChars: 2048,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := intFromEnv("KAITD_PORT", 0); v != 0 {
		cfg.Port = v
	}
	if v := intFromEnv("KAIT_PULSE_PORT", 0); v != 0 {
		cfg.Supervisor.PulsePort = v
	}
	if v := intFromEnv("KAIT_MIND_PORT", 0); v != 0 {
		cfg.Supervisor.MindPort = v
	}
	if v := intFromEnv("KAIT_MATRIX_WORKER_PORT", 0); v != 0 {
		cfg.Supervisor.MatrixWorkerPort = v
	}
	cfg.Ingest.Token = firstNonEmpty(os.Getenv("KAITD_TOKEN"), readTokenFile(filepath.Join(cfg.DataPath, "kaitd.token")), cfg.Ingest.Token)

	cfg.Ollama.Host = firstNonEmpty(os.Getenv("KAIT_OLLAMA_HOST"), cfg.Ollama.Host)
	if v := intFromEnv("KAIT_OLLAMA_PORT", 0); v != 0 {
		cfg.Ollama.Port = v
	}
	cfg.Ollama.Model = firstNonEmpty(os.Getenv("KAIT_OLLAMA_MODEL"), cfg.Ollama.Model)
	cfg.Ollama.EmbedModel = firstNonEmpty(os.Getenv("KAIT_OLLAMA_EMBED_MODEL"), cfg.Ollama.EmbedModel)

	cfg.Olla.Enabled = boolFromEnv("KAIT_OLLA_ENABLED", cfg.Olla.Enabled)
	cfg.Olla.Host = firstNonEmpty(os.Getenv("KAIT_OLLA_HOST"), cfg.Olla.Host)
	if v := intFromEnv("KAIT_OLLA_PORT", 0); v != 0 {
		cfg.Olla.Port = v
	}

	cfg.LiteLLM.Enabled = boolFromEnv("KAIT_LITELLM_ENABLED", cfg.LiteLLM.Enabled)
	if v := intFromEnv("KAIT_LITELLM_PORT", 0); v != 0 {
		cfg.LiteLLM.Port = v
	}
	cfg.LiteLLM.MasterKey = firstNonEmpty(os.Getenv("KAIT_LITELLM_MASTER_KEY"), cfg.LiteLLM.MasterKey)

	cfg.Router.Enabled = boolFromEnv("KAIT_ROUTER_ENABLED", cfg.Router.Enabled)
	cfg.Router.Type = firstNonEmpty(os.Getenv("KAIT_ROUTER_TYPE"), cfg.Router.Type)
	if v := os.Getenv("KAIT_ROUTER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.Threshold = f
		}
	}
	cfg.Router.Strong = firstNonEmpty(os.Getenv("KAIT_ROUTER_STRONG"), cfg.Router.Strong)

	cfg.CircuitBreaker.Enabled = boolFromEnv("KAIT_CB_ENABLED", cfg.CircuitBreaker.Enabled)
	if v := intFromEnv("KAIT_CB_FAILURE_THRESHOLD", 0); v != 0 {
		cfg.CircuitBreaker.FailureThreshold = v
	}
	if v := os.Getenv("KAIT_CB_RECOVERY_TIMEOUT_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CircuitBreaker.RecoveryTimeoutS = f
		}
	}
	if v := intFromEnv("KAIT_CB_HALF_OPEN_TESTS", 0); v != 0 {
		cfg.CircuitBreaker.HalfOpenTests = v
	}

	cfg.Observability.Enabled = boolFromEnv("KAIT_LLM_OBS_ENABLED", cfg.Observability.Enabled)
	if v := int64FromEnv("KAIT_LLM_OBS_JSONL_MAX_BYTES", 0); v != 0 {
		cfg.Observability.JSONLMaxBytes = v
	}
	if v := intFromEnv("KAIT_LLM_OBS_JSONL_BACKUPS", 0); v != 0 {
		cfg.Observability.JSONLBackups = v
	}

	cfg.Supervisor.PluginOnly = boolFromEnv("KAIT_PLUGIN_ONLY", cfg.Supervisor.PluginOnly)

	cfg.Claude.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.Claude.APIKey)
	cfg.OpenAI.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI.APIKey)

	if cfg.ReasoningBank.DBPath == "" {
		cfg.ReasoningBank.DBPath = filepath.Join(cfg.DataPath, "sidekick.db")
	}
	if cfg.CircuitBreaker.StatePath == "" {
		cfg.CircuitBreaker.StatePath = filepath.Join(cfg.DataPath, "llm_health_state.json")
	}
	if cfg.Supervisor.PluginOnlySentinel != "" && !filepath.IsAbs(cfg.Supervisor.PluginOnlySentinel) {
		cfg.Supervisor.PluginOnlySentinel = filepath.Join(cfg.DataPath, cfg.Supervisor.PluginOnlySentinel)
	}
}

func readTokenFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func int64FromEnv(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
