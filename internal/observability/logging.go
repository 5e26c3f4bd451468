package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide zerolog logger: RFC3339Nano
// timestamps, a parsed level, and an optional append-mode log file.
// cmd/kaitd calls this once per process at startup (the supervisor and
// every --worker re-exec alike) with the same <data dir>/logs/kaitd.log
// path, so all workers append to one shared file.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			// A dedicated log file keeps a worker's stdout free for any
			// interactive surface (Pulse, CLI banners) layered on top.
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "kait: failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Str("service", "kaitd").Logger()

	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)

	// Redirect the stdlib logger so third-party libraries still calling
	// log.Printf (there are a few in the provider SDKs) land in the
	// same structured stream instead of bypassing it.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	if l, err := zerolog.ParseLevel(level); err == nil {
		return l
	}
	return zerolog.InfoLevel
}
