// Package httpapi exposes Kait's internal HTTP surface: the ingest
// endpoint adapters feed events into, and a set of read-only status
// endpoints the Pulse UI and operators poll (spec §6's "internal,
// localhost" contract — none of this is wire-compatible with any
// external specification).
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"kait/internal/bank"
	"kait/internal/breaker"
	"kait/internal/ingest"
	"kait/internal/observability"
	"kait/internal/reflection"
	"kait/internal/ring"
	"kait/internal/supervisor"
)

// Server wires the core's components onto the HTTP surface described
// by spec §6.
type Server struct {
	mux *http.ServeMux

	bank       *bank.Bank
	ring       *ring.Ring
	breakers   *breaker.Registry
	supervisor *supervisor.Supervisor
	reflection *reflection.Pipeline
	ingest     *ingest.Processor

	token     string
	startedAt time.Time

	ollamaReachable func() bool

	reflMu       sync.RWMutex
	lastReflection *reflection.Result
}

// SetLastReflectionResult caches the most recent Reflection Pipeline
// cycle's output, surfaced by GET /api/intelligence. cmd/kaitd does not
// call it: its scheduler worker runs the pipeline in a separate process
// and discards the result, so there "last_cycle" is absent from the
// response.
func (s *Server) SetLastReflectionResult(r reflection.Result) {
	s.reflMu.Lock()
	defer s.reflMu.Unlock()
	s.lastReflection = &r
}

func (s *Server) getLastReflectionResult() *reflection.Result {
	s.reflMu.RLock()
	defer s.reflMu.RUnlock()
	return s.lastReflection
}

// Config wires every dependency the handlers need. Fields may be nil
// when the corresponding subsystem is disabled; handlers degrade
// gracefully (e.g. empty provider stats when ring is nil).
type Config struct {
	Bank            *bank.Bank
	Ring            *ring.Ring
	Breakers        *breaker.Registry
	Supervisor      *supervisor.Supervisor
	Reflection      *reflection.Pipeline
	Ingest          *ingest.Processor
	Token           string
	OllamaReachable func() bool
}

// NewServer constructs the HTTP API server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		bank:            cfg.Bank,
		ring:            cfg.Ring,
		breakers:        cfg.Breakers,
		supervisor:      cfg.Supervisor,
		reflection:      cfg.Reflection,
		ingest:          cfg.Ingest,
		token:           cfg.Token,
		startedAt:       time.Now(),
		ollamaReachable: cfg.OllamaReachable,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /ingest", s.requireToken(s.handleIngest))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/llm", s.handleLLM)
	s.mux.HandleFunc("GET /api/intelligence", s.handleIntelligence)
	s.mux.HandleFunc("GET /api/queue", s.handleQueue)
	s.mux.HandleFunc("GET /api/ops", s.handleOps)
	s.mux.Handle("GET /metrics", observability.MetricsHandler())
}
