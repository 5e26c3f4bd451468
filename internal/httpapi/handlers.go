package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kait/internal/supervisor"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// requireToken enforces the bearer token spec §6 requires on /ingest.
// An empty configured token disables auth (local dev convenience).
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) || strings.TrimPrefix(authz, prefix) != s.token {
			respondError(w, http.StatusUnauthorized, errors.New("missing or invalid bearer token"))
			return
		}
		next(w, r)
	}
}

// handleIngest accepts a single JSON event or newline-delimited JSON
// events, per spec §6's POST /ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("ingest is not configured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	result := s.ingest.ProcessBody(r.Context(), body, time.Now())
	if result.RateLimited > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfterS+0.5)))
	}

	status := http.StatusAccepted
	if result.Accepted == 0 && (result.Quarantined > 0 || result.RateLimited > 0) {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{
		"accepted":     result.Accepted,
		"quarantined":  result.Quarantined,
		"rate_limited": result.RateLimited,
		"retry_after_s": result.RetryAfterS,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_s":   time.Since(s.startedAt).Seconds(),
	})
}

// handleStatus implements GET /api/status: per-worker running/
// heartbeat state plus local LLM reachability.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.supervisor != nil {
		workers := map[string]supervisor.Status{}
		for kind, st := range s.supervisor.StatusAll() {
			workers[string(kind)] = st
		}
		out["workers"] = workers
	}
	if s.ollamaReachable != nil {
		out["ollama_reachable"] = s.ollamaReachable()
	}
	respondJSON(w, http.StatusOK, out)
}

// handleLLM implements GET /api/llm: observability summary,
// per-provider stats, recent calls, lifetime cost.
func (s *Server) handleLLM(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		respondJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	windowSeconds := floatQuery(r, "window_s", 300)
	out := map[string]any{
		"enabled":   true,
		"summary":   s.ring.GetSummary(windowSeconds),
		"providers": s.ring.GetProviderStats(windowSeconds),
		"recent":    s.ring.GetRecent(intQuery(r, "limit", 50)),
		"lifetime":  s.ring.LifetimeStats(),
	}
	if s.breakers != nil {
		out["breakers"] = s.breakers.GetStatus()
	}
	respondJSON(w, http.StatusOK, out)
}

// handleIntelligence implements GET /api/intelligence: the most recent
// Reflection Pipeline cycle (when one was set via
// SetLastReflectionResult) plus durable bank-wide rollups.
func (s *Server) handleIntelligence(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if last := s.getLastReflectionResult(); last != nil {
		out["last_cycle"] = last
	}
	if s.bank != nil {
		ctx := r.Context()
		if stats, err := s.bank.GetStats(ctx); err == nil {
			out["stats"] = stats
		}
		if stage, err := s.bank.CurrentStage(ctx); err == nil {
			out["stage"] = stage
		}
		if archives, err := s.bank.GetArchives(ctx, 7); err == nil {
			out["recent_weekly_rollups"] = archives
		}
		if rules, err := s.bank.GetActiveBehaviorRules(ctx); err == nil {
			out["active_rule_count"] = len(rules)
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// handleQueue implements GET /api/queue: ingest quarantine occupancy
// and the Observability Ring's buffer fill, which plays the role of
// the ingest "queue" since events are applied synchronously.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.ingest != nil {
		out["quarantine"] = s.ingest.QuarantineStats()
	}
	if s.ring != nil {
		out["ring_buffer"] = s.ring.LifetimeStats()
	}
	respondJSON(w, http.StatusOK, out)
}

// handleOps implements GET /api/ops: the supervisor's operational
// view, including which workers are core vs. plugin-restricted.
func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		respondJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	core := make([]string, 0, len(supervisor.CoreKinds))
	for _, k := range supervisor.CoreKinds {
		core = append(core, string(k))
	}
	statuses := map[string]any{}
	for kind, st := range s.supervisor.StatusAll() {
		statuses[string(kind)] = st
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"core_workers": core,
		"workers":      statuses,
	})
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatQuery(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
