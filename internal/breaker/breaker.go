// Package breaker implements the Circuit Breaker Registry: a per-provider
// CLOSED/OPEN/HALF_OPEN state machine that protects the LLM Gateway from
// cascading failures against an unhealthy provider.
package breaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kait/internal/config"
	"kait/internal/observability"
)

// State is a circuit breaker lifecycle state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Breaker is a state machine circuit breaker for a single LLM provider.
// The provider key is the literal provider name used everywhere else in
// the Gateway/Router — no aliasing between a provider's logical name and
// its breaker key.
type Breaker struct {
	mu sync.Mutex

	provider         string
	enabled          bool
	failureThreshold int
	recoveryTimeoutS float64
	halfOpenTests    int

	state            State
	failureCount     int
	successCount     int
	halfOpenAttempts int
	lastFailureAt    time.Time
	hasLastFailure   bool
}

func newBreaker(provider string, cfg config.CircuitBreakerConfig) *Breaker {
	return &Breaker{
		provider:         provider,
		enabled:          cfg.Enabled,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeoutS: cfg.RecoveryTimeoutS,
		halfOpenTests:    cfg.HalfOpenTests,
		state:            Closed,
	}
}

// Provider returns the breaker's provider key.
func (b *Breaker) Provider() string {
	return b.provider
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// AllowRequest reports whether a request may proceed. CLOSED always
// allows; OPEN allows once recoveryTimeoutS has elapsed since the last
// failure (transitioning to HALF_OPEN); HALF_OPEN allows up to
// halfOpenTests concurrent probes.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return true
	}

	switch b.state {
	case Closed:
		return true
	case Open:
		if !b.hasLastFailure {
			b.transition(HalfOpen)
			b.halfOpenAttempts = 1
			return true
		}
		if time.Since(b.lastFailureAt).Seconds() >= b.recoveryTimeoutS {
			b.transition(HalfOpen)
			b.halfOpenAttempts = 1
			return true
		}
		return false
	default: // HalfOpen
		if b.halfOpenAttempts < b.halfOpenTests {
			b.halfOpenAttempts++
			return true
		}
		return false
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return
	}

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.halfOpenTests {
			b.transition(Closed)
		}
	}
}

// RecordFailure records a failed call outcome. Any failure while
// HALF_OPEN immediately reopens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return
	}

	b.failureCount++
	b.lastFailureAt = time.Now()
	b.hasLastFailure = true

	switch b.state {
	case Closed:
		if b.failureCount >= b.failureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	switch to {
	case Closed, HalfOpen, Open:
		b.successCount = 0
		b.halfOpenAttempts = 0
		if to == Closed {
			b.failureCount = 0
		}
	}
	log.Debug().Str("provider", b.provider).Str("from", string(from)).Str("to", string(to)).
		Int("failures", b.failureCount).Msg("circuit_transition")

	observability.Default.BreakerState.WithLabelValues(b.provider).Set(observability.StateValue(string(to)))
	if to == Open && from != Open {
		observability.Default.BreakerTrips.WithLabelValues(b.provider).Inc()
	}
}

// snapshot is the JSON-serializable state of a Breaker, used both for
// the /api/llm status surface and for disk persistence.
type snapshot struct {
	Provider         string  `json:"provider"`
	State            State   `json:"state"`
	FailureCount     int     `json:"failure_count"`
	SuccessCount     int     `json:"success_count"`
	HalfOpenAttempts int     `json:"half_open_attempts"`
	LastFailureUnix  float64 `json:"last_failure_time"`
	FailureThreshold int     `json:"failure_threshold"`
	RecoveryTimeoutS float64 `json:"recovery_timeout_s"`
	HalfOpenTests    int     `json:"half_open_tests"`
}

func (b *Breaker) toSnapshot() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var last float64
	if b.hasLastFailure {
		last = float64(b.lastFailureAt.Unix())
	}
	return snapshot{
		Provider:         b.provider,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		HalfOpenAttempts: b.halfOpenAttempts,
		LastFailureUnix:  last,
		FailureThreshold: b.failureThreshold,
		RecoveryTimeoutS: b.recoveryTimeoutS,
		HalfOpenTests:    b.halfOpenTests,
	}
}

// Registry is a thread-safe registry of per-provider breakers, with
// snapshot persistence to the on-disk health-state file.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      config.CircuitBreakerConfig
	path     string
}

// NewRegistry constructs a Registry and restores any persisted state
// from cfg.StatePath, if present.
func NewRegistry(cfg config.CircuitBreakerConfig) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		path:     cfg.StatePath,
	}
	if cfg.Enabled {
		r.loadState()
	}
	return r
}

// Get returns the breaker for provider, creating it (CLOSED) if absent.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = newBreaker(provider, r.cfg)
		r.breakers[provider] = b
	}
	return b
}

// GetAll returns a snapshot map of all registered breakers.
func (r *Registry) GetAll() map[string]*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// GetStatus returns the serialized state of every registered breaker,
// for the /api/llm status endpoint.
func (r *Registry) GetStatus() map[string]any {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	names := make([]string, 0, len(r.breakers))
	for name, b := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = breakers[i].toSnapshot()
	}
	return out
}

// SaveState persists all breaker states to cfg.StatePath via a
// write-temp-then-rename so a crash mid-write never corrupts it.
func (r *Registry) SaveState() error {
	if r.path == "" {
		return nil
	}
	status := r.GetStatus()
	b, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return err
	}
	log.Debug().Int("providers", len(status)).Msg("circuit_state_saved")
	return nil
}

// loadState restores breaker states from cfg.StatePath. Persisted OPEN
// circuits are backdated by recoveryTimeoutS so the first AllowRequest
// after a restart immediately probes with HALF_OPEN rather than
// re-waiting out the recovery window from scratch — monotonic failure
// timestamps can't survive a process restart so this is the closest
// equivalent.
func (r *Registry) loadState() {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var data map[string]snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn().Err(err).Msg("circuit_state_load_failed")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for provider, s := range data {
		b := newBreaker(provider, r.cfg)
		switch s.State {
		case Open, HalfOpen, Closed:
			b.state = s.State
		default:
			b.state = Closed
		}
		b.failureCount = s.FailureCount
		b.successCount = s.SuccessCount
		b.halfOpenAttempts = s.HalfOpenAttempts
		if b.state == Open {
			b.lastFailureAt = time.Now().Add(-time.Duration(b.recoveryTimeoutS * float64(time.Second)))
			b.hasLastFailure = true
		} else if s.LastFailureUnix > 0 {
			b.lastFailureAt = time.Unix(int64(s.LastFailureUnix), 0)
			b.hasLastFailure = true
		}
		r.breakers[provider] = b
	}
	log.Debug().Int("providers", len(data)).Msg("circuit_state_loaded")
}
