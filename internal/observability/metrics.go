package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a pull-based counterpart to the OTel exporters in otel.go:
// a second metrics surface for operators who don't run an OTLP
// collector, matching the teacher pack's prometheus/client_golang
// usage. Every gauge/counter here mirrors a quantity already recorded
// in the Observability Ring or Circuit Breaker Registry; it does not
// replace those, it just makes them scrapeable.
type Metrics struct {
	GatewayCalls    *prometheus.CounterVec
	BreakerTrips    *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	ReflectionCycles prometheus.Counter
	BehaviorRules   prometheus.Gauge
}

// NewMetrics registers Kait's counters/gauges against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or nil to
// use prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		GatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kait_gateway_calls_total",
			Help: "LLM Gateway calls by provider, method and outcome.",
		}, []string{"provider", "method", "outcome"}),
		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kait_breaker_trips_total",
			Help: "Circuit breaker transitions into the OPEN state, by provider.",
		}, []string{"provider"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kait_breaker_state",
			Help: "Current circuit breaker state per provider (0=closed, 1=half_open, 2=open).",
		}, []string{"provider"}),
		ReflectionCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "kait_reflection_cycles_total",
			Help: "Reflection Pipeline cycles completed.",
		}),
		BehaviorRules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kait_active_behavior_rules",
			Help: "Active behavior rules as of the last Reflection cycle.",
		}),
	}
}

// Default is the process-wide Metrics instance. Kait has one gateway,
// one breaker registry and one reflection pipeline per process (spec
// §3 Invariants), so a package-level instance mirrors the Bank/Ring/
// Registry singleton pattern used elsewhere rather than threading a
// *Metrics handle through every constructor.
var Default = NewMetrics(prometheus.DefaultRegisterer)

// MetricsHandler returns the /metrics endpoint handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// StateValue maps a breaker state name to the gauge value BreakerState expects.
func StateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default: // "closed"
		return 0
	}
}
