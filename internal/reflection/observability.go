package reflection

import (
	"context"
	"encoding/json"
	"fmt"

	"kait/internal/bank"
	"kait/internal/breaker"
	"kait/internal/ring"
)

// errorRateThreshold and latencyDegradationMS mirror spec §4.6 step 3's
// "error rate exceeds 25%... or p99 latency exceeds the degradation
// threshold"; the latency figure is a configuration-free default since
// the spec leaves it unspecified beyond "the degradation threshold".
const (
	errorRateThreshold  = 0.25
	latencyDegradationMS = 8000.0
	observabilityWindowSeconds = 300.0
)

// ObservabilityInsight is one safety insight derived from provider
// stats, persisted as a Context in the "meta" domain.
type ObservabilityInsight struct {
	Provider  string  `json:"provider"`
	Kind      string  `json:"kind"` // "high_error_rate" | "high_latency"
	ErrorRate float64 `json:"error_rate,omitempty"`
	P99MS     float64 `json:"p99_ms,omitempty"`
}

// DetectObservabilityInsights implements step 3: scans per-provider
// stats over the trailing 5-minute window for breaches worth
// surfacing to the evolution engine.
func DetectObservabilityInsights(r *ring.Ring) []ObservabilityInsight {
	var out []ObservabilityInsight
	for provider, stats := range r.GetProviderStats(observabilityWindowSeconds) {
		if stats.Calls == 0 {
			continue
		}
		if stats.ErrorRate > errorRateThreshold {
			out = append(out, ObservabilityInsight{Provider: provider, Kind: "high_error_rate", ErrorRate: stats.ErrorRate})
		}
		if stats.P99LatencyMS > latencyDegradationMS {
			out = append(out, ObservabilityInsight{Provider: provider, Kind: "high_latency", P99MS: stats.P99LatencyMS})
		}
	}
	return out
}

// DetectBreakerInsights adds one insight per provider whose breaker is
// currently OPEN, so a sustained outage is visible to the Reflection
// Pipeline's output even between failure bursts the ring window might
// have already aged out.
func DetectBreakerInsights(registry *breaker.Registry) []ObservabilityInsight {
	if registry == nil {
		return nil
	}
	var out []ObservabilityInsight
	for name, b := range registry.GetAll() {
		if b.State() == breaker.Open {
			out = append(out, ObservabilityInsight{Provider: name, Kind: "circuit_open"})
		}
	}
	return out
}

// PersistObservabilityInsights writes each insight as a Context keyed
// uniquely per provider+kind, so a repeated breach simply re-saves
// (SaveContext upserts) rather than accumulating duplicates.
func PersistObservabilityInsights(ctx context.Context, b *bank.Bank, insights []ObservabilityInsight) error {
	for _, in := range insights {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode observability insight: %w", err)
		}
		key := fmt.Sprintf("observability:%s:%s", in.Provider, in.Kind)
		if err := b.UpdateContext(ctx, bank.Context{
			Key:        key,
			Value:      string(payload),
			Domain:     "meta",
			Confidence: 1.0,
		}); err != nil {
			return err
		}
	}
	return nil
}
