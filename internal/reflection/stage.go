package reflection

// StageDefinition names one of the Evolution Engine's 10 stages and
// the quantitative thresholds a bank snapshot must meet, in full, to
// advance into it (spec §4.6 step 6, GLOSSARY "Evolution stage").
type StageDefinition struct {
	Stage             int
	Name              string
	MinInteractions   int64
	MinCorrections    int64
	MinReflectionRuns int
	MinAvgResonance   float64
	MinAvgQuality     float64
}

// Stages is the fixed 10-level ladder. Thresholds grow monotonically
// in every dimension so Stage N+1 always subsumes Stage N's bar.
var Stages = []StageDefinition{
	{Stage: 1, Name: "nascent", MinInteractions: 0, MinCorrections: 0, MinReflectionRuns: 0, MinAvgResonance: 0.0, MinAvgQuality: 0.0},
	{Stage: 2, Name: "observing", MinInteractions: 10, MinCorrections: 0, MinReflectionRuns: 1, MinAvgResonance: 0.40, MinAvgQuality: 0.40},
	{Stage: 3, Name: "adapting", MinInteractions: 30, MinCorrections: 2, MinReflectionRuns: 2, MinAvgResonance: 0.45, MinAvgQuality: 0.45},
	{Stage: 4, Name: "attentive", MinInteractions: 60, MinCorrections: 4, MinReflectionRuns: 4, MinAvgResonance: 0.50, MinAvgQuality: 0.50},
	{Stage: 5, Name: "responsive", MinInteractions: 100, MinCorrections: 6, MinReflectionRuns: 6, MinAvgResonance: 0.55, MinAvgQuality: 0.55},
	{Stage: 6, Name: "calibrated", MinInteractions: 150, MinCorrections: 8, MinReflectionRuns: 9, MinAvgResonance: 0.60, MinAvgQuality: 0.58},
	{Stage: 7, Name: "aligned", MinInteractions: 220, MinCorrections: 10, MinReflectionRuns: 12, MinAvgResonance: 0.65, MinAvgQuality: 0.62},
	{Stage: 8, Name: "fluent", MinInteractions: 320, MinCorrections: 13, MinReflectionRuns: 16, MinAvgResonance: 0.70, MinAvgQuality: 0.66},
	{Stage: 9, Name: "attuned", MinInteractions: 450, MinCorrections: 16, MinReflectionRuns: 20, MinAvgResonance: 0.75, MinAvgQuality: 0.70},
	{Stage: 10, Name: "companion", MinInteractions: 600, MinCorrections: 20, MinReflectionRuns: 25, MinAvgResonance: 0.80, MinAvgQuality: 0.75},
}

// StageMetrics is the quantitative snapshot compared against each
// StageDefinition's thresholds.
type StageMetrics struct {
	TotalInteractions int64
	TotalCorrections  int64
	ReflectionRuns    int
	AvgResonance      float64
	AvgQuality        float64
}

// NextEligibleStage returns the highest stage whose thresholds are all
// met by metrics, or 0 if even Stage 1 isn't met (shouldn't happen:
// Stage 1's thresholds are all zero).
func NextEligibleStage(metrics StageMetrics) int {
	eligible := 0
	for _, s := range Stages {
		if meetsThresholds(metrics, s) {
			eligible = s.Stage
		}
	}
	return eligible
}

func meetsThresholds(m StageMetrics, s StageDefinition) bool {
	return m.TotalInteractions >= s.MinInteractions &&
		m.TotalCorrections >= s.MinCorrections &&
		m.ReflectionRuns >= s.MinReflectionRuns &&
		m.AvgResonance >= s.MinAvgResonance &&
		m.AvgQuality >= s.MinAvgQuality
}

// StageName looks up a stage's display name, or "" if out of range.
func StageName(stage int) string {
	for _, s := range Stages {
		if s.Stage == stage {
			return s.Name
		}
	}
	return ""
}
