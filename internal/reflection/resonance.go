package reflection

import (
	"kait/internal/bank"
)

// Resonance is the 0-1 aggregate score surfaced to the Evolution
// Engine's avg_resonance threshold, computed as a weighted blend of
// sentiment trend, feedback, preference alignment and engagement, per
// original_source's ResonanceEngine.get_resonance_score.
type Resonance struct {
	Score              float64
	SentimentComponent float64
	FeedbackComponent  float64
	AlignmentComponent float64
	EngagementComponent float64
	HasFeedback        bool
}

// ComputeResonance reduces a window of interactions and the current
// preference set to a single resonance score. Unlike the Python
// original, which kept a running in-process window, this recomputes
// from durable state each reflection cycle so the pipeline stays a
// pure function of its bank snapshot.
func ComputeResonance(interactions []bank.Interaction, prefs []bank.Preference) Resonance {
	if len(interactions) == 0 {
		return Resonance{Score: 0.5, SentimentComponent: 0.5, FeedbackComponent: 0.5, AlignmentComponent: 0.5}
	}

	recent := lastN(interactions, 20)

	var sentimentSum float64
	for _, in := range recent {
		sentimentSum += in.SentimentScore
	}
	avgSentiment := sentimentSum / float64(len(recent))
	sentimentComponent := (avgSentiment + 1.0) / 2.0

	var feedbackSum float64
	var feedbackCount int
	for _, in := range recent {
		if in.FeedbackScore != nil {
			feedbackSum += clampUnit(*in.FeedbackScore)
			feedbackCount++
		}
	}

	feedbackComponent := 0.5
	hasFeedback := feedbackCount > 0
	if hasFeedback {
		feedbackComponent = (feedbackSum/float64(feedbackCount) + 1.0) / 2.0
	}

	alignment := computeAlignment(interactions, prefs)
	engagement := minF(1.0, float64(len(interactions))/20.0)

	var score float64
	if hasFeedback {
		score = 0.40*sentimentComponent + 0.30*feedbackComponent + 0.20*alignment + 0.10*engagement
	} else {
		score = 0.55*sentimentComponent + 0.25*alignment + 0.20*engagement
	}

	return Resonance{
		Score:               clampUnit01(score),
		SentimentComponent:  sentimentComponent,
		FeedbackComponent:   feedbackComponent,
		AlignmentComponent:  alignment,
		EngagementComponent: engagement,
		HasFeedback:         hasFeedback,
	}
}

// computeAlignment scores how well recent response lengths match the
// stored "response_length" preference, mirroring
// ResonanceEngine._compute_preference_alignment's length term (the
// formality axis has no durable equivalent yet, so it's omitted rather
// than faked).
func computeAlignment(interactions []bank.Interaction, prefs []bank.Preference) float64 {
	var lengthPref string
	for _, p := range prefs {
		if p.Key == "response_length" {
			lengthPref = unquoteJSONString(p.Value)
		}
	}
	if lengthPref == "" || len(interactions) == 0 {
		return 0.5
	}

	recent := lastN(interactions, 10)
	var total int
	for _, in := range recent {
		total += wordCount(in.AIResponse)
	}
	avgLen := float64(total) / float64(len(recent))

	switch lengthPref {
	case "short":
		if avgLen < 50 {
			return 1.0
		}
		return maxF(0.2, 1.0-avgLen/200)
	case "medium":
		if avgLen >= 30 && avgLen <= 120 {
			return 1.0
		}
		return 0.5
	case "long":
		return minF(1.0, avgLen/100)
	default:
		return 0.5
	}
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func clampUnit(f float64) float64 {
	if f < -1 {
		return -1
	}
	if f > 1 {
		return 1
	}
	return f
}

func clampUnit01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
