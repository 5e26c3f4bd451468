package reflection

import (
	"fmt"
	"strings"

	"kait/internal/bank"
)

// followUpSignals are the words spec §4.6 step 2 calls "follow-up
// signal words": turns containing them suggest the user is likely to
// ask a related question next.
var followUpSignals = []string{
	"also", "what about", "and then", "follow up", "another thing",
	"one more", "additionally", "besides",
}

// RuleCandidate is a proposed bank.BehaviorRule before it's persisted,
// carrying the evidence that produced it for the evolution proposal.
type RuleCandidate struct {
	Trigger    string
	Action     string
	Confidence float64
	Source     string
}

// DetectRules implements Reflection Pipeline step 2: topic×feedback,
// correction-category, length-preference and follow-up-pattern rules.
func DetectRules(interactions []bank.Interaction, corrections []bank.Correction, insights Insights) []RuleCandidate {
	var out []RuleCandidate

	out = append(out, topicFeedbackRules(interactions)...)
	out = append(out, correctionCategoryRules(insights.TopCorrectionCategories)...)
	if r, ok := lengthPreferenceRule(insights.LengthFeedbackCorrelation); ok {
		out = append(out, r)
	}
	if r, ok := followUpRule(interactions); ok {
		out = append(out, r)
	}
	return out
}

func topicFeedbackRules(interactions []bank.Interaction) []RuleCandidate {
	type tally struct{ pos, neg int }
	byTopic := map[string]*tally{}

	for _, in := range interactions {
		if in.FeedbackScore == nil {
			continue
		}
		for _, w := range topicWordRE.FindAllString(strings.ToLower(in.UserInput), -1) {
			if _, stop := stopWords[w]; stop {
				continue
			}
			t, ok := byTopic[w]
			if !ok {
				t = &tally{}
				byTopic[w] = t
			}
			if *in.FeedbackScore > 0.3 {
				t.pos++
			} else if *in.FeedbackScore < -0.3 {
				t.neg++
			}
		}
	}

	var out []RuleCandidate
	for topic, t := range byTopic {
		switch {
		case t.pos >= 2 && t.pos > t.neg:
			out = append(out, RuleCandidate{
				Trigger:    fmt.Sprintf("asked about %s", topic),
				Action:     "give detailed responses",
				Confidence: confidenceFromCount(t.pos),
				Source:     "topic_feedback_positive",
			})
		case t.neg >= 2 && t.neg > t.pos:
			out = append(out, RuleCandidate{
				Trigger:    fmt.Sprintf("asked about %s", topic),
				Action:     "ask clarifying questions first",
				Confidence: confidenceFromCount(t.neg),
				Source:     "topic_feedback_negative",
			})
		}
	}
	return out
}

func correctionCategoryRules(categories []CategoryCount) []RuleCandidate {
	var out []RuleCandidate
	for _, c := range categories {
		if c.Count >= 2 {
			out = append(out, RuleCandidate{
				Trigger:    fmt.Sprintf("making claims in %s", c.Category),
				Action:     fmt.Sprintf("double-check %s claims before asserting them", c.Category),
				Confidence: confidenceFromCount(c.Count),
				Source:     "correction_category",
			})
		}
	}
	return out
}

func lengthPreferenceRule(lf LengthFeedback) (RuleCandidate, bool) {
	if lf.PositiveSampleSize == 0 {
		return RuleCandidate{}, false
	}
	switch {
	case lf.AvgPositiveLengthWords < 60:
		return RuleCandidate{
			Trigger:    "any response",
			Action:     "keep responses under 80 words",
			Confidence: confidenceFromCount(lf.PositiveSampleSize),
			Source:     "length_preference",
		}, true
	case lf.AvgPositiveLengthWords > 120:
		return RuleCandidate{
			Trigger:    "any response",
			Action:     "provide thorough, detailed responses",
			Confidence: confidenceFromCount(lf.PositiveSampleSize),
			Source:     "length_preference",
		}, true
	}
	return RuleCandidate{}, false
}

func followUpRule(interactions []bank.Interaction) (RuleCandidate, bool) {
	if len(interactions) == 0 {
		return RuleCandidate{}, false
	}
	var hits int
	for _, in := range interactions {
		lower := strings.ToLower(in.UserInput)
		for _, signal := range followUpSignals {
			if strings.Contains(lower, signal) {
				hits++
				break
			}
		}
	}
	ratio := float64(hits) / float64(len(interactions))
	if ratio < 0.30 {
		return RuleCandidate{}, false
	}
	return RuleCandidate{
		Trigger:    "any turn",
		Action:     "anticipate follow-up questions",
		Confidence: minF(0.9, 0.5+ratio),
		Source:     "follow_up_pattern",
	}, true
}

// confidenceFromCount maps an evidence count to a confidence in
// [0.5, 0.9]: 0.5 plus 0.08 per observation, capped at 0.9.
func confidenceFromCount(n int) float64 {
	return minF(0.9, 0.5+float64(n)*0.08)
}
