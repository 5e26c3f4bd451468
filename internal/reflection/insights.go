package reflection

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"kait/internal/bank"
)

// Insights is the output of step 1, Insight extraction (spec §4.6).
type Insights struct {
	SentimentTrend        float64          // average sentiment of the last ~20 interactions
	TopCorrectionCategories []CategoryCount
	LengthFeedbackCorrelation LengthFeedback
	TopTopics             []TopicCount
}

// CategoryCount is one correction domain and how often it recurred.
type CategoryCount struct {
	Category string
	Count    int
}

// TopicCount is one keyword and its frequency across recent user turns.
type TopicCount struct {
	Topic string
	Count int
}

// LengthFeedback summarises whether short or long responses correlate
// with positive feedback, feeding the length-preference rule (step 2).
type LengthFeedback struct {
	AvgPositiveLengthWords float64
	AvgNegativeLengthWords float64
	PositiveSampleSize     int
	NegativeSampleSize     int
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"this", "that", "with", "from", "have", "been", "were", "they",
		"their", "what", "when", "where", "which", "there", "about",
		"would", "could", "should", "will", "just", "more", "some",
		"than", "then", "them", "also", "into", "your", "other",
		"only", "does", "very", "much", "most", "such", "here",
		"each", "like", "make", "made", "over", "after", "before",
		"being", "these", "those", "think", "know", "want", "because",
		"really", "still", "even", "well", "back", "going", "doing",
		"using", "thing", "things", "something", "anything", "everything",
	} {
		stopWords[w] = struct{}{}
	}
}

var topicWordRE = regexp.MustCompile(`[a-z]{4,}`)

// ExtractInsights implements Reflection Pipeline step 1 over a
// consistent snapshot of recent interactions and corrections.
func ExtractInsights(interactions []bank.Interaction, corrections []bank.Correction) Insights {
	window := lastN(interactions, 20)

	var sentimentSum float64
	for _, in := range window {
		sentimentSum += in.SentimentScore
	}
	trend := 0.0
	if len(window) > 0 {
		trend = sentimentSum / float64(len(window))
	}

	return Insights{
		SentimentTrend:          trend,
		TopCorrectionCategories: topCorrectionCategories(corrections),
		LengthFeedbackCorrelation: lengthFeedbackCorrelation(interactions),
		TopTopics:               topTopics(interactions),
	}
}

func topCorrectionCategories(corrections []bank.Correction) []CategoryCount {
	counts := map[string]int{}
	for _, c := range corrections {
		domain := c.Domain
		if domain == "" {
			domain = "general"
		}
		counts[domain]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, CategoryCount{Category: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func lengthFeedbackCorrelation(interactions []bank.Interaction) LengthFeedback {
	var posSum, negSum float64
	var posN, negN int
	for _, in := range interactions {
		if in.FeedbackScore == nil {
			continue
		}
		length := float64(wordCount(in.AIResponse))
		if *in.FeedbackScore > 0.3 {
			posSum += length
			posN++
		} else if *in.FeedbackScore < -0.3 {
			negSum += length
			negN++
		}
	}
	lf := LengthFeedback{PositiveSampleSize: posN, NegativeSampleSize: negN}
	if posN > 0 {
		lf.AvgPositiveLengthWords = posSum / float64(posN)
	}
	if negN > 0 {
		lf.AvgNegativeLengthWords = negSum / float64(negN)
	}
	return lf
}

func topTopics(interactions []bank.Interaction) []TopicCount {
	counts := map[string]int{}
	for _, in := range interactions {
		for _, w := range topicWordRE.FindAllString(strings.ToLower(in.UserInput), -1) {
			if _, stop := stopWords[w]; stop {
				continue
			}
			counts[w]++
		}
	}
	out := make([]TopicCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, TopicCount{Topic: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// unquoteJSONString best-effort unwraps a JSON-encoded string value
// stored in bank.Preference.Value, falling back to the raw string for
// values that weren't JSON-quoted.
func unquoteJSONString(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return strings.Trim(raw, `"`)
}
