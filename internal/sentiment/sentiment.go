// Package sentiment implements a small rule-based sentiment analyser:
// curated positive/negative word lists, intensity modifiers, and a
// short negation window, squashed through tanh into [-1, 1]. No
// external model or network call — it runs inline on every ingested
// interaction.
package sentiment

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Result is one analysis of a single piece of text.
type Result struct {
	Score      float64  // in [-1, 1]
	Label      string   // "positive" | "negative" | "neutral"
	Confidence float64  // in [0, 1]
	Keywords   []string
}

var positiveWords = set(
	"good", "great", "awesome", "excellent", "amazing", "wonderful",
	"fantastic", "love", "like", "enjoy", "happy", "pleased", "glad",
	"brilliant", "perfect", "beautiful", "nice", "cool", "superb",
	"outstanding", "delightful", "impressive", "helpful", "thanks",
	"thank", "appreciate", "bravo", "solid", "yes", "right", "correct",
	"agree", "fun", "exciting", "interesting", "useful", "valuable",
	"clear", "elegant", "smooth", "fast", "reliable", "intuitive",
	"creative", "insightful", "thoughtful", "kind", "generous",
	"remarkable", "exceptional", "fabulous", "terrific", "magnificent",
	"splendid", "marvelous", "phenomenal", "stellar", "glorious",
)

var negativeWords = set(
	"bad", "terrible", "awful", "horrible", "poor", "hate", "dislike",
	"annoying", "frustrated", "angry", "sad", "disappointing",
	"disappointed", "wrong", "broken", "ugly", "slow", "confusing",
	"confused", "boring", "useless", "stupid", "dumb", "worst",
	"fail", "failed", "failure", "error", "bug", "crash", "sucks",
	"painful", "irritating", "problem", "issue", "difficult",
	"hard", "impossible", "ridiculous", "absurd", "lousy", "mediocre",
	"weak", "flawed", "clunky", "bloated", "messy", "unclear",
	"pointless", "wasteful", "dreadful", "atrocious", "abysmal",
	"pathetic", "wretched", "miserable", "horrendous", "appalling",
)

var intensifiers = map[string]float64{
	"very": 1.5, "really": 1.5, "extremely": 2.0, "incredibly": 2.0,
	"absolutely": 2.0, "totally": 1.8, "completely": 1.8, "utterly": 2.0,
	"highly": 1.5, "super": 1.6, "so": 1.3, "quite": 1.2, "pretty": 1.2,
	"somewhat": 0.7, "slightly": 0.5, "barely": 0.4, "hardly": 0.4,
}

var negationWords = set(
	"not", "no", "never", "neither", "nobody", "nothing", "nowhere",
	"nor", "cannot", "can't", "won't", "don't", "doesn't", "didn't",
	"isn't", "aren't", "wasn't", "weren't", "shouldn't", "wouldn't",
	"couldn't", "hasn't", "haven't", "hadn't",
)

var tokenRE = regexp.MustCompile(`[a-z]+(?:'[a-z]+)?`)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Analyze scores text using keyword matching, intensity modifiers and
// a short negation window ("not good" flips polarity, dampened).
func Analyze(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Score: 0, Label: "neutral", Confidence: 1.0}
	}

	tokens := tokenRE.FindAllString(strings.ToLower(text), -1)
	pos, neg, keywords := scoreTokens(tokens)

	raw := pos - neg
	score := round4(math.Tanh(raw / 2.0))

	label := "neutral"
	switch {
	case score > 0.05:
		label = "positive"
	case score < -0.05:
		label = "negative"
	}

	totalHits := pos + neg
	confidence := 0.5
	if totalHits > 0 {
		confidence = math.Min(1.0, 0.5+totalHits*0.1)
	}

	sort.Strings(keywords)
	keywords = dedupe(keywords)

	return Result{Score: score, Label: label, Confidence: round4(confidence), Keywords: keywords}
}

func scoreTokens(tokens []string) (pos, neg float64, keywords []string) {
	negationWindow := 0
	intensity := 1.0

	for _, tok := range tokens {
		if _, ok := negationWords[tok]; ok {
			negationWindow = 3
			continue
		}
		if mult, ok := intensifiers[tok]; ok {
			intensity = mult
			continue
		}

		_, isPos := positiveWords[tok]
		_, isNeg := negativeWords[tok]
		if isPos || isNeg {
			weight := intensity
			negated := negationWindow > 0
			switch {
			case isPos && negated:
				neg += weight * 0.75
			case isPos:
				pos += weight
			case isNeg && negated:
				pos += weight * 0.5
			default:
				neg += weight
			}
			keywords = append(keywords, tok)
			intensity = 1.0
		}

		if negationWindow > 0 {
			negationWindow--
		}
	}
	return pos, neg, keywords
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var last string
	first := true
	for _, s := range sorted {
		if first || s != last {
			out = append(out, s)
			last = s
			first = false
		}
	}
	return out
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
