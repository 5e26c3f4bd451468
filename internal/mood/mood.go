// Package mood implements the sidekick's lightweight mood/state
// tracker: a pure-data state machine over mood, energy and warmth axes,
// replacing the source's visual AvatarManager. All axes are clamped to
// [0, 1] and move by linear interpolation toward a per-turn target
// rather than snapping, so the reported mood reads as a trend rather
// than a jitter.
package mood

import (
	"strings"
)

// State is one sidekick mood snapshot, written alongside each
// Interaction (bank.Interaction.Mood is its Label).
type State struct {
	Label      string  `json:"label"`
	Energy     float64 `json:"energy"`
	Warmth     float64 `json:"warmth"`
	Confidence float64 `json:"confidence"`
}

// Scorer maps a user turn to a mood label, keeping Kait's
// personality-dispatch design pluggable (spec §9's tagged-variant
// dispatch note) the same way llm.Provider keeps chat pluggable.
type Scorer interface {
	Score(userInput, aiResponse string, feedback *float64, prev State) State
}

// KeywordScorer is the default Scorer: a rule-based keyword bucket
// mirroring original_source's mood_tracker sentiment hooks, smoothed
// by linear interpolation against the previous state.
type KeywordScorer struct {
	// Smoothing is the interpolation factor applied toward the new
	// per-turn target, in (0, 1]. 1.0 snaps immediately.
	Smoothing float64
}

// NewKeywordScorer returns a KeywordScorer with the default smoothing
// factor used throughout the sidekick (0.35 — noticeable but not jumpy).
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{Smoothing: 0.35}
}

var excitedWords = []string{"awesome", "amazing", "love", "exciting", "fantastic", "wow", "great"}
var warmWords = []string{"thanks", "thank you", "appreciate", "please", "kind", "helpful"}
var flatWords = []string{"fine", "ok", "okay", "whatever", "sure"}
var tenseWords = []string{"frustrated", "annoyed", "broken", "wrong", "angry", "confused", "stuck"}

// Score derives the next mood state from one interaction turn.
func (k *KeywordScorer) Score(userInput, aiResponse string, feedback *float64, prev State) State {
	text := strings.ToLower(userInput + " " + aiResponse)

	targetEnergy := 0.5
	targetWarmth := 0.5
	label := "steady"

	switch {
	case containsAny(text, excitedWords):
		targetEnergy = 0.85
		label = "energized"
	case containsAny(text, tenseWords):
		targetEnergy = 0.3
		label = "tense"
	case containsAny(text, flatWords):
		targetEnergy = 0.35
		label = "flat"
	}

	if containsAny(text, warmWords) {
		targetWarmth = 0.8
		if label == "steady" {
			label = "warm"
		}
	}

	if feedback != nil {
		if *feedback > 0.3 {
			targetEnergy += 0.1
			targetWarmth += 0.1
		} else if *feedback < -0.3 {
			targetEnergy -= 0.1
			label = "tense"
		}
	}

	smoothing := k.Smoothing
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 0.35
	}
	base := prev
	if base == (State{}) {
		base = State{Energy: 0.5, Warmth: 0.5, Confidence: 0.5}
	}

	next := State{
		Label:      label,
		Energy:     lerp(base.Energy, clamp01(targetEnergy), smoothing),
		Warmth:     lerp(base.Warmth, clamp01(targetWarmth), smoothing),
		Confidence: lerp(base.Confidence, 0.5, smoothing*0.5),
	}
	return next
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func lerp(from, to, t float64) float64 { return from + (to-from)*t }

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
