package reflection

import (
	"fmt"
	"strings"

	"kait/internal/bank"
)

// BuildSystemPrompt deterministically assembles the system prompt from
// a base prompt, the active behaviour rules, recent corrections (as
// "avoid" directives) and current preferences — spec §4.6 step 5 and
// §9's "Prompt assembly" design note, which calls for this to live in
// its own pure, testable component.
func BuildSystemPrompt(base string, rules []bank.BehaviorRule, corrections []bank.Correction, prefs []bank.Preference) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "\n"))

	if len(rules) > 0 {
		b.WriteString("\n\nBehaviour rules learned from prior interactions:\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "- When %s, %s.\n", r.Trigger, r.Action)
		}
	}

	if len(corrections) > 0 {
		b.WriteString("\nAvoid repeating these past mistakes:\n")
		for _, c := range corrections {
			if c.Reason != "" {
				fmt.Fprintf(&b, "- Do not %s (%s).\n", lowerFirst(c.CorrectionText), c.Reason)
			} else {
				fmt.Fprintf(&b, "- Do not %s.\n", lowerFirst(c.CorrectionText))
			}
		}
	}

	if len(prefs) > 0 {
		b.WriteString("\nKnown user preferences:\n")
		for _, p := range prefs {
			fmt.Fprintf(&b, "- %s: %s\n", p.Key, unquoteJSONString(p.Value))
		}
	}

	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
