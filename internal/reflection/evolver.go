package reflection

import (
	"context"
	"encoding/json"
	"fmt"

	"kait/internal/bank"
)

// Proposal is an evolution proposal (spec §4.6 step 4): a named
// parameter change the pipeline wants to apply, derived from a subset
// of this cycle's insights/rules. Applying one writes an Evolution
// Event; rollback marks that event rolled back.
type Proposal struct {
	Type          string
	Description   string
	MetricsBefore map[string]any
	MetricsAfter  map[string]any
	Rule          *RuleCandidate // non-nil when the proposal is "add this behaviour rule"
}

// BuildProposals turns detected rule candidates into evolution
// proposals. Stage transitions are applied directly by the caller via
// NextEligibleStage/AdvanceStage, not routed through a proposal, since
// they always apply and are never subject to rollback review.
// Observability insights are persisted directly as Contexts (see
// observability.go) rather than routed through a proposal, since
// they're informational, not a behavioural change.
func BuildProposals(rules []RuleCandidate) []Proposal {
	var out []Proposal

	for i := range rules {
		r := rules[i]
		out = append(out, Proposal{
			Type:        "behavior_rule",
			Description: fmt.Sprintf("when %s, %s", r.Trigger, r.Action),
			MetricsBefore: map[string]any{"confidence": 0.0},
			MetricsAfter: map[string]any{"confidence": r.Confidence, "source": r.Source},
			Rule:        &r,
		})
	}
	return out
}

// ApplyProposal writes the proposal's effect (currently: persisting a
// new behaviour rule) and records an Evolution Event documenting it.
// Returns the event id so the caller can roll it back later.
func ApplyProposal(ctx context.Context, b *bank.Bank, p Proposal) (string, error) {
	if p.Rule != nil {
		ruleID, err := b.SaveBehaviorRule(ctx, bank.BehaviorRule{
			Trigger:    p.Rule.Trigger,
			Action:     p.Rule.Action,
			Confidence: p.Rule.Confidence,
			Source:     p.Rule.Source,
		})
		if err != nil {
			return "", fmt.Errorf("apply proposal: save behavior rule: %w", err)
		}
		if err := b.LinkRuleProvenance(ctx, ruleID, p.Rule.Source); err != nil {
			// Best-effort: the behaviour rule itself already persisted.
			_ = err
		}
	}

	before, err := json.Marshal(p.MetricsBefore)
	if err != nil {
		return "", fmt.Errorf("encode metrics_before: %w", err)
	}
	after, err := json.Marshal(p.MetricsAfter)
	if err != nil {
		return "", fmt.Errorf("encode metrics_after: %w", err)
	}

	id, err := b.SaveEvolution(ctx, bank.EvolutionEvent{
		Type:          p.Type,
		Description:   p.Description,
		MetricsBefore: string(before),
		MetricsAfter:  string(after),
	})
	if err != nil {
		return "", fmt.Errorf("apply proposal: save evolution event: %w", err)
	}
	return id, nil
}

// applyStageEvolutionEvent records a stage transition as its own
// Evolution Event, separate from behaviour-rule proposals since stage
// advances are unconditional once thresholds are met.
func applyStageEvolutionEvent(ctx context.Context, b *bank.Bank, before, after map[string]any) (string, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return "", fmt.Errorf("encode stage metrics_before: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return "", fmt.Errorf("encode stage metrics_after: %w", err)
	}
	return b.SaveEvolution(ctx, bank.EvolutionEvent{
		Type:          "stage_transition",
		Description:   fmt.Sprintf("advanced to stage %v", after["stage"]),
		MetricsBefore: string(beforeJSON),
		MetricsAfter:  string(afterJSON),
	})
}

// RollbackProposal marks a previously applied proposal's Evolution
// Event as rolled back. It does not retract the behaviour rule itself
// (the rule is deactivated separately via bank.DeactivateBehaviorRule
// by the caller, which knows the rule's id); this only keeps the audit
// trail honest.
func RollbackProposal(ctx context.Context, b *bank.Bank, evolutionEventID string) error {
	return b.MarkEvolutionRolledBack(ctx, evolutionEventID)
}
