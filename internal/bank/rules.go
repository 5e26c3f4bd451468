package bank

import (
	"context"
	"database/sql"
)

// BehaviorRule is an (if trigger, then action) directive derived by the
// Reflection Pipeline.
type BehaviorRule struct {
	ID        string
	Trigger   string
	Action    string
	Confidence float64
	Source    string
	CreatedAt float64
	Active    bool
}

// SaveBehaviorRule persists a new BehaviorRule, generating an id if unset.
func (b *Bank) SaveBehaviorRule(ctx context.Context, r BehaviorRule) (string, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = nowUnix()
	}
	err := b.withTx(ctx, "save_behavior_rule", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO behavior_rules (id, trigger_text, action, confidence, source, created_at, active)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			r.ID, r.Trigger, r.Action, r.Confidence, r.Source, r.CreatedAt)
		return err
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetActiveBehaviorRules returns active rules, confidence descending.
func (b *Bank) GetActiveBehaviorRules(ctx context.Context) ([]BehaviorRule, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, trigger_text, action, confidence, source, created_at, active
		FROM behavior_rules WHERE active = 1 ORDER BY confidence DESC`)
	if err != nil {
		return nil, storageErr("get_active_behavior_rules", err)
	}
	defer rows.Close()

	var out []BehaviorRule
	for rows.Next() {
		var r BehaviorRule
		var active int
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Action, &r.Confidence, &r.Source, &r.CreatedAt, &active); err != nil {
			return nil, storageErr("get_active_behavior_rules", err)
		}
		r.Active = active != 0
		out = append(out, r)
	}
	return out, storageErr("get_active_behavior_rules", rows.Err())
}

// LinkRuleProvenance records, in the optional graph index, that a
// BehaviorRule was derived from a given source signal (e.g.
// "correction_category:clarity" or "topic_feedback_negative"). A
// no-op when no Graph backend is configured; best-effort otherwise,
// since it's an explainability aid, not durable state.
func (b *Bank) LinkRuleProvenance(ctx context.Context, ruleID, source string) error {
	if b.idx == nil || b.idx.Graph == nil || source == "" {
		return nil
	}
	sourceNodeID := "source:" + source
	if err := b.idx.Graph.UpsertNode(ctx, sourceNodeID, []string{"rule_source"}, map[string]any{"source": source}); err != nil {
		return err
	}
	if err := b.idx.Graph.UpsertNode(ctx, ruleID, []string{"behavior_rule"}, nil); err != nil {
		return err
	}
	return b.idx.Graph.UpsertEdge(ctx, ruleID, "derived_from", sourceNodeID, nil)
}

// DeactivateBehaviorRule marks a rule inactive; rules are never deleted.
func (b *Bank) DeactivateBehaviorRule(ctx context.Context, id string) error {
	return b.withTx(ctx, "deactivate_behavior_rule", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE behavior_rules SET active = 0 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
}
