package bank

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// TraitPoint is one sample in a PersonalityTrait's history.
type TraitPoint struct {
	Value     float64 `json:"value"`
	Timestamp float64 `json:"ts"`
}

// PersonalityTrait is a named trait in [0,1] with an append-only history.
type PersonalityTrait struct {
	Trait     string
	Value     float64
	History   []TraitPoint
	UpdatedAt float64
}

// EvolvePersonality mutates a trait's value and records the
// before/after into an Evolution Event in the same transaction. If the
// trait is new, it's initialised with a single-point history.
func (b *Bank) EvolvePersonality(ctx context.Context, trait string, newValue float64) (PersonalityTrait, error) {
	now := nowUnix()
	var result PersonalityTrait
	err := b.withTx(ctx, "evolve_personality", func(tx *sql.Tx) error {
		var historyJSON string
		var before float64
		row := tx.QueryRowContext(ctx, `SELECT value, history FROM personality_traits WHERE trait = ?`, trait)
		err := row.Scan(&before, &historyJSON)

		var history []TraitPoint
		switch err {
		case sql.ErrNoRows:
			before = newValue
		case nil:
			if jerr := json.Unmarshal([]byte(historyJSON), &history); jerr != nil {
				return jerr
			}
		default:
			return err
		}

		history = append(history, TraitPoint{Value: newValue, Timestamp: now})
		newHistoryJSON, err := json.Marshal(history)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO personality_traits (trait, value, history, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(trait) DO UPDATE SET value = excluded.value, history = excluded.history, updated_at = excluded.updated_at`,
			trait, newValue, string(newHistoryJSON), now)
		if err != nil {
			return err
		}

		metricsBefore, _ := json.Marshal(map[string]float64{trait: before})
		metricsAfter, _ := json.Marshal(map[string]float64{trait: newValue})
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evolution_events (id, type, description, metrics_before, metrics_after, timestamp, rolled_back)
			VALUES (?, 'personality', ?, ?, ?, ?, 0)`,
			newID(), fmt.Sprintf("trait %q evolved", trait), string(metricsBefore), string(metricsAfter), now)
		if err != nil {
			return err
		}

		result = PersonalityTrait{Trait: trait, Value: newValue, History: history, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return PersonalityTrait{}, err
	}
	return result, nil
}

// GetPersonalityTrait reads a single trait.
func (b *Bank) GetPersonalityTrait(ctx context.Context, trait string) (PersonalityTrait, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var t PersonalityTrait
	t.Trait = trait
	var historyJSON string
	err := b.db.QueryRowContext(ctx, `SELECT value, history, updated_at FROM personality_traits WHERE trait = ?`, trait).
		Scan(&t.Value, &historyJSON, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return PersonalityTrait{}, false, nil
	}
	if err != nil {
		return PersonalityTrait{}, false, storageErr("get_personality_trait", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &t.History); err != nil {
		return PersonalityTrait{}, false, storageErr("get_personality_trait", err)
	}
	return t, true, nil
}

// GetAllPersonalityTraits returns every trait, alphabetically by name.
func (b *Bank) GetAllPersonalityTraits(ctx context.Context) ([]PersonalityTrait, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows, err := b.db.QueryContext(ctx, `SELECT trait, value, history, updated_at FROM personality_traits ORDER BY trait ASC`)
	if err != nil {
		return nil, storageErr("get_all_personality_traits", err)
	}
	defer rows.Close()

	var out []PersonalityTrait
	for rows.Next() {
		var t PersonalityTrait
		var historyJSON string
		if err := rows.Scan(&t.Trait, &t.Value, &historyJSON, &t.UpdatedAt); err != nil {
			return nil, storageErr("get_all_personality_traits", err)
		}
		if err := json.Unmarshal([]byte(historyJSON), &t.History); err != nil {
			return nil, storageErr("get_all_personality_traits", err)
		}
		out = append(out, t)
	}
	return out, storageErr("get_all_personality_traits", rows.Err())
}
