package bank

import (
	"context"
	"database/sql"
)

// Preference is a learned user preference, reinforced over time.
type Preference struct {
	Key         string
	Value       string // JSON-encoded
	Confidence  float64
	LastUpdated float64
}

// reinforceGain is how much confidence increases when a repeated
// agreement reinforces an existing preference value.
const reinforceGain = 0.1

// conflictDamp is the confidence penalty applied when a new value
// conflicts with (replaces) the previously stored one.
const conflictDamp = 0.3

// SavePreference upserts a Preference keyed on Key, reinforcing
// confidence when the incoming value matches what's stored, or
// dampening it when the value changes (spec §3 data model).
func (b *Bank) SavePreference(ctx context.Context, p Preference) error {
	if p.LastUpdated == 0 {
		p.LastUpdated = nowUnix()
	}
	return b.withTx(ctx, "save_preference", func(tx *sql.Tx) error {
		var existingValue string
		var existingConfidence float64
		err := tx.QueryRowContext(ctx, `SELECT value, confidence FROM preferences WHERE key = ?`, p.Key).
			Scan(&existingValue, &existingConfidence)
		switch err {
		case sql.ErrNoRows:
			if p.Confidence == 0 {
				p.Confidence = 0.5
			}
		case nil:
			if existingValue == p.Value {
				p.Confidence = clamp01(existingConfidence + reinforceGain)
			} else {
				p.Confidence = clamp01(existingConfidence - conflictDamp)
			}
		default:
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO preferences (key, value, confidence, last_updated)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, confidence = excluded.confidence, last_updated = excluded.last_updated`,
			p.Key, p.Value, p.Confidence, p.LastUpdated)
		return err
	})
}

// GetPreference reads a single preference by key.
func (b *Bank) GetPreference(ctx context.Context, key string) (Preference, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var p Preference
	p.Key = key
	err := b.db.QueryRowContext(ctx, `SELECT value, confidence, last_updated FROM preferences WHERE key = ?`, key).
		Scan(&p.Value, &p.Confidence, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return Preference{}, false, nil
	}
	if err != nil {
		return Preference{}, false, storageErr("get_preference", err)
	}
	return p, true, nil
}

// GetAllPreferences returns every Preference, confidence descending.
func (b *Bank) GetAllPreferences(ctx context.Context) ([]Preference, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows, err := b.db.QueryContext(ctx, `SELECT key, value, confidence, last_updated FROM preferences ORDER BY confidence DESC`)
	if err != nil {
		return nil, storageErr("get_all_preferences", err)
	}
	defer rows.Close()

	var out []Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.Key, &p.Value, &p.Confidence, &p.LastUpdated); err != nil {
			return nil, storageErr("get_all_preferences", err)
		}
		out = append(out, p)
	}
	return out, storageErr("get_all_preferences", rows.Err())
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
