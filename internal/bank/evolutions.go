package bank

import (
	"context"
	"database/sql"
)

// EvolutionEvent is an append-only audit record of a stage transition
// or an applied behaviour evolution.
type EvolutionEvent struct {
	ID            string
	Type          string
	Description   string
	MetricsBefore string // JSON-encoded
	MetricsAfter  string // JSON-encoded
	Timestamp     float64
	RolledBack    bool
}

// SaveEvolution appends an EvolutionEvent, generating an id if unset.
func (b *Bank) SaveEvolution(ctx context.Context, e EvolutionEvent) (string, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = nowUnix()
	}
	err := b.withTx(ctx, "save_evolution", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evolution_events (id, type, description, metrics_before, metrics_after, timestamp, rolled_back)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Type, e.Description, e.MetricsBefore, e.MetricsAfter, e.Timestamp, boolToInt(e.RolledBack))
		return err
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// MarkEvolutionRolledBack flags a previously-applied evolution
// proposal as rolled back (the pipeline's rollback support, §4.6 step 4).
func (b *Bank) MarkEvolutionRolledBack(ctx context.Context, id string) error {
	return b.withTx(ctx, "mark_evolution_rolled_back", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE evolution_events SET rolled_back = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
}

// GetEvolutionTimeline returns the most recent EvolutionEvents, newest first.
func (b *Bank) GetEvolutionTimeline(ctx context.Context, limit int) ([]EvolutionEvent, error) {
	return b.queryEvolutions(ctx, "get_evolution_timeline", `
		SELECT id, type, description, metrics_before, metrics_after, timestamp, rolled_back
		FROM evolution_events ORDER BY timestamp DESC`, limit, nil)
}

// GetEvolutionsByType filters the timeline to one event type.
func (b *Bank) GetEvolutionsByType(ctx context.Context, eventType string) ([]EvolutionEvent, error) {
	return b.queryEvolutions(ctx, "get_evolutions_by_type", `
		SELECT id, type, description, metrics_before, metrics_after, timestamp, rolled_back
		FROM evolution_events WHERE type = ? ORDER BY timestamp DESC`, 0, []any{eventType})
}

func (b *Bank) queryEvolutions(ctx context.Context, op, query string, limit int, args []any) ([]EvolutionEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []EvolutionEvent
	for rows.Next() {
		var e EvolutionEvent
		var rolledBack int
		if err := rows.Scan(&e.ID, &e.Type, &e.Description, &e.MetricsBefore, &e.MetricsAfter, &e.Timestamp, &rolledBack); err != nil {
			return nil, storageErr(op, err)
		}
		e.RolledBack = rolledBack != 0
		out = append(out, e)
	}
	return out, storageErr(op, rows.Err())
}

// CurrentStage returns the Evolution Engine's current stage (1-10).
func (b *Bank) CurrentStage(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var stage int
	err := b.db.QueryRowContext(ctx, `SELECT stage FROM evolution_stage WHERE id = 1`).Scan(&stage)
	if err != nil {
		return 0, storageErr("current_stage", err)
	}
	return stage, nil
}

// AdvanceStage sets the stage to newStage if newStage is strictly
// greater than the current stage (stage monotonicity, spec §3
// Invariants and testable property 5). Returns false if no advance
// occurred.
func (b *Bank) AdvanceStage(ctx context.Context, newStage int) (bool, error) {
	var advanced bool
	err := b.withTx(ctx, "advance_stage", func(tx *sql.Tx) error {
		var current int
		if err := tx.QueryRowContext(ctx, `SELECT stage FROM evolution_stage WHERE id = 1`).Scan(&current); err != nil {
			return err
		}
		if newStage <= current {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE evolution_stage SET stage = ? WHERE id = 1`, newStage); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return advanced, nil
}
