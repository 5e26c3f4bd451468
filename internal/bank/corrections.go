package bank

import (
	"context"
	"database/sql"
)

// Correction records a user-issued "/correct" directive.
type Correction struct {
	ID               string
	OriginalResponse string
	CorrectionText   string
	Reason           string
	Domain           string
	LearnedAt        float64
	AppliedCount     int
}

// RecordCorrection persists a new Correction, generating an id if unset.
func (b *Bank) RecordCorrection(ctx context.Context, c Correction) (string, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.LearnedAt == 0 {
		c.LearnedAt = nowUnix()
	}
	err := b.withTx(ctx, "record_correction", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (id, original_response, correction, reason, domain, learned_at, applied_count)
			VALUES (?, ?, ?, ?, ?, ?, 0)`,
			c.ID, c.OriginalResponse, c.CorrectionText, c.Reason, c.Domain, c.LearnedAt)
		return err
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// GetRecentCorrections returns the most recently learned corrections.
func (b *Bank) GetRecentCorrections(ctx context.Context, limit int) ([]Correction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `SELECT id, original_response, correction, reason, domain, learned_at, applied_count
	          FROM corrections ORDER BY learned_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get_recent_corrections", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.OriginalResponse, &c.CorrectionText, &c.Reason, &c.Domain, &c.LearnedAt, &c.AppliedCount); err != nil {
			return nil, storageErr("get_recent_corrections", err)
		}
		out = append(out, c)
	}
	return out, storageErr("get_recent_corrections", rows.Err())
}

// IncrementCorrectionApplied bumps applied_count when a correction
// influences a later prompt injection.
func (b *Bank) IncrementCorrectionApplied(ctx context.Context, id string) error {
	return b.withTx(ctx, "increment_correction_applied", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE corrections SET applied_count = applied_count + 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
}
