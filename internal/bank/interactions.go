package bank

import (
	"context"
	"database/sql"
)

// Interaction is one round-trip user<->AI exchange.
type Interaction struct {
	ID             string
	UserInput      string
	AIResponse     string
	Mood           string
	SentimentScore float64 // in [-1, 1]
	Timestamp      float64 // seconds since epoch
	SessionID      string
	FeedbackScore  *float64 // in [0, 1], nil if not yet rated
	Source         string   // gui | matrix | cli | api
	SourceMeta     string
	Archived       bool
}

// SessionSummary is the per-session rollup returned by GetSessions.
type SessionSummary struct {
	SessionID      string
	Source         string
	FirstTimestamp float64
	LastTimestamp  float64
	MessageCount   int
	FirstMessage   string
	SourceMeta     string
}

// SaveInteraction persists one Interaction, generating an id if unset.
func (b *Bank) SaveInteraction(ctx context.Context, in Interaction) (string, error) {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.Timestamp == 0 {
		in.Timestamp = nowUnix()
	}
	err := b.withTx(ctx, "save_interaction", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interactions
				(id, user_input, ai_response, mood, sentiment_score, timestamp, session_id, feedback_score, source, source_meta, archived)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.ID, in.UserInput, in.AIResponse, in.Mood, in.SentimentScore, in.Timestamp,
			in.SessionID, in.FeedbackScore, in.Source, in.SourceMeta, boolToInt(in.Archived))
		return err
	})
	if err != nil {
		return "", err
	}
	return in.ID, nil
}

// GetInteractionHistory returns interactions newest-first, optionally
// filtered by session, source and archived state. limit <= 0 means no
// row limit.
func (b *Bank) GetInteractionHistory(ctx context.Context, limit int, sessionID, source string, archived *bool) ([]Interaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `SELECT id, user_input, ai_response, mood, sentiment_score, timestamp, session_id, feedback_score, source, source_meta, archived FROM interactions WHERE 1=1`
	var args []any
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	if archived != nil {
		query += " AND archived = ?"
		args = append(args, boolToInt(*archived))
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get_interaction_history", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var archivedInt int
		if err := rows.Scan(&in.ID, &in.UserInput, &in.AIResponse, &in.Mood, &in.SentimentScore,
			&in.Timestamp, &in.SessionID, &in.FeedbackScore, &in.Source, &in.SourceMeta, &archivedInt); err != nil {
			return nil, storageErr("get_interaction_history", err)
		}
		in.Archived = archivedInt != 0
		out = append(out, in)
	}
	return out, storageErr("get_interaction_history", rows.Err())
}

// UpdateInteractionFeedback sets the feedback_score for an interaction.
func (b *Bank) UpdateInteractionFeedback(ctx context.Context, id string, score float64) error {
	return b.withTx(ctx, "update_interaction_feedback", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE interactions SET feedback_score = ? WHERE id = ?`, score, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res)
	})
}

// GetSessions returns a per-session summary, most-recent-activity first.
func (b *Bank) GetSessions(ctx context.Context, source string, limit int, excludeArchived bool) ([]SessionSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `
		SELECT session_id,
		       MIN(source) as source,
		       MIN(timestamp) as first_ts,
		       MAX(timestamp) as last_ts,
		       COUNT(*) as cnt
		FROM interactions
		WHERE 1=1`
	var args []any
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	if excludeArchived {
		query += " AND archived = 0"
	}
	query += " GROUP BY session_id ORDER BY last_ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get_sessions", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Source, &s.FirstTimestamp, &s.LastTimestamp, &s.MessageCount); err != nil {
			return nil, storageErr("get_sessions", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get_sessions", err)
	}
	for i := range out {
		first, meta, err := b.firstMessageOf(ctx, out[i].SessionID)
		if err != nil {
			return nil, err
		}
		out[i].FirstMessage = first
		out[i].SourceMeta = meta
	}
	return out, nil
}

func (b *Bank) firstMessageOf(ctx context.Context, sessionID string) (string, string, error) {
	var userInput, meta string
	err := b.db.QueryRowContext(ctx, `
		SELECT user_input, source_meta FROM interactions
		WHERE session_id = ? ORDER BY timestamp ASC LIMIT 1`, sessionID).Scan(&userInput, &meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", storageErr("get_sessions", err)
	}
	return userInput, meta, nil
}

// GetArchivableSessions returns sessions where every interaction is
// older than ageSeconds and none are yet archived.
func (b *Bank) GetArchivableSessions(ctx context.Context, ageSeconds float64) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := nowUnix() - ageSeconds
	rows, err := b.db.QueryContext(ctx, `
		SELECT session_id
		FROM interactions
		GROUP BY session_id
		HAVING MAX(timestamp) < ? AND SUM(archived) = 0`, cutoff)
	if err != nil {
		return nil, storageErr("get_archivable_sessions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, storageErr("get_archivable_sessions", err)
		}
		out = append(out, s)
	}
	return out, storageErr("get_archivable_sessions", rows.Err())
}

// MarkInteractionsArchived flips archived=true for the given ids,
// returning the count actually changed (already-archived ids don't
// count twice).
func (b *Bank) MarkInteractionsArchived(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var flipped int
	err := b.withTx(ctx, "mark_interactions_archived", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE interactions SET archived = 1 WHERE id = ? AND archived = 0`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			flipped += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flipped, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
