package bank

import (
	"context"
	"database/sql"
	"encoding/json"
)

// Archive is an immutable batch record produced by the archive worker
// from a set of stale sessions.
type Archive struct {
	ID                string
	BatchLabel        string // calendar date, e.g. "2026-07-29"
	SessionIDs        []string
	InteractionIDs    []string
	Summary           string
	ExtractedMemories []string
	MoodSummary       string
	AvgSentiment      float64
	MindSyncStatus    string
	CreatedAt         float64
}

// SaveArchive persists an Archive record. Archives are immutable once
// written: there is no update path, only save/get.
func (b *Bank) SaveArchive(ctx context.Context, a Archive) (string, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = nowUnix()
	}
	sessionIDs, err := json.Marshal(a.SessionIDs)
	if err != nil {
		return "", err
	}
	interactionIDs, err := json.Marshal(a.InteractionIDs)
	if err != nil {
		return "", err
	}
	memories, err := json.Marshal(a.ExtractedMemories)
	if err != nil {
		return "", err
	}
	err = b.withTx(ctx, "save_archive", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO archives (id, batch_label, session_ids, interaction_ids, summary, extracted_memories, mood_summary, avg_sentiment, mind_sync_status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.BatchLabel, string(sessionIDs), string(interactionIDs), a.Summary, string(memories),
			a.MoodSummary, a.AvgSentiment, a.MindSyncStatus, a.CreatedAt)
		return err
	})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// GetArchives returns the most recent archives, newest first.
func (b *Bank) GetArchives(ctx context.Context, limit int) ([]Archive, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	query := `SELECT id, batch_label, session_ids, interaction_ids, summary, extracted_memories, mood_summary, avg_sentiment, mind_sync_status, created_at
	          FROM archives ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get_archives", err)
	}
	defer rows.Close()
	return scanArchives(rows)
}

// GetArchive returns one archive by id.
func (b *Bank) GetArchive(ctx context.Context, id string) (Archive, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, batch_label, session_ids, interaction_ids, summary, extracted_memories, mood_summary, avg_sentiment, mind_sync_status, created_at
		FROM archives WHERE id = ?`, id)
	if err != nil {
		return Archive{}, false, storageErr("get_archive", err)
	}
	defer rows.Close()
	out, err := scanArchives(rows)
	if err != nil {
		return Archive{}, false, err
	}
	if len(out) == 0 {
		return Archive{}, false, nil
	}
	return out[0], true, nil
}

// GetArchiveInteractions returns the original Interactions belonging
// to a given archive.
func (b *Bank) GetArchiveInteractions(ctx context.Context, id string) ([]Interaction, error) {
	archive, ok, err := b.GetArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok || len(archive.InteractionIDs) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	placeholders := make([]byte, 0, len(archive.InteractionIDs)*2)
	args := make([]any, 0, len(archive.InteractionIDs))
	for i, id := range archive.InteractionIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	query := `SELECT id, user_input, ai_response, mood, sentiment_score, timestamp, session_id, feedback_score, source, source_meta, archived
	          FROM interactions WHERE id IN (` + string(placeholders) + `) ORDER BY timestamp ASC`
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get_archive_interactions", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var archivedInt int
		if err := rows.Scan(&in.ID, &in.UserInput, &in.AIResponse, &in.Mood, &in.SentimentScore,
			&in.Timestamp, &in.SessionID, &in.FeedbackScore, &in.Source, &in.SourceMeta, &archivedInt); err != nil {
			return nil, storageErr("get_archive_interactions", err)
		}
		in.Archived = archivedInt != 0
		out = append(out, in)
	}
	return out, storageErr("get_archive_interactions", rows.Err())
}

func scanArchives(rows *sql.Rows) ([]Archive, error) {
	var out []Archive
	for rows.Next() {
		var a Archive
		var sessionIDs, interactionIDs, memories string
		if err := rows.Scan(&a.ID, &a.BatchLabel, &sessionIDs, &interactionIDs, &a.Summary, &memories,
			&a.MoodSummary, &a.AvgSentiment, &a.MindSyncStatus, &a.CreatedAt); err != nil {
			return nil, storageErr("scan_archives", err)
		}
		_ = json.Unmarshal([]byte(sessionIDs), &a.SessionIDs)
		_ = json.Unmarshal([]byte(interactionIDs), &a.InteractionIDs)
		_ = json.Unmarshal([]byte(memories), &a.ExtractedMemories)
		out = append(out, a)
	}
	return out, storageErr("scan_archives", rows.Err())
}
