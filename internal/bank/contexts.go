package bank

import (
	"context"
	"database/sql"
	"strings"
)

// Context is a piece of structured, JSON-serialisable knowledge keyed
// by a unique string, with a confidence and an access counter that
// bumps on every read.
type Context struct {
	Key         string
	Value       string // JSON-encoded
	Domain      string
	Confidence  float64
	CreatedAt   float64
	UpdatedAt   float64
	AccessCount int64
}

// SaveContext writes a Context keyed on Key: it creates the row if
// absent and otherwise overwrites value/domain/confidence/updated_at,
// leaving created_at and access_count as they were.
func (b *Bank) SaveContext(ctx context.Context, c Context) error {
	now := nowUnix()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}
	err := b.withTx(ctx, "save_context", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contexts (key, value, domain, confidence, created_at, updated_at, access_count)
			VALUES (?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value, domain = excluded.domain,
				confidence = excluded.confidence, updated_at = excluded.updated_at`,
			c.Key, c.Value, c.Domain, c.Confidence, c.CreatedAt, c.UpdatedAt)
		return err
	})
	if err != nil {
		return err
	}
	b.indexContext(ctx, c)
	return nil
}

// UpdateContext upserts keyed on Key: creates if absent, otherwise
// overwrites value/domain/confidence and bumps updated_at.
func (b *Bank) UpdateContext(ctx context.Context, c Context) error {
	return b.SaveContext(ctx, c)
}

// GetContext reads a Context and atomically bumps its access_count in
// the same transaction — the read and the counter increment are one
// atomic step, satisfying the Context Counter testable property.
func (b *Bank) GetContext(ctx context.Context, key string) (Context, bool, error) {
	var out Context
	var found bool
	err := b.withTx(ctx, "get_context", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT key, value, domain, confidence, created_at, updated_at, access_count
			FROM contexts WHERE key = ?`, key)
		err := row.Scan(&out.Key, &out.Value, &out.Domain, &out.Confidence, &out.CreatedAt, &out.UpdatedAt, &out.AccessCount)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		out.AccessCount++
		_, err = tx.ExecContext(ctx, `UPDATE contexts SET access_count = access_count + 1 WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return Context{}, false, err
	}
	return out, found, nil
}

// SearchContexts returns contexts whose key starts with keyPrefix,
// optionally filtered to a domain. Does not bump access_count (that's
// reserved for direct GetContext reads).
func (b *Bank) SearchContexts(ctx context.Context, keyPrefix, domain string) ([]Context, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `SELECT key, value, domain, confidence, created_at, updated_at, access_count FROM contexts WHERE key LIKE ? ESCAPE '\'`
	args := []any{escapeLike(keyPrefix) + "%"}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY key ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("search_contexts", err)
	}
	defer rows.Close()

	var out []Context
	for rows.Next() {
		var c Context
		if err := rows.Scan(&c.Key, &c.Value, &c.Domain, &c.Confidence, &c.CreatedAt, &c.UpdatedAt, &c.AccessCount); err != nil {
			return nil, storageErr("search_contexts", err)
		}
		out = append(out, c)
	}
	return out, storageErr("search_contexts", rows.Err())
}

// DeleteContext removes a Context explicitly (the only entity the
// Reasoning Bank hard-deletes).
func (b *Bank) DeleteContext(ctx context.Context, key string) error {
	err := b.withTx(ctx, "delete_context", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM contexts WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return err
	}
	if b.idx != nil {
		if b.idx.Search != nil {
			_ = b.idx.Search.Remove(ctx, key)
		}
		if b.idx.Vector != nil {
			_ = b.idx.Vector.Delete(ctx, key)
		}
	}
	return nil
}

// indexContext mirrors a saved Context into the optional semantic
// index (full-text search, the vector side when an embedder is wired,
// and a domain->context edge in the graph side) so Reflection's topic
// clustering can recall it later via RecallSimilarContexts and
// RelatedContextKeys. Best-effort: a semantic index failure never
// fails the durable write.
func (b *Bank) indexContext(ctx context.Context, c Context) {
	if b.idx == nil {
		return
	}
	meta := map[string]string{"domain": c.Domain}
	if b.idx.Search != nil {
		if err := b.idx.Search.Index(ctx, c.Key, c.Value, meta); err != nil {
			_ = err
		}
	}
	if b.idx.Vector != nil && b.embed != nil {
		vec, err := b.embed(ctx, c.Value)
		if err == nil {
			if err := b.idx.Vector.Upsert(ctx, c.Key, toFloat32(vec), meta); err != nil {
				_ = err
			}
		}
	}
	if b.idx.Graph != nil {
		domainNode := "domain:" + c.Domain
		_ = b.idx.Graph.UpsertNode(ctx, domainNode, []string{"domain"}, map[string]any{"domain": c.Domain})
		_ = b.idx.Graph.UpsertNode(ctx, c.Key, []string{"context"}, map[string]any{"domain": c.Domain})
		_ = b.idx.Graph.UpsertEdge(ctx, domainNode, "has_context", c.Key, nil)
	}
}

// RecallSimilarContexts finds Contexts related to a free-text query via
// the optional semantic index: vector similarity search when an
// embedder is configured, falling back to full-text search otherwise.
// Returns (nil, nil) when no semantic index is configured. Used by the
// Reflection Pipeline's insight-extraction step to surface prior
// Contexts a topic relates to (spec §4.6 "topic clustering").
func (b *Bank) RecallSimilarContexts(ctx context.Context, domain, query string, k int) ([]Context, error) {
	if b.idx == nil || query == "" || k <= 0 {
		return nil, nil
	}

	var ids []string
	if b.idx.Vector != nil && b.embed != nil {
		if vec, err := b.embed(ctx, query); err == nil {
			filter := map[string]string{}
			if domain != "" {
				filter["domain"] = domain
			}
			if results, err := b.idx.Vector.SimilaritySearch(ctx, toFloat32(vec), k, filter); err == nil {
				for _, r := range results {
					ids = append(ids, r.ID)
				}
			}
		}
	}
	if len(ids) == 0 && b.idx.Search != nil {
		results, err := b.idx.Search.Search(ctx, query, k)
		if err != nil {
			return nil, storageErr("recall_similar_contexts", err)
		}
		for _, r := range results {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Context, 0, len(ids))
	for _, id := range ids {
		var c Context
		row := b.db.QueryRowContext(ctx, `
			SELECT key, value, domain, confidence, created_at, updated_at, access_count
			FROM contexts WHERE key = ?`, id)
		if err := row.Scan(&c.Key, &c.Value, &c.Domain, &c.Confidence, &c.CreatedAt, &c.UpdatedAt, &c.AccessCount); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// DomainKnown reports whether the semantic index's graph backend has
// ever recorded a node for domain, i.e. some Context was saved under
// it. Used to skip a RelatedContextKeys lookup for domains the index
// has never seen.
func (b *Bank) DomainKnown(ctx context.Context, domain string) bool {
	if b.idx == nil || b.idx.Graph == nil || domain == "" {
		return false
	}
	_, ok := b.idx.Graph.GetNode(ctx, "domain:"+domain)
	return ok
}

// RelatedContextKeys returns the Context keys linked to domain via the
// optional semantic index's graph backend (the domain->context edges
// indexContext writes on every save). Returns (nil, nil) when no graph
// backend is configured. Used by the Reflection Pipeline's
// correction-category insight to see what's already on record for a
// domain before proposing a "double-check" rule for it.
func (b *Bank) RelatedContextKeys(ctx context.Context, domain string) ([]string, error) {
	if b.idx == nil || b.idx.Graph == nil || domain == "" {
		return nil, nil
	}
	keys, err := b.idx.Graph.Neighbors(ctx, "domain:"+domain, "has_context")
	if err != nil {
		return nil, storageErr("related_context_keys", err)
	}
	return keys, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
