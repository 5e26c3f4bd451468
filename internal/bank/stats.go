package bank

import "context"

// Stats is the aggregate view returned by GetStats, backing the
// /api/intelligence roll-up.
type Stats struct {
	TotalInteractions  int64
	ArchivedCount      int64
	SessionCount       int64
	AvgSentiment       float64
	ActiveRuleCount    int64
	TotalCorrections   int64
	TotalPreferences   int64
	TopContextsByAccess []Context
}

// GetStats aggregates counts, average sentiment, and top contexts by
// access_count across the whole store.
func (b *Bank) GetStats(ctx context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var s Stats
	row := b.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(archived),0), COALESCE(AVG(sentiment_score),0), COUNT(DISTINCT session_id) FROM interactions`)
	if err := row.Scan(&s.TotalInteractions, &s.ArchivedCount, &s.AvgSentiment, &s.SessionCount); err != nil {
		return Stats{}, storageErr("get_stats", err)
	}

	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM behavior_rules WHERE active = 1`).Scan(&s.ActiveRuleCount); err != nil {
		return Stats{}, storageErr("get_stats", err)
	}
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections`).Scan(&s.TotalCorrections); err != nil {
		return Stats{}, storageErr("get_stats", err)
	}
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preferences`).Scan(&s.TotalPreferences); err != nil {
		return Stats{}, storageErr("get_stats", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT key, value, domain, confidence, created_at, updated_at, access_count
		FROM contexts ORDER BY access_count DESC LIMIT 10`)
	if err != nil {
		return Stats{}, storageErr("get_stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Context
		if err := rows.Scan(&c.Key, &c.Value, &c.Domain, &c.Confidence, &c.CreatedAt, &c.UpdatedAt, &c.AccessCount); err != nil {
			return Stats{}, storageErr("get_stats", err)
		}
		s.TopContextsByAccess = append(s.TopContextsByAccess, c)
	}
	return s, storageErr("get_stats", rows.Err())
}
