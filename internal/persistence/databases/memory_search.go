package databases

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memorySearch is an in-memory full-text index over Reasoning Bank
// Context values (Context.key -> Context.value), the default FTS
// backend for the semantic index (SemanticIndexConfig.Backend ==
// "memory" or unset).
type memorySearch struct {
	mu   sync.RWMutex
	docs map[string]indexedContext
}

type indexedContext struct {
	text     string
	metadata map[string]string
}

// NewMemorySearch constructs the default, always-available FullTextSearch.
func NewMemorySearch() FullTextSearch { return &memorySearch{docs: make(map[string]indexedContext)} }

func (m *memorySearch) Index(_ context.Context, id string, text string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = indexedContext{text: text, metadata: copyMap(metadata)}
	return nil
}

func (m *memorySearch) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// Search scores documents by raw term-frequency against query, a
// deliberately simple ranking since the Reasoning Bank's own SQL
// prefix/domain queries (SearchContexts) already cover exact lookups;
// this index exists for the fuzzier "find related context" case a
// pluggable Vector/Search backend is meant to serve.
func (m *memorySearch) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	results := make([]SearchResult, 0, limit)
	for id, d := range m.docs {
		score := termScore(strings.ToLower(d.text), terms)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			ID:       id,
			Score:    score,
			Snippet:  snippet(d.text, 120),
			Metadata: copyMap(d.metadata),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func termScore(lowerText string, terms []string) float64 {
	score := 0.0
	for _, t := range terms {
		if t == "" {
			continue
		}
		if c := strings.Count(lowerText, t); c > 0 {
			score += float64(c)
		}
	}
	return score
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
