package databases

import (
	"context"
	"fmt"

	"kait/internal/config"
)

// NewManager constructs the Reasoning Bank's semantic index backends from
// configuration. Search (full-text) and Graph (insight linking) are
// always memory-backed; Vector similarity search is the pluggable part:
// "memory" (default), "postgres" (pgvector), "qdrant", or "none".
func NewManager(ctx context.Context, cfg config.SemanticIndexConfig) (Manager, error) {
	m := Manager{
		Search: NewMemorySearch(),
		Graph:  NewMemoryGraph(),
	}

	switch cfg.Backend {
	case "", "memory":
		m.Vector = NewMemoryVector()
	case "postgres", "pgvector", "pg":
		if cfg.DSN == "" {
			return Manager{}, fmt.Errorf("semantic index backend %q requires a dsn", cfg.Backend)
		}
		pool, err := OpenPool(ctx, cfg.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres vector store: %w", err)
		}
		m.Vector = NewPostgresVector(pool, cfg.Dimensions, cfg.Metric)
	case "qdrant":
		if cfg.DSN == "" {
			return Manager{}, fmt.Errorf("semantic index backend qdrant requires a dsn")
		}
		v, err := NewQdrantVector(cfg.DSN, cfg.Collection, cfg.Dimensions, cfg.Metric)
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant vector store: %w", err)
		}
		m.Vector = v
	case "none", "disabled":
		m.Vector = noopVector{}
	default:
		return Manager{}, fmt.Errorf("unsupported semantic index backend: %s", cfg.Backend)
	}
	return m, nil
}

type noopVector struct{}

func (noopVector) Upsert(context.Context, string, []float32, map[string]string) error { return nil }
func (noopVector) Delete(context.Context, string) error                               { return nil }
func (noopVector) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]VectorResult, error) {
	return nil, nil
}
