package databases

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool opens a Postgres connection pool for the optional semantic
// index's "postgres" vector backend (SemanticIndexConfig.Backend ==
// "postgres"), exposed standalone for callers that want to share one
// pool across the vector store and other Postgres-backed state.
// NewManager routes through this for its own "postgres" backend.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pgCfg.MaxConns = 8
	pgCfg.MinConns = 0
	pgCfg.MaxConnLifetime = time.Hour
	pgCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
