// Package bank implements the Reasoning Bank: Kait's single source of
// truth for interactions, contexts, corrections, evolution events,
// preferences, personality traits, behavior rules and archives.
//
// The backing store is SQLite (mattn/go-sqlite3), matching the on-disk
// layout's sidekick.db. Every entity key is serialised through a
// sync.RWMutex: writes take the write lock (single-writer discipline),
// reads take the read lock (readers never block each other). Readers
// observe either a fully-committed write or none of it; a transaction
// that fails is rolled back before the lock is released.
package bank

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"kait/internal/config"
	"kait/internal/errs"
	"kait/internal/persistence/databases"
)

// EmbedFunc produces an embedding vector for text, used to keep the
// optional Vector index's Contexts in sync with the Gateway's local
// embedding model. Set via SetEmbedder; nil disables vector indexing
// even when idx.Vector is configured.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// Bank is the Reasoning Bank. Exactly one instance exists per process
// (spec §3 Invariants); construction is one-shot via New.
type Bank struct {
	db    *sql.DB
	mu    sync.RWMutex
	idx   *databases.Manager // optional semantic index over Contexts; may be nil
	embed EmbedFunc
}

// SetEmbedder wires the Gateway's embedding call into the Bank so
// Contexts are upserted into the optional Vector store alongside the
// full-text index. Safe to call once after New; nil is a no-op.
func (b *Bank) SetEmbedder(fn EmbedFunc) {
	if fn != nil {
		b.embed = fn
	}
}

// New opens (creating if absent) the SQLite store at cfg.DBPath and
// applies the schema. idx is the optional semantic index (Contexts get
// indexed into it on save/update); pass nil to disable.
func New(cfg config.ReasoningBankConfig, idx *databases.Manager) (*Bank, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: reasoning bank db_path is empty", errs.ErrStorage)
	}
	// A single physical connection avoids SQLITE_BUSY from concurrent
	// writers; the RWMutex above already serialises writes at the Go
	// level, so this just keeps the driver's pool in sync with that.
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open sidekick.db: %v", errs.ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	b := &Bank{db: db, idx: idx}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate sidekick.db: %v", errs.ErrStorage, err)
	}
	log.Info().Str("path", cfg.DBPath).Msg("reasoning_bank_opened")
	return b, nil
}

// Close releases the underlying database handle.
func (b *Bank) Close() error {
	return b.db.Close()
}

func (b *Bank) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	user_input TEXT NOT NULL,
	ai_response TEXT NOT NULL,
	mood TEXT,
	sentiment_score REAL NOT NULL DEFAULT 0,
	timestamp REAL NOT NULL,
	session_id TEXT NOT NULL,
	feedback_score REAL,
	source TEXT NOT NULL,
	source_meta TEXT,
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);
CREATE INDEX IF NOT EXISTS idx_interactions_source ON interactions(source);
CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);

CREATE TABLE IF NOT EXISTS contexts (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	domain TEXT,
	confidence REAL NOT NULL DEFAULT 1,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_contexts_domain ON contexts(domain);

CREATE TABLE IF NOT EXISTS corrections (
	id TEXT PRIMARY KEY,
	original_response TEXT,
	correction TEXT NOT NULL,
	reason TEXT,
	domain TEXT,
	learned_at REAL NOT NULL,
	applied_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS evolution_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT,
	metrics_before TEXT,
	metrics_after TEXT,
	timestamp REAL NOT NULL,
	rolled_back INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_evolution_type ON evolution_events(type);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	last_updated REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS personality_traits (
	trait TEXT PRIMARY KEY,
	value REAL NOT NULL,
	history TEXT NOT NULL,
	updated_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS behavior_rules (
	id TEXT PRIMARY KEY,
	trigger_text TEXT NOT NULL,
	action TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	source TEXT,
	created_at REAL NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS archives (
	id TEXT PRIMARY KEY,
	batch_label TEXT NOT NULL,
	session_ids TEXT NOT NULL,
	interaction_ids TEXT NOT NULL,
	summary TEXT,
	extracted_memories TEXT,
	mood_summary TEXT,
	avg_sentiment REAL,
	mind_sync_status TEXT,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS evolution_stage (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	stage INTEGER NOT NULL DEFAULT 1
);
INSERT OR IGNORE INTO evolution_stage (id, stage) VALUES (1, 1);
`
	_, err := b.db.Exec(schema)
	return err
}

// newID generates a 16-hex-char entity id, matching the Python
// uuid4().hex[:16] convention the on-disk format grew up with.
func newID() string {
	return uuid.New().String()[:8] + uuid.New().String()[:8]
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// storageErr wraps a driver error as errs.ErrStorage, per §7: storage
// failures are surfaced to the caller unchanged, never retried locally.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrStorage, err)
}

// withTx runs fn inside a transaction taken under the write lock,
// committing on success and rolling back on any error or panic.
func (b *Bank) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}
