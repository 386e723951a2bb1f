package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"voicebot-qa/logger"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite.
type SQLiteStore struct {
	*sqlStore
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    storage_key TEXT NOT NULL,
    name TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_storage_key ON analyses(storage_key)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_updated_at ON analyses(updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    storage_key TEXT NOT NULL,
    name TEXT NOT NULL,
    content TEXT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_storage_key ON templates(storage_key)`,
	},
	upsertAnalysis: `INSERT INTO analyses (id, storage_key, name, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    state = excluded.state,
    updated_at = excluded.updated_at`,
}

// NewSQLiteStore opens a SQLite database and initializes the schema.
func NewSQLiteStore(dbPath string, log logger.Logger) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s, err := newSQLStore(db, sqliteDialect, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store.sqlite.opened", logger.String("path", dbPath))
	return &SQLiteStore{s}, nil
}
