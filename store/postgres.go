package store

import (
	"context"
	"fmt"
	"time"

	"voicebot-qa/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL through the pgx driver.
type PostgresStore struct {
	*sqlStore
}

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS analyses (
    id          VARCHAR(255) PRIMARY KEY,
    storage_key VARCHAR(255) NOT NULL,
    name        VARCHAR(255) NOT NULL,
    state       JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_storage_key ON analyses(storage_key)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_updated_at ON analyses(updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS templates (
    id          VARCHAR(255) PRIMARY KEY,
    storage_key VARCHAR(255) NOT NULL,
    name        VARCHAR(255) NOT NULL,
    content     TEXT         NOT NULL,
    is_default  BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_storage_key ON templates(storage_key)`,
	},
	upsertAnalysis: `INSERT INTO analyses (id, storage_key, name, state, created_at, updated_at)
VALUES (?, ?, ?, ?::jsonb, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    state = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at`,
}

// NewPostgresStore connects to PostgreSQL using a pgx connection string
// (URL or key=value form) and initializes the schema.
func NewPostgresStore(dsn string, log logger.Logger) (*PostgresStore, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	db := stdlib.OpenDB(*cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := newSQLStore(db, postgresDialect, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store.postgres.opened", logger.String("host", cfg.Host), logger.String("db", cfg.Database))
	return &PostgresStore{s}, nil
}
