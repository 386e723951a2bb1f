package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"voicebot-qa/logger"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig holds connection settings for the MySQL store.
type MySQLConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// MySQLStore implements Store using MySQL.
type MySQLStore struct {
	*sqlStore
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS analyses (
    id VARCHAR(255) PRIMARY KEY,
    storage_key VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    state LONGTEXT NOT NULL,
    created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE INDEX idx_analyses_storage_key ON analyses(storage_key)`,
		`CREATE INDEX idx_analyses_updated_at ON analyses(updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS templates (
    id VARCHAR(255) PRIMARY KEY,
    storage_key VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    content LONGTEXT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE INDEX idx_templates_storage_key ON templates(storage_key)`,
	},
	upsertAnalysis: `INSERT INTO analyses (id, storage_key, name, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name = VALUES(name),
    state = VALUES(state),
    updated_at = VALUES(updated_at)`,
}

// NewMySQLStore opens a MySQL database and initializes the schema.
// parseTime is forced on so DATETIME columns scan into time.Time.
func NewMySQLStore(cfg MySQLConfig, log logger.Logger) (*MySQLStore, error) {
	mcfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC

	db, err := sql.Open("mysql", mcfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s, err := newSQLStore(db, mysqlDialect, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store.mysql.opened", logger.String("addr", mcfg.Addr), logger.String("db", mcfg.DBName))
	return &MySQLStore{s}, nil
}
