package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"voicebot-qa/logger"
)

// dialect captures the SQL differences between backends.
type dialect struct {
	name           string
	schema         []string
	upsertAnalysis string
	numbered       bool // $1 placeholders instead of ?
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db      *sql.DB
	log     logger.Logger
	dialect dialect
}

func newSQLStore(db *sql.DB, d dialect, log logger.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, log: log, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			if isDuplicateIndexError(err) {
				continue
			}
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

func isDuplicateIndexError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key name") || strings.Contains(msg, "already exists")
}

// q rewrites ? placeholders for dialects that number them.
func (s *sqlStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ---------- Analyses ----------

func (s *sqlStore) SaveAnalysis(ctx context.Context, a *Analysis) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, s.q(s.dialect.upsertAnalysis),
		a.ID, a.StorageKey, a.Name, string(a.State), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}

	row := s.db.QueryRowContext(ctx, s.q(`SELECT created_at FROM analyses WHERE id = ?`), a.ID)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return fmt.Errorf("read analysis created_at: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = ts
	return nil
}

func (s *sqlStore) GetAnalysis(ctx context.Context, storageKey, id string) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, storage_key, name, state, created_at, updated_at
		 FROM analyses WHERE id = ? AND storage_key = ?`), id, storageKey)

	var a Analysis
	var state []byte
	err := row.Scan(&a.ID, &a.StorageKey, &a.Name, &state, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	a.State = json.RawMessage(state)
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return &a, nil
}

func (s *sqlStore) ListAnalyses(ctx context.Context, storageKey string) ([]*AnalysisSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, name, state, created_at, updated_at
		 FROM analyses WHERE storage_key = ?
		 ORDER BY updated_at DESC, id ASC`), storageKey)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := []*AnalysisSummary{}
	for rows.Next() {
		var sum AnalysisSummary
		var state []byte
		if err := rows.Scan(&sum.ID, &sum.Name, &state, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		sum.CreatedAt, sum.UpdatedAt = sum.CreatedAt.UTC(), sum.UpdatedAt.UTC()
		sum.Stats = ComputeStats(state)
		out = append(out, &sum)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteAnalysis(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM analyses WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	return nil
}

// ---------- Templates ----------

func (s *sqlStore) CreateTemplate(ctx context.Context, t *Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO templates (id, storage_key, name, content, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		t.ID, t.StorageKey, t.Name, t.Content, t.IsDefault, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *sqlStore) GetTemplate(ctx context.Context, storageKey, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, storage_key, name, content, is_default, created_at
		 FROM templates WHERE id = ? AND storage_key = ?`), id, storageKey)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *sqlStore) ListTemplates(ctx context.Context, storageKey string) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, storage_key, name, content, is_default, created_at
		 FROM templates WHERE storage_key = ?
		 ORDER BY created_at DESC, id ASC`), storageKey)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []*Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateTemplate(ctx context.Context, t *Template) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE templates SET name = ?, content = ? WHERE id = ? AND storage_key = ?`),
		t.Name, t.Content, t.ID, t.StorageKey,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero rows when values are unchanged.
		existing, getErr := s.GetTemplate(ctx, t.StorageKey, t.ID)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return ErrNotFound
		}
	}
	return nil
}

func (s *sqlStore) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM templates WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// SetDefaultTemplate clears every default for storageKey and marks id as the
// default, atomically.
func (s *sqlStore) SetDefaultTemplate(ctx context.Context, storageKey, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM templates WHERE id = ? AND storage_key = ?`), id, storageKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup template: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE templates SET is_default = ? WHERE storage_key = ?`), false, storageKey); err != nil {
		return fmt.Errorf("clear defaults: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE templates SET is_default = ? WHERE id = ? AND storage_key = ?`), true, id, storageKey); err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	s.log.Info("store." + s.dialect.name + ".closing")
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTemplate(row scannable) (*Template, error) {
	var t Template
	if err := row.Scan(&t.ID, &t.StorageKey, &t.Name, &t.Content, &t.IsDefault, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
