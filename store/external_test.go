package store

import (
	"context"
	"os"
	"testing"

	"voicebot-qa/logger"
)

// External database backends run the shared contract only when a DSN is
// provided, e.g. QA_TEST_POSTGRES_DSN=postgres://qa:qa@localhost:5432/qa.

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("QA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QA_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStore(dsn, logger.Nop())
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	truncate(t, s.sqlStore)
	runStoreContract(t, s)
}

func TestMySQLStore_Contract(t *testing.T) {
	dsn := os.Getenv("QA_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("QA_TEST_MYSQL_DSN not set")
	}
	s, err := NewMySQLStore(MySQLConfig{DSN: dsn}, logger.Nop())
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer s.Close()
	truncate(t, s.sqlStore)
	runStoreContract(t, s)
}

func truncate(t *testing.T, s *sqlStore) {
	t.Helper()
	for _, table := range []string{"analyses", "templates"} {
		if _, err := s.db.ExecContext(context.Background(), "DELETE FROM "+table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
}
