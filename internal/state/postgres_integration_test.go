package state_test

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"newsrelay/internal/state"
)

var postgresTables = []string{
	"processing_records",
	"notification_records",
	"processing_attempts",
	"dead_letters",
	"checkpoints",
}

func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("NEWSRELAY_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set NEWSRELAY_TEST_POSTGRES_DSN (postgres://...) to run Postgres integration tests")
	}
	return dsn
}

// openPostgresStore opens the Postgres backend with every state table emptied.
func openPostgresStore(t *testing.T) *state.Store {
	t.Helper()
	dsn := postgresTestDSN(t)
	store, err := state.Open(dsn)
	if err != nil {
		t.Fatalf("open postgres state store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if store.Backend() != "postgres" {
		t.Fatalf("expected postgres backend, got %s", store.Backend())
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(postgresTables, ", ")); err != nil {
		t.Fatalf("truncate state tables failed: %v", err)
	}
	return store
}

func TestPostgresConcurrentCreateRecord(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()

	const writers = 8
	results := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, created, err := store.CreateRecord(ctx, "env-race")
			if err != nil {
				t.Errorf("CreateRecord: %v", err)
			}
			results <- created
		}()
	}
	winners := 0
	for i := 0; i < writers; i++ {
		if <-results {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one creator, got %d", winners)
	}
}
