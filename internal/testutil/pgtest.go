// Package testutil provides Postgres fixtures for store integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/contextforge/contextforge/migrations"
)

// PGTest connects to POSTGRES_URL, applies the embedded migrations and
// empties the application tables when the test ends. Without POSTGRES_URL
// the test is skipped.
func PGTest(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}
	return openMigrated(t, dbURL)
}

func openMigrated(t *testing.T, dbURL string) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("pgtest: ping: %v", err)
	}
	if _, err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("pgtest: %v", err)
	}

	// Registered after Close, so it runs first.
	t.Cleanup(func() { truncate(t, db) })
	return db
}

// truncate empties every table except goose's version table, so the next
// test starts clean without re-running migrations.
func truncate(t *testing.T, db *sql.DB) {
	_, err := db.ExecContext(context.Background(), `
		DO $$
		DECLARE tables text;
		BEGIN
			SELECT string_agg(quote_ident(tablename), ', ') INTO tables
			FROM pg_tables
			WHERE schemaname = 'public' AND tablename <> 'goose_db_version';
			IF tables IS NOT NULL THEN
				EXECUTE 'TRUNCATE ' || tables || ' CASCADE';
			END IF;
		END $$`)
	if err != nil {
		t.Logf("pgtest: truncate: %v", err)
	}
}
