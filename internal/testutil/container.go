//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PGContainer starts a throwaway Postgres container, migrates it and
// returns a connection that is closed with the container at test end.
// Use it when POSTGRES_URL is not available:
//
//	go test -tags integration ./...
func PGContainer(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("contextforge_test"),
		postgres.WithUsername("contextforge"),
		postgres.WithPassword("contextforge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("pgcontainer: start: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dbURL, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgcontainer: connection string: %v", err)
	}
	return openMigrated(t, dbURL)
}
