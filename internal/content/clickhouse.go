package content

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// OpenClickHouse opens a database/sql handle on a ClickHouse server and
// verifies it answers.
func OpenClickHouse(ctx context.Context, addr, database string) (*sql.DB, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      5 * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return db, nil
}

var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id String,
		user_id String,
		type LowCardinality(String),
		source String,
		category Nullable(String),
		cluster_id Nullable(String),
		quality_score Nullable(Float64),
		is_duplicate Bool,
		token_count Int64,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS optimizations (
		id String,
		item_id String,
		user_id String,
		status LowCardinality(String),
		confidence Nullable(Float64),
		token_savings Nullable(Int64),
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS imports (
		id String,
		user_id String,
		source String,
		status LowCardinality(String),
		total_files Int64,
		processed_files Int64,
		failed_files Int64,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	ORDER BY (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id String,
		user_id String,
		action LowCardinality(String),
		entity_type LowCardinality(String),
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (user_id, created_at)`,
}

// MigrateClickHouse creates the content tables on ClickHouse. Postgres uses
// the goose migrations instead.
func MigrateClickHouse(ctx context.Context, db *sql.DB) error {
	for _, stmt := range clickHouseSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}
