package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/contextforge/contextforge/internal/auth"
	"github.com/contextforge/contextforge/internal/config"
	"github.com/contextforge/contextforge/internal/content"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/health"
	"github.com/contextforge/contextforge/internal/jobs"
	"github.com/contextforge/contextforge/internal/metrics"
	"github.com/contextforge/contextforge/internal/retry"
	"github.com/contextforge/contextforge/migrations"
)

// stores are the backing stores selected by configuration.
type stores struct {
	content  content.Store
	counters counters.Store
	jobs     jobs.Store
	auth     auth.Store

	db    *sql.DB              // Postgres, nil when in-memory
	olap  *sql.DB              // ClickHouse, nil unless ANALYTICS_BACKEND=clickhouse
	redis *counters.RedisStore // nil when in-memory
}

// openStores connects every configured backend, waiting for each with
// retry.Startup, and registers its health check. Unset URLs fall back to
// in-memory stores.
func (s *Server) openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := retry.Connect(ctx, s.logger, "postgres", s.retryPolicy, db.PingContext); err != nil {
			_ = db.Close()
			return nil, err
		}
		if cfg.AutoMigrate {
			n, err := migrations.Up(ctx, db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			s.logger.Info("postgres migrations applied", "count", n)
		}

		st.db = db
		if err := metrics.RegisterDBStats(db, "postgres"); err != nil {
			s.logger.Warn("db stats not exported", "db", "postgres", "error", err)
		}
		st.jobs = jobs.NewPostgresStore(db)
		st.auth = auth.NewPostgresStore(db)
		st.content = content.NewSQLStore(db, content.Postgres)
		s.health.Register("postgres", health.Ping("postgres", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		st.jobs = jobs.NewMemoryStore()
		st.auth = auth.NewMemoryStore()
		st.content = content.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if cfg.AnalyticsBackend == config.BackendClickHouse {
		olap, err := content.OpenClickHouse(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDatabase)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("failed to open clickhouse: %w", err)
		}
		if err := retry.Connect(ctx, s.logger, "clickhouse", s.retryPolicy, olap.PingContext); err != nil {
			_ = olap.Close()
			st.close()
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := content.MigrateClickHouse(ctx, olap); err != nil {
				_ = olap.Close()
				st.close()
				return nil, fmt.Errorf("migrate clickhouse: %w", err)
			}
		}
		st.olap = olap
		if err := metrics.RegisterDBStats(olap, "clickhouse"); err != nil {
			s.logger.Warn("db stats not exported", "db", "clickhouse", "error", err)
		}
		st.content = content.NewSQLStore(olap, content.ClickHouse)
		s.health.Register("clickhouse", health.Ping("clickhouse", olap.PingContext))
		s.logger.Info("analytics reads served by ClickHouse", "addr", cfg.ClickHouseAddr, "database", cfg.ClickHouseDatabase)
	}

	if cfg.RedisURL != "" {
		rs, err := counters.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("failed to open redis: %w", err)
		}
		if err := retry.Connect(ctx, s.logger, "redis", s.retryPolicy, rs.Ping); err != nil {
			_ = rs.Close()
			st.close()
			return nil, err
		}
		st.redis = rs
		st.counters = rs
		s.health.Register("redis", health.Ping("redis", rs.Ping))
		s.logger.Info("realtime counters stored in Redis", "url", maskDSN(cfg.RedisURL))
	} else {
		st.counters = counters.NewMemoryStore()
		s.logger.Info("realtime counters kept in memory")
	}

	return st, nil
}

// close releases every open connection.
func (st *stores) close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if st.redis != nil {
		keep(st.redis.Close())
	}
	if st.olap != nil {
		keep(st.olap.Close())
	}
	if st.db != nil {
		keep(st.db.Close())
	}
	return first
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
