package content

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// Postgres uses $n placeholders (lib/pq).
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// ClickHouse uses positional ? placeholders (clickhouse-go).
var ClickHouse = Dialect{
	Name:        "clickhouse",
	Placeholder: func(int) string { return "?" },
}

// SQLStore reads content from a SQL database. The queries are portable
// between Postgres and ClickHouse; only placeholders differ.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore creates a store over db.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Dialect reports which backend the store talks to.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// where renders the user/since predicate and its arguments.
func (s *SQLStore) where(f Filter) (string, []any) {
	clause := "user_id = " + s.dialect.Placeholder(1)
	args := []any{f.UserID}
	if !f.Since.IsZero() {
		clause += " AND created_at >= " + s.dialect.Placeholder(2)
		args = append(args, f.Since)
	}
	return clause, args
}

func (s *SQLStore) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = s.dialect.Placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}

func (s *SQLStore) ListItems(ctx context.Context, f Filter) ([]Item, error) {
	where, args := s.where(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, source, category, cluster_id, quality_score,
			is_duplicate, token_count, created_at
		FROM items WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Item
	for rows.Next() {
		var (
			it       Item
			typ      string
			category sql.NullString
			cluster  sql.NullString
			quality  sql.NullFloat64
		)
		if err := rows.Scan(&it.ID, &it.UserID, &typ, &it.Source, &category, &cluster, &quality,
			&it.IsDuplicate, &it.TokenCount, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Type = ItemType(typ)
		if category.Valid {
			it.Category = &category.String
		}
		if cluster.Valid {
			it.ClusterID = &cluster.String
		}
		if quality.Valid {
			it.QualityScore = &quality.Float64
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListOptimizations(ctx context.Context, f Filter) ([]Optimization, error) {
	where, args := s.where(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, user_id, status, confidence, token_savings, created_at
		FROM optimizations WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list optimizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Optimization
	for rows.Next() {
		var (
			o          Optimization
			status     string
			confidence sql.NullFloat64
			savings    sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.ItemID, &o.UserID, &status, &confidence, &savings, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan optimization: %w", err)
		}
		o.Status = OptimizationStatus(status)
		if confidence.Valid {
			o.Confidence = &confidence.Float64
		}
		if savings.Valid {
			o.TokenSavings = &savings.Int64
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListImports(ctx context.Context, f Filter) ([]Import, error) {
	where, args := s.where(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source, status, total_files, processed_files, failed_files, created_at
		FROM imports WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Import
	for rows.Next() {
		var (
			im     Import
			status string
		)
		if err := rows.Scan(&im.ID, &im.UserID, &im.Source, &status,
			&im.TotalFiles, &im.ProcessedFiles, &im.FailedFiles, &im.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		im.Status = ImportStatus(status)
		out = append(out, im)
	}
	return out, rows.Err()
}

// groupCount runs SELECT col, COUNT(*) ... GROUP BY col. table and column are
// package constants, never caller input.
func (s *SQLStore) groupCount(ctx context.Context, table, column string, f Filter) (map[string]int64, error) {
	where, args := s.where(f)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM "+table+" WHERE "+where+" GROUP BY "+column, args...) // #nosec G202 -- identifiers are constants
	if err != nil {
		return nil, fmt.Errorf("group %s by %s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s group: %w", table, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (s *SQLStore) CountItemsByType(ctx context.Context, f Filter) (map[string]int64, error) {
	return s.groupCount(ctx, "items", "type", f)
}

func (s *SQLStore) CountOptimizationsByStatus(ctx context.Context, f Filter) (map[string]int64, error) {
	return s.groupCount(ctx, "optimizations", "status", f)
}

func (s *SQLStore) CountImportsByStatus(ctx context.Context, f Filter) (map[string]int64, error) {
	return s.groupCount(ctx, "imports", "status", f)
}

func (s *SQLStore) CountAuditByAction(ctx context.Context, f Filter) (map[string]int64, error) {
	return s.groupCount(ctx, "audit_logs", "action", f)
}

func (s *SQLStore) ItemStats(ctx context.Context, f Filter) (ItemStats, error) {
	where, args := s.where(f)
	var (
		st         ItemStats
		qualitySum float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(quality_score),
			COALESCE(SUM(quality_score), 0),
			COALESCE(SUM(CASE WHEN is_duplicate THEN 1 ELSE 0 END), 0),
			COUNT(cluster_id),
			COUNT(category),
			COALESCE(SUM(token_count), 0)
		FROM items WHERE `+where, args...,
	).Scan(&st.Total, &st.Scored, &qualitySum, &st.Duplicates, &st.Clustered, &st.Categorized, &st.TotalTokens)
	if err != nil {
		return ItemStats{}, fmt.Errorf("item stats: %w", err)
	}
	if st.Scored > 0 {
		st.AvgQuality = qualitySum / float64(st.Scored)
	}
	return st, nil
}

func (s *SQLStore) InsertItem(ctx context.Context, it *Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, user_id, type, source, category, cluster_id, quality_score,
			is_duplicate, token_count, created_at)
		VALUES (`+s.placeholders(10)+`)`,
		it.ID, it.UserID, string(it.Type), it.Source, it.Category, it.ClusterID, it.QualityScore,
		it.IsDuplicate, it.TokenCount, it.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertOptimization(ctx context.Context, o *Optimization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimizations (id, item_id, user_id, status, confidence, token_savings, created_at)
		VALUES (`+s.placeholders(7)+`)`,
		o.ID, o.ItemID, o.UserID, string(o.Status), o.Confidence, o.TokenSavings, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert optimization: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertImport(ctx context.Context, im *Import) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO imports (id, user_id, source, status, total_files, processed_files, failed_files, created_at)
		VALUES (`+s.placeholders(8)+`)`,
		im.ID, im.UserID, im.Source, string(im.Status), im.TotalFiles, im.ProcessedFiles, im.FailedFiles, im.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertAudit(ctx context.Context, a *AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, created_at)
		VALUES (`+s.placeholders(5)+`)`,
		a.ID, a.UserID, a.Action, a.EntityType, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ Store = (*SQLStore)(nil)
