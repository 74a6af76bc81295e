package jobs

import (
	"context"
	"database/sql"
	"errors"

	"github.com/contextforge/contextforge/internal/pagination"
)

// PostgresStore persists job records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed job store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, user_id, type, status, total_items, processed_items, results, error, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, j *Job) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.UserID, string(j.Type), string(j.Status), j.TotalItems, j.ProcessedItems,
		nullJSON(j.Results), nullString(j.Error), j.CreatedAt, j.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (p *PostgresStore) Update(ctx context.Context, j *Job) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, processed_items = $2, results = $3, error = $4, updated_at = $5
		WHERE id = $6`,
		string(j.Status), j.ProcessedItems, nullJSON(j.Results), nullString(j.Error), j.UpdatedAt, j.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		j            Job
		typ, status  string
		results      []byte
		errorMessage sql.NullString
	)
	if err := s.Scan(&j.ID, &j.UserID, &typ, &status, &j.TotalItems, &j.ProcessedItems,
		&results, &errorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	// Stored values are not re-validated so that rows written by a newer
	// worker stay readable; pollers treat unknown statuses as in-progress.
	j.Type = Type(typ)
	j.Status = Status(status)
	if len(results) > 0 {
		j.Results = results
	}
	if errorMessage.Valid {
		j.Error = errorMessage.String
	}
	return &j, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
