package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/lichen/internal/errors"
)

// Extension statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Extension is one recorded extension attempt.
type Extension struct {
	ID        string
	Name      string
	Spec      string
	Status    string
	Stage     string
	ErrorCode *string
	Result    string
	Source    *string // synthesized definition, nil when synthesis never happened
	CreatedAt int64
}

// ListFilters narrows List and Count.
type ListFilters struct {
	Name   *string
	Status *string
}

const extensionColumns = `id, name, spec, status, stage, error_code, result, source, created_at`

// Insert records an extension attempt.
func Insert(ctx context.Context, db *sql.DB, e *Extension) error {
	query := `INSERT INTO extensions (` + extensionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.Name, e.Spec, e.Status, e.Stage,
		toNullString(e.ErrorCode), e.Result, toNullString(e.Source), e.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetByID retrieves an extension record by its ULID.
func GetByID(ctx context.Context, db *sql.DB, id string) (*Extension, error) {
	query := `SELECT ` + extensionColumns + ` FROM extensions WHERE id = ?`

	e, err := scanExtension(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewRecordNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return e, nil
}

// List returns records newest first.
func List(ctx context.Context, db *sql.DB, filters ListFilters, limit, offset int) ([]Extension, error) {
	where, args := buildWhere(filters)
	query := `SELECT ` + extensionColumns + ` FROM extensions` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Extension
	for rows.Next() {
		e, err := scanExtension(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Count returns the number of records matching filters.
func Count(ctx context.Context, db *sql.DB, filters ListFilters) (int, error) {
	where, args := buildWhere(filters)

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extensions`+where, args...).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// ListReplayable returns, oldest first, records whose definition was
// appended and loaded: completed ones plus those that failed after reload.
func ListReplayable(ctx context.Context, db *sql.DB) ([]Extension, error) {
	query := `SELECT ` + extensionColumns + ` FROM extensions
		WHERE source IS NOT NULL AND (error_code IS NULL OR error_code NOT IN (?, ?))
		ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, string(errors.ErrReload), string(errors.ErrPersistence))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Extension
	for rows.Next() {
		e, err := scanExtension(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Purge deletes records created before cutoff (unix seconds). A zero cutoff
// matches every record. With failedOnly, completed records are kept.
func Purge(ctx context.Context, db *sql.DB, cutoff int64, failedOnly bool) (int, error) {
	var (
		clauses []string
		args    []any
	)
	if cutoff > 0 {
		clauses = append(clauses, "created_at < ?")
		args = append(args, cutoff)
	}
	if failedOnly {
		clauses = append(clauses, "status = ?")
		args = append(args, StatusFailed)
	}

	query := `DELETE FROM extensions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

func buildWhere(f ListFilters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Name != nil && *f.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, *f.Name)
	}
	if f.Status != nil && *f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, *f.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtension(row rowScanner) (*Extension, error) {
	var (
		e         Extension
		errorCode sql.NullString
		source    sql.NullString
	)
	err := row.Scan(&e.ID, &e.Name, &e.Spec, &e.Status, &e.Stage, &errorCode, &e.Result, &source, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ErrorCode = fromNullString(errorCode)
	e.Source = fromNullString(source)
	return &e, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
