package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/katlab/katcore/internal/errors"
)

// Repository provides CRUD operations for all models.
//
// Every method is a blocking call on the store's single connection. A method
// touching more than one row runs in one transaction unless its doc says
// otherwise.
type Repository struct {
	db *sql.DB

	// Prepared statements for the hot read paths, keyed by query string.
	stmtCache sync.Map // map[string]*sql.Stmt

	// now is swapped in tests.
	now func() time.Time
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// another goroutine may have prepared it meanwhile
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements. The underlying DB stays open.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// withTx runs fn in a transaction. AppErrors returned by fn pass through
// unchanged; anything else is reported as a storage error for op.
func (r *Repository) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage(op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storageErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Storage(op, err)
	}
	return nil
}

// storageErr keeps coded errors and wraps the rest.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Storage(op, err)
}

// ClearAllData removes every record from every collection, settings and the
// cached library included.
func (r *Repository) ClearAllData(ctx context.Context) error {
	return r.withTx(ctx, "clear all data", func(tx *sql.Tx) error {
		for _, table := range []string{"files", "sync_queue", "acquisitions", "sessions", "settings", "reference_library"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// ===== Column helpers =====

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
