package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/models"
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger

	// Writes are serialized; reads go straight to the pool.
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and brings its
// schema up to date.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, &models.StorageError{Op: "open", Key: dbPath, Err: err}
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
	}

	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, &models.StorageError{Op: "migrate", Key: dbPath, Err: err}
	}

	return store, nil
}

// SchemaVersion reports the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&version)
	if err != nil {
		return 0, &models.StorageError{Op: "schema version", Err: err}
	}
	return version, nil
}

// ClearAll empties every collection in one transaction.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	s.logger.Info("Clearing local store")

	return s.withTx(ctx, "clear", "", func(tx *sql.Tx) error {
		for _, table := range []string{"sync_queue", "photos", "assessments", "appointments"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a write transaction under the write lock.
func (s *SQLiteStore) withTx(ctx context.Context, op, key string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StorageError{Op: op, Key: key, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return &models.StorageError{Op: op, Key: key, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: op, Key: key, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// exec runs a single write statement under the write lock and returns the
// number of affected rows.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &models.StorageError{Op: op, Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, &models.StorageError{Op: op, Err: err}
	}
	return int(n), nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// where accumulates AND-ed conditions for a dynamic query.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) eq(column string, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *where) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	w.add(column+" IN ("+placeholders+")", args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// Timestamps are stored as UTC Unix nanoseconds; zero times as NULL.
func toNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
