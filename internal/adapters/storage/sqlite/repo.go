package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/trellis/internal/app"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

const (
	busyRetries   = 5
	busyBaseDelay = 20 * time.Millisecond
)

// Store persists trellis state in one SQLite database.
//
// The pool is capped at one connection so write batches are serialized within the process;
// BEGIN IMMEDIATE plus busy_timeout serializes them against other processes.
type Store struct {
	db *sql.DB
}

// Open opens a file-backed database, creating its directory and schema when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return openDSN(path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Store, error) {
	// Named so that a reconnect after an idle close reaches the same database.
	return openDSN("file:trellis-" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)")
}

func openDSN(dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// migrate creates the schema idempotently.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS project_members (
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(project_id, user_id),
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			due_at TEXT,
			estimate_mode TEXT NOT NULL,
			estimate_minutes INTEGER NOT NULL DEFAULT 0,
			assignee_user_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			health TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT,
			archived_at TEXT,
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS dependencies (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			depends_on_id TEXT NOT NULL,
			type TEXT NOT NULL,
			lag_minutes INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(item_id, depends_on_id),
			FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE,
			FOREIGN KEY(depends_on_id) REFERENCES items(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS scheduled_blocks (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			start_at TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS blockers (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			cleared_at TEXT,
			FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS time_entries (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			start_at TEXT NOT NULL,
			end_at TEXT,
			duration_minutes INTEGER,
			FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
		);`,
		// op_log keeps no foreign keys so history survives deletes.
		`CREATE TABLE IF NOT EXISTS op_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			op_name TEXT NOT NULL,
			args_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_project ON items(project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_dependencies_project ON dependencies(project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON dependencies(depends_on_id);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_blocks_item ON scheduled_blocks(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_blockers_item ON blockers(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_time_entries_item ON time_entries(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_op_log_project_id ON op_log(project_id, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// RunInTx runs fn inside one write transaction and commits iff fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(context.Context, app.Repository) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire sqlite conn: %w", err)
	}
	defer conn.Close()

	if err := retryOnBusy(ctx, func() error {
		_, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`)
		return err
	}); err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer func() {
		if err != nil {
			// The caller's ctx may already be done; rollback must still run.
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	if err = fn(ctx, &repo{q: conn}); err != nil {
		return err
	}
	if _, err = conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit write tx: %w", err)
	}
	return nil
}

// ReadTx runs fn against one consistent snapshot.
func (s *Store) ReadTx(ctx context.Context, fn func(context.Context, app.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(ctx, &repo{q: tx})
}

// retryOnBusy retries fn with doubling backoff while SQLite reports the database as locked.
func retryOnBusy(ctx context.Context, fn func() error) error {
	delay := busyBaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isBusyErr(err) || attempt >= busyRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// isBusyErr reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database table is locked")
}

// queryer is the subset of *sql.Conn and *sql.Tx used by repo.
type queryer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// scanner represents the shared Scan contract of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// repo is the transaction-scoped app.Repository.
type repo struct {
	q queryer
}

// translateNoRows maps a zero-row write to app.ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// noRows maps sql.ErrNoRows to app.ErrNotFound.
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return app.ErrNotFound
	}
	return err
}

// timeLayout is fixed width so stored timestamps sort lexically in time order;
// RFC3339Nano drops trailing zeros and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ts formats a timestamp for storage.
func ts(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullableTS formats an optional timestamp for storage.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// parseTS parses a stored timestamp.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses an optional stored timestamp.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

// placeholders renders n comma-separated bind markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// queryStrings collects a single TEXT column.
func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// queryAll runs query and scans every row with scan.
func queryAll[T any](ctx context.Context, q queryer, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
