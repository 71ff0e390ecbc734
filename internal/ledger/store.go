package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// Run kinds.
const (
	KindSync    = "sync"
	KindUndo    = "undo"
	KindProject = "project"
)

// Run is one stored invocation and its JSON report.
type Run struct {
	RequestID   string
	Kind        string
	CreatedAt   time.Time
	RequestUser string
	Status      string // overall status line
	Entries     int
	Payload     []byte
}

// Store keeps run reports in an embedded SQLite database so that undo can
// be invoked by request id, possibly from another process.
//
// The database runs in WAL mode; concurrent readers never block the
// writer.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the store at path and initializes the
// schema. The caller must call Close.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := s.InitSchemaContext(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the schema. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		request_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL, -- unix milliseconds
		request_user TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		entries INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL  -- JSON report
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind_created ON runs(kind, created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces a run.
func (s *Store) SaveRun(run *Run) error {
	return s.SaveRunContext(context.Background(), run)
}

// SaveRunContext inserts or replaces a run with context support.
func (s *Store) SaveRunContext(ctx context.Context, run *Run) error {
	if run.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (request_id, kind, created_at, request_user, status, entries, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			kind = excluded.kind,
			created_at = excluded.created_at,
			request_user = excluded.request_user,
			status = excluded.status,
			entries = excluded.entries,
			payload = excluded.payload`,
		run.RequestID, run.Kind, run.CreatedAt.UnixMilli(), run.RequestUser, run.Status, run.Entries, string(run.Payload))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RequestID, err)
	}
	return nil
}

// GetRunContext returns a run, or an error wrapping core.ErrNotFound.
func (s *Store) GetRunContext(ctx context.Context, requestID string) (*Run, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT request_id, kind, created_at, request_user, status, entries, payload
		FROM runs WHERE request_id = ?`, requestID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", requestID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", requestID, err)
	}
	return run, nil
}

// ListRunsFilter narrows ListRunsContext.
type ListRunsFilter struct {
	Kind  string // empty for all kinds
	Limit int    // 0 for no limit
}

// ListRunsContext returns runs newest first, without payloads.
func (s *Store) ListRunsContext(ctx context.Context, filter ListRunsFilter) ([]*Run, error) {
	query := `SELECT request_id, kind, created_at, request_user, status, entries, '' FROM runs`
	var args []any
	if filter.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY created_at DESC, request_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneContext deletes runs created before cutoff and returns how many.
func (s *Store) PruneContext(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run     Run
		created int64
		payload string
	)
	if err := sc.Scan(&run.RequestID, &run.Kind, &created, &run.RequestUser, &run.Status, &run.Entries, &payload); err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(created)
	if payload != "" {
		run.Payload = []byte(payload)
	}
	return &run, nil
}

// SaveLedgerContext stores a sync ledger under requestID.
func (s *Store) SaveLedgerContext(ctx context.Context, requestID, requestUser string, l Ledger) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	return s.SaveRunContext(ctx, &Run{
		RequestID:   requestID,
		Kind:        KindSync,
		RequestUser: requestUser,
		Status:      Overall(l.Statuses()),
		Entries:     len(l),
		Payload:     payload,
	})
}

// LedgerContext loads the sync ledger stored under requestID.
func (s *Store) LedgerContext(ctx context.Context, requestID string) (Ledger, error) {
	run, err := s.GetRunContext(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if run.Kind != KindSync {
		return nil, fmt.Errorf("run %s is a %s run, not a sync run: %w", requestID, run.Kind, core.ErrInvalidInput)
	}
	var l Ledger
	if err := json.Unmarshal(run.Payload, &l); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", requestID, err)
	}
	return l, nil
}
