// Package history keeps a ledger of committed deduplication runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"digestbot/history/migrations"
)

var ErrNotFound = errors.New("not found")

// Run is one committed deduplication run.
type Run struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Model           string    `json:"model"`
	Dimension       int       `json:"dimension"`
	Threshold       float64   `json:"threshold"`
	Total           int       `json:"total"`
	Unique          int       `json:"unique"`
	Duplicates      int       `json:"duplicates"`
	IndexSizeBefore int       `json:"index_size_before"`
	IndexSize       int       `json:"index_size"`
	IndexPath       string    `json:"index_path"`
	OutputPath      string    `json:"output_path"`
}

// Store records runs.
type Store interface {
	Record(ctx context.Context, r Run) error
	Get(ctx context.Context, runID string) (Run, error)
	// List returns up to limit runs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open picks the backend from dsn:
// - postgres:// or postgresql://: PostgreSQL
// - anything else: SQLite at that path
func Open(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("history dsn is empty")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s, err := OpenPostgres(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	}
	return OpenSQLite(dsn)
}

// OpenSQLite opens (creating if needed) a SQLite ledger at path.
func OpenSQLite(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; avoids SQLITE_BUSY from the pool
	db.SetMaxOpenConns(1)

	if err := migrate(db, dialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLStore{db: db, dialect: dialectSQLite}, nil
}

// OpenPostgres connects to a PostgreSQL ledger.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(db, dialectPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLStore{db: db, dialect: dialectPostgres}, nil
}

func migrate(db *sql.DB, d dialect) error {
	fs, name := migrations.SQLite, "sqlite/001_init.sql"
	if d == dialectPostgres {
		fs, name = migrations.Postgres, "postgres/001_init.sql"
	}
	data, err := fs.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const runColumns = `run_id, started_at_ms, finished_at_ms, model, dimension, threshold,
	total, unique_count, duplicate_count, index_size_before, index_size, index_path, output_path`

func (s *SQLStore) Record(ctx context.Context, r Run) error {
	if r.RunID == "" {
		return errors.New("run id is required")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.RunID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Model, r.Dimension, r.Threshold,
		r.Total, r.Unique, r.Duplicates, r.IndexSizeBefore, r.IndexSize, r.IndexPath, r.OutputPath,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`), runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	return r, nil
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at_ms DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started, finished int64
	err := sc.Scan(&r.RunID, &started, &finished, &r.Model, &r.Dimension, &r.Threshold,
		&r.Total, &r.Unique, &r.Duplicates, &r.IndexSizeBefore, &r.IndexSize, &r.IndexPath, &r.OutputPath)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	return r, nil
}
