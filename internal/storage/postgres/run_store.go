// Package postgres persists run history with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mapcompute/internal/store"
)

const defaultTable = "compute_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

// DB is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	db    DB
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects a pool and returns a store. Call EnsureSchema before use
// on a fresh database.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithDB(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithDB wraps an existing pool.
func NewRunStoreWithDB(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{db: db, table: table}, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	s.db.Close()
}

// EnsureSchema creates the runs table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id uuid PRIMARY KEY,
		job text NOT NULL,
		started_at timestamptz NOT NULL,
		finished_at timestamptz,
		status text NOT NULL,
		fraction double precision NOT NULL DEFAULT 0,
		error_message text
	)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// StartRun inserts a running row; an existing row is left alone.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, job string, startedAt time.Time) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, job, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.db.Exec(ctx, query, id, job, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// UpdateProgress stores the latest fraction.
func (s *RunStore) UpdateProgress(ctx context.Context, id uuid.UUID, fraction float64) error {
	query := fmt.Sprintf(`UPDATE %s SET fraction = $1 WHERE id = $2`, s.table)
	tag, err := s.db.Exec(ctx, query, fraction, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update progress %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4`, s.table)
	tag, err := s.db.Exec(ctx, query, finishedAt, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT id, job, started_at, finished_at, status, fraction, error_message
		FROM %s WHERE id = $1`, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, filter store.ListFilter) ([]store.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Status != nil {
		query := fmt.Sprintf(`SELECT id, job, started_at, finished_at, status, fraction, error_message
			FROM %s WHERE status = $1
			ORDER BY started_at DESC LIMIT $2 OFFSET $3`, s.table)
		rows, err = s.db.Query(ctx, query, string(*filter.Status), limit, offset)
	} else {
		query := fmt.Sprintf(`SELECT id, job, started_at, finished_at, status, fraction, error_message
			FROM %s
			ORDER BY started_at DESC LIMIT $1 OFFSET $2`, s.table)
		rows, err = s.db.Query(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.Job,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Fraction,
		&run.ErrorMessage,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
