package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultPath is where the ledger lives relative to the working directory.
const DefaultPath = ".ltsprep/state.db"

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the run-state ledger backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite state store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenStore opens the ledger at path and applies pending migrations.
func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	s := NewSQLiteStore(logger)
	if err := s.Open(ctx, path); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database, creating its directory.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection: an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.logger.Debug("opened state store", slog.String("path", path))
	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the file the store was opened on.
func (s *SQLiteStore) Path() string {
	return s.path
}

// --- Run operations ---

// CreateRun starts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		StartedAt: s.now(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, finalState, errKind, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_state = ?, error_kind = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), finalState, errKind, errMsg, s.now().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return requireAffected(res, "run "+id)
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun retrieves the most recently started run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	return scanRun(row)
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// --- Stage operations ---

// StartStage records that a stage of a run has begun.
func (s *SQLiteStore) StartStage(ctx context.Context, runID, stage string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (run_id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, stage, string(StageStatusRunning), s.now().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to start stage %s: %w", stage, err)
	}
	return nil
}

// CompleteStage records the outcome of a stage.
func (s *SQLiteStore) CompleteStage(ctx context.Context, runID, stage string, status StageStatus, summary, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, summary = ?, error = ?, completed_at = ? WHERE run_id = ? AND stage = ?`,
		string(status), summary, errMsg, s.now().Format(timeLayout), runID, stage,
	)
	if err != nil {
		return fmt.Errorf("failed to complete stage %s: %w", stage, err)
	}
	return requireAffected(res, "stage "+stage)
}

// StageRuns returns the stages of a run in the order they started.
func (s *SQLiteStore) StageRuns(ctx context.Context, runID string) ([]*StageRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, status, summary, error, started_at, completed_at
		 FROM stage_runs WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stages []*StageRun
	for rows.Next() {
		sr := &StageRun{}
		var status, started string
		var completed sql.NullString
		if err := rows.Scan(&sr.RunID, &sr.Stage, &status, &sr.Summary, &sr.Error, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		sr.Status = StageStatus(status)
		if sr.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if sr.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		stages = append(stages, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	return stages, nil
}

// --- Acquisition operations ---

// RecordAcquisition stores a completed download.
func (s *SQLiteStore) RecordAcquisition(ctx context.Context, a Acquisition) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO acquisitions (path, release, west, south, east, north, features, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Path, a.Release, a.West, a.South, a.East, a.North, a.Features, a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record acquisition: %w", err)
	}
	return nil
}

// LatestAcquisition returns the newest acquisition recorded for path.
func (s *SQLiteStore) LatestAcquisition(ctx context.Context, path string) (*Acquisition, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	a := &Acquisition{}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT path, release, west, south, east, north, features, created_at
		 FROM acquisitions WHERE path = ? ORDER BY id DESC LIMIT 1`, path,
	).Scan(&a.Path, &a.Release, &a.West, &a.South, &a.East, &a.North, &a.Features, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get acquisition: %w", err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return a, nil
}

// --- helpers ---

const runColumns = `id, status, final_state, error_kind, error, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var status, started string
	var completed sql.NullString

	err := row.Scan(&run.ID, &status, &run.FinalState, &run.ErrorKind, &run.Error, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = RunStatus(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	return run, nil
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q in state store: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
