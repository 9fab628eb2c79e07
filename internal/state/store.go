// Package state records validation runs in SQLite. It keeps one row per
// run plus the per-explore results and errors, so past runs can be listed
// and compared.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/leapstack-labs/lookval/pkg/core"
)

var errNotOpen = errors.New("database not opened")

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements core.RunStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

var _ core.RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store. A nil logger discards output.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// NewWithDB wraps an existing connection. The schema is not touched.
func NewWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path + "?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened state database", "path", path)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema brings the schema up to date.
func (s *SQLiteStore) InitSchema() error {
	return s.Migrate()
}

func generateID() string {
	return uuid.New().String()
}

// CreateRun records the start of a validation run.
func (s *SQLiteStore) CreateRun(project, ref string) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	run := &core.Run{
		ID:        generateID(),
		Project:   project,
		Ref:       ref,
		Status:    core.RunStatusRunning,
		StartedAt: s.now(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("project", project), slog.String("ref", ref))

	_, err := s.db.Exec(
		`INSERT INTO runs (id, project, ref, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Project, run.Ref, string(run.Status), run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// CompleteRun stores the outcome of a finished run together with its
// per-explore results and errors.
func (s *SQLiteStore) CompleteRun(id string, result *core.ValidationResult) (err error) {
	if s.db == nil {
		return errNotOpen
	}

	passed, failed, skipped := result.Counts()
	status := core.RunStatusPassed
	if result.Status == core.StatusFailed {
		status = core.RunStatusFailed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, passed = ?, failed = ?, skipped = ? WHERE id = ?`,
		string(status), s.now().UnixMilli(), passed, failed, skipped, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	for i, t := range result.Tested {
		if _, err := tx.Exec(
			`INSERT INTO explore_results (run_id, position, model, explore, status, skip_reason) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, t.Model, t.Explore, string(t.Status), nullString(string(t.SkipReason)),
		); err != nil {
			return fmt.Errorf("failed to save result for %s.%s: %w", t.Model, t.Explore, err)
		}
	}
	for i, e := range result.Errors {
		if _, err := tx.Exec(
			`INSERT INTO sql_errors (run_id, position, model, explore, dimension, message, sql, source_url) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, e.Model, e.Explore, nullString(e.Dimension), e.Message, nullString(e.SQL), nullString(e.SourceURL),
		); err != nil {
			return fmt.Errorf("failed to save error for %s.%s: %w", e.Model, e.Explore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Debug("completed run", slog.String("id", id), slog.String("status", string(status)))
	return nil
}

// FailRun marks a run that could not produce a result.
func (s *SQLiteStore) FailRun(id string, errMsg string) error {
	if s.db == nil {
		return errNotOpen
	}
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(core.RunStatusErrored), s.now().UnixMilli(), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTestResults returns the per-explore results of a run in their
// original order.
func (s *SQLiteStore) GetTestResults(runID string) ([]core.TestResult, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	rows, err := s.db.Query(
		`SELECT model, explore, status, skip_reason FROM explore_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get test results: %w", err)
	}
	defer rows.Close()

	var results []core.TestResult
	for rows.Next() {
		var t core.TestResult
		var status string
		var reason sql.NullString
		if err := rows.Scan(&t.Model, &t.Explore, &status, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan test result: %w", err)
		}
		t.Status = core.TestStatus(status)
		t.SkipReason = core.SkipReason(reason.String)
		results = append(results, t)
	}
	return results, rows.Err()
}

// GetRunErrors returns the errors recorded for a run.
func (s *SQLiteStore) GetRunErrors(runID string) ([]core.SQLError, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	rows, err := s.db.Query(
		`SELECT model, explore, dimension, message, sql, source_url FROM sql_errors WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run errors: %w", err)
	}
	defer rows.Close()

	var out []core.SQLError
	for rows.Next() {
		var e core.SQLError
		var dim, query, url sql.NullString
		if err := rows.Scan(&e.Model, &e.Explore, &dim, &e.Message, &query, &url); err != nil {
			return nil, fmt.Errorf("failed to scan run error: %w", err)
		}
		e.Dimension, e.SQL, e.SourceURL = dim.String, query.String, url.String
		out = append(out, e)
	}
	return out, rows.Err()
}

const runColumns = `id, project, ref, status, started_at, completed_at, passed, failed, skipped, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	run := &core.Run{}
	var status string
	var started int64
	var completed sql.NullInt64
	var errMsg sql.NullString

	if err := row.Scan(&run.ID, &run.Project, &run.Ref, &status, &started, &completed,
		&run.Passed, &run.Failed, &run.Skipped, &errMsg); err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	run.StartedAt = time.UnixMilli(started).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
