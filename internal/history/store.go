// Package history keeps a SQLite record of orchestrator runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// RunRecord is a persisted run with its outcome
type RunRecord struct {
	ID         string
	RunID      string
	Prompt     string
	TaskType   domain.TaskType
	ModelTier  domain.ModelTier
	CLIKind    domain.CLIKind
	WorkingDir string
	State      domain.RunState
	ExitCode   *int // Nil while the run is in progress
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Open opens (and creates if needed) the database at dbPath.
// ":memory:" is accepted for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts the run in its initial state
func (s *Store) StartRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, run_id, prompt, task_type, model_tier, cli_kind, working_dir, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.RunID,
		run.Prompt,
		string(run.TaskType),
		string(run.ModelTier),
		string(run.CLIKind),
		run.WorkingDir,
		string(run.State),
		run.StartedAt.UTC(),
	)
	return err
}

// RecordAttempt stores one phase invocation and the run's current state
func (s *Store) RecordAttempt(ctx context.Context, run *domain.Run, a domain.PhaseAttempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO phase_attempts (run_ref, phase, attempt, auto_fix, exit_code, started_at, duration_ms, tokens_input, tokens_output, cost_usd, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(a.Phase),
		a.Attempt,
		a.AutoFix,
		a.ExitCode,
		a.StartedAt.UTC(),
		a.Duration.Milliseconds(),
		a.InputTokens,
		a.OutputTokens,
		a.CostUSD,
		a.Error,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET run_id = ?, state = ? WHERE id = ?`,
		run.RunID, string(run.State), run.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishRun stores the terminal state, exit code and error message
func (s *Store) FinishRun(ctx context.Context, run *domain.Run, exitCode int, errMsg string) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET run_id = ?, state = ?, exit_code = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, run.RunID, string(run.State), exitCode, errMsg, finished.UTC(), run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT id, run_id, prompt, task_type, model_tier, cli_kind, working_dir, state, exit_code, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given history ID
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, prompt, task_type, model_tier, cli_kind, working_dir, state, exit_code, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// Attempts returns the phase attempts of a run in execution order
func (s *Store) Attempts(ctx context.Context, id string) ([]domain.PhaseAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, attempt, auto_fix, exit_code, started_at, duration_ms, tokens_input, tokens_output, cost_usd, error
		FROM phase_attempts WHERE run_ref = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.PhaseAttempt
	for rows.Next() {
		var a domain.PhaseAttempt
		var phase string
		var durationMs int64
		var errMsg sql.NullString
		if err := rows.Scan(&phase, &a.Attempt, &a.AutoFix, &a.ExitCode, &a.StartedAt, &durationMs,
			&a.InputTokens, &a.OutputTokens, &a.CostUSD, &errMsg); err != nil {
			return nil, err
		}
		a.Phase = domain.PhaseName(phase)
		a.Duration = time.Duration(durationMs) * time.Millisecond
		a.Error = errMsg.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var r RunRecord
	var runID, taskType, errMsg sql.NullString
	var tier, kind, state string
	var exitCode sql.NullInt64
	var finished sql.NullTime

	err := row.Scan(&r.ID, &runID, &r.Prompt, &taskType, &tier, &kind, &r.WorkingDir, &state,
		&exitCode, &errMsg, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	r.RunID = runID.String
	r.TaskType = domain.TaskType(taskType.String)
	r.ModelTier = domain.ModelTier(tier)
	r.CLIKind = domain.CLIKind(kind)
	r.State = domain.RunState(state)
	r.Error = errMsg.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
