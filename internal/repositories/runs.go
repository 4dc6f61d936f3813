package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/shared"
)

// RunRepository persists run history and owns the exclusive run lock and the
// session version counter.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start records a new run in etl_runs.
func (r *RunRepository) Start(runID string) error {
	_, err := r.db.Exec(
		"INSERT INTO etl_runs (id, started_at, status) VALUES (?, ?, ?)",
		runID, time.Now().UTC(), string(models.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// Finish closes out a run with its final status, overall score and detail JSON.
func (r *RunRepository) Finish(runID string, status models.RunStatus, score float64, detail string) error {
	result, err := r.db.Exec(
		"UPDATE etl_runs SET finished_at = ?, status = ?, overall_score = ?, detail = ? WHERE id = ?",
		time.Now().UTC(), string(status), score, detail, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: run %s", shared.ErrNotFound, runID)
	}

	return nil
}

// Latest returns the most recent run, or ErrNotFound when no run has happened.
func (r *RunRepository) Latest() (*models.RunRecord, error) {
	runs, err := r.List(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, shared.ErrNotFound
	}
	return &runs[0], nil
}

// List returns up to limit runs, most recent first.
func (r *RunRepository) List(limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT id, started_at, finished_at, status, overall_score, detail
		FROM etl_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		var status string
		var finished sql.NullTime
		var score sql.NullFloat64
		var detail sql.NullString

		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &status, &score, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.Status = models.RunStatus(status)
		run.OverallScore = score.Float64
		run.Detail = detail.String
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

// AcquireLock takes the exclusive run lock for runID. Concurrent invocation is
// rejected with ErrRunLocked, not queued. The returned release func must run
// unconditionally on exit, success or failure.
func (r *RunRepository) AcquireLock(runID string) (func() error, error) {
	result, err := r.db.Exec(
		"INSERT OR IGNORE INTO etl_run_lock (id, run_id, acquired_at) VALUES (1, ?, ?)",
		runID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		var holder string
		if err := r.db.QueryRow("SELECT run_id FROM etl_run_lock WHERE id = 1").Scan(&holder); err == nil {
			return nil, fmt.Errorf("%w: held by run %s", shared.ErrRunLocked, holder)
		}
		return nil, shared.ErrRunLocked
	}

	release := func() error {
		if _, err := r.db.Exec("DELETE FROM etl_run_lock WHERE id = 1 AND run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		return nil
	}

	return release, nil
}

// BreakLock force-removes the run lock regardless of holder. Operator escape
// hatch for a lock orphaned by a kill -9 mid-run.
func (r *RunRepository) BreakLock() error {
	if _, err := r.db.Exec("DELETE FROM etl_run_lock WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to break run lock: %w", err)
	}
	return nil
}

// BumpSessionVersion increments the counter the web tier's lazy session refresh
// watches. Called only as the last step of a successful run.
func (r *RunRepository) BumpSessionVersion() (int64, error) {
	if _, err := r.db.Exec("UPDATE session_version SET version = version + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("failed to bump session version: %w", err)
	}
	return r.SessionVersion()
}

// SessionVersion returns the current session version counter.
func (r *RunRepository) SessionVersion() (int64, error) {
	var version int64
	if err := r.db.QueryRow("SELECT version FROM session_version WHERE id = 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read session version: %w", err)
	}
	return version, nil
}
