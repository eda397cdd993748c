package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
)

// StepRepository persists [models.Step] rows for a run.
type StepRepository struct {
	db *sql.DB
}

// NewStepRepository creates a new [StepRepository] with the given database connection
func NewStepRepository(db *sql.DB) *StepRepository {
	return &StepRepository{db: db}
}

const stepColumns = `id, run_id, position, name, statement, status, attempts, rows_affected, error_message, started_at, finished_at, created_at, updated_at`

// Create inserts a new step with a generated ID
func (r *StepRepository) Create(step *models.Step) error {
	step.SetID(shared.GenerateID())

	if err := step.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `INSERT INTO steps (` + stepColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(query,
		step.ID(),
		step.RunID(),
		step.Position(),
		step.Name(),
		nullString(step.Statement()),
		string(step.Status()),
		step.Attempts(),
		step.RowsAffected(),
		nullString(step.ErrorMessage()),
		step.StartedAt(),
		nullTime(step.FinishedAt()),
		step.CreatedAt(),
		step.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}

	return nil
}

// Update writes the step's status, attempts, row count and error
func (r *StepRepository) Update(step *models.Step) error {
	if err := step.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	step.SetUpdatedAt(now)

	query := `
		UPDATE steps
		SET status = ?, attempts = ?, rows_affected = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		string(step.Status()),
		step.Attempts(),
		step.RowsAffected(),
		nullString(step.ErrorMessage()),
		nullTime(step.FinishedAt()),
		now,
		step.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("step not found: %s", step.ID())
	}

	return nil
}

// ListByRun returns a run's steps in execution order
func (r *StepRepository) ListByRun(runID string) ([]*models.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE run_id = ? ORDER BY position ASC, started_at ASC`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var (
			id           string
			runID        string
			position     int
			name         string
			statement    sql.NullString
			status       string
			attempts     int
			rowsAffected int64
			errorMessage sql.NullString
			startedAt    time.Time
			finishedAt   sql.NullTime
			createdAt    time.Time
			updatedAt    time.Time
		)

		err := rows.Scan(&id, &runID, &position, &name, &statement, &status, &attempts, &rowsAffected,
			&errorMessage, &startedAt, &finishedAt, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step := models.NewStep(runID, position, name, statement.String)
		step.SetID(id)
		step.Restore(models.Status(status), attempts, rowsAffected, errorMessage.String, startedAt, timePtr(finishedAt), createdAt)
		step.SetUpdatedAt(updatedAt)
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return steps, nil
}

// Succeeded returns the names of the steps that succeeded in a run.
func (r *StepRepository) Succeeded(runID string) (map[string]bool, error) {
	rows, err := r.db.Query(`SELECT name FROM steps WHERE run_id = ? AND status = ?`, runID, string(models.StatusSucceeded))
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		done[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return done, nil
}

// Completed returns the names of the steps that succeeded in a run or were carried over from an earlier one.
//
// Carried over steps are skipped without an error. Steps skipped by cancellation carry the cause and are not completed.
// Resuming a run skips these, so a resumed run can itself be resumed.
func (r *StepRepository) Completed(runID string) (map[string]bool, error) {
	rows, err := r.db.Query(`SELECT name FROM steps WHERE run_id = ?
		AND (status = ? OR (status = ? AND (error_message IS NULL OR error_message = '')))`,
		runID, string(models.StatusSucceeded), string(models.StatusSkipped))
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		done[name] = true
	}
	return done, rows.Err()
}
