package repositories

import (
	"database/sql"
	"fmt"

	"github.com/desertthunder/dwh/internal/models"
)

// Journal groups the repositories commands use to record their work.
type Journal struct {
	Runs     *RunRepository
	Steps    *StepRepository
	Clusters *ClusterRepository
	Quality  *QualityRepository
}

// NewJournal creates a [Journal] over an opened and migrated journal database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{
		Runs:     NewRunRepository(db),
		Steps:    NewStepRepository(db),
		Clusters: NewClusterRepository(db),
		Quality:  NewQualityRepository(db),
	}
}

// StartRun creates and persists a running [models.Run].
func (j *Journal) StartRun(kind models.RunKind) (*models.Run, error) {
	run := models.NewRun(0, kind)
	if err := j.Runs.Create(run); err != nil {
		return nil, fmt.Errorf("failed to start %s run: %w", kind, err)
	}
	return run, nil
}

// FinishRun marks run terminal with runErr and persists it.
func (j *Journal) FinishRun(run *models.Run, runErr error) error {
	return j.Runs.Finish(run, runErr)
}

// StartStep creates and persists a running [models.Step].
func (j *Journal) StartStep(runID string, position int, name, statement string) (*models.Step, error) {
	step := models.NewStep(runID, position, name, statement)
	if err := j.Steps.Create(step); err != nil {
		return nil, err
	}
	return step, nil
}

// FinishStep marks step terminal and persists it.
func (j *Journal) FinishStep(step *models.Step, status models.Status, stepErr error) error {
	step.Finish(status, stepErr)
	return j.Steps.Update(step)
}

// Succeeded returns the names of the steps that succeeded in runID.
func (j *Journal) Succeeded(runID string) (map[string]bool, error) {
	return j.Steps.Succeeded(runID)
}

// Completed returns the names of the steps that succeeded in runID or were carried over into it.
func (j *Journal) Completed(runID string) (map[string]bool, error) {
	return j.Steps.Completed(runID)
}

// RecordQuality persists a data quality observation.
func (j *Journal) RecordQuality(runID, table string, count int64, passed bool, message string) error {
	return j.Quality.Create(models.NewQualityResult(runID, table, count, passed, message))
}
