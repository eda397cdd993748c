package tasks

import "github.com/desertthunder/dwh/internal/models"

// Recorder journals steps of a run.
//
// Implemented by repositories.Journal; [NopRecorder] discards everything.
type Recorder interface {
	StartStep(runID string, position int, name, statement string) (*models.Step, error)
	FinishStep(step *models.Step, status models.Status, err error) error
	Completed(runID string) (map[string]bool, error)
}

// NopRecorder is a [Recorder] that keeps nothing.
type NopRecorder struct{}

func (NopRecorder) StartStep(runID string, position int, name, statement string) (*models.Step, error) {
	return models.NewStep(runID, position, name, statement), nil
}

func (NopRecorder) FinishStep(step *models.Step, status models.Status, err error) error {
	step.Finish(status, err)
	return nil
}

func (NopRecorder) Completed(string) (map[string]bool, error) {
	return map[string]bool{}, nil
}
