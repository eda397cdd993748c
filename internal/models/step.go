package models

import (
	"fmt"
	"strings"
	"time"
)

// Step is one statement or task executed inside a [Run].
//
// Steps are written before execution and finished afterwards, so a crashed run leaves a
// running step behind and every succeeded step marks a position that can be skipped on resume.
type Step struct {
	id           string
	runID        string
	position     int
	name         string
	statement    string
	status       Status
	attempts     int
	rowsAffected int64
	errorMessage string
	startedAt    time.Time
	finishedAt   *time.Time
	createdAt    time.Time
	updatedAt    time.Time
}

// NewStep creates a running [Step] at the given position in a run.
func NewStep(runID string, position int, name, statement string) *Step {
	now := time.Now().UTC()
	return &Step{
		runID:     runID,
		position:  position,
		name:      name,
		statement: statement,
		status:    StatusRunning,
		startedAt: now,
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Step) ID() string               { return s.id }
func (s *Step) RunID() string            { return s.runID }
func (s *Step) Position() int            { return s.position }
func (s *Step) Name() string             { return s.name }
func (s *Step) Statement() string        { return s.statement }
func (s *Step) Status() Status           { return s.status }
func (s *Step) Attempts() int            { return s.attempts }
func (s *Step) RowsAffected() int64      { return s.rowsAffected }
func (s *Step) ErrorMessage() string     { return s.errorMessage }
func (s *Step) StartedAt() time.Time     { return s.startedAt }
func (s *Step) FinishedAt() *time.Time   { return s.finishedAt }
func (s *Step) CreatedAt() time.Time     { return s.createdAt }
func (s *Step) UpdatedAt() time.Time     { return s.updatedAt }
func (s *Step) SetID(id string)          { s.id = id }
func (s *Step) SetAttempts(n int)        { s.attempts = n }
func (s *Step) SetRowsAffected(n int64)  { s.rowsAffected = n }
func (s *Step) SetUpdatedAt(t time.Time) { s.updatedAt = t }

// Restore sets the fields only the repository knows after a read.
func (s *Step) Restore(status Status, attempts int, rows int64, errorMessage string, startedAt time.Time, finishedAt *time.Time, createdAt time.Time) {
	s.status = status
	s.attempts = attempts
	s.rowsAffected = rows
	s.errorMessage = errorMessage
	s.startedAt = startedAt
	s.finishedAt = finishedAt
	s.createdAt = createdAt
}

// Finish marks the step with a terminal status. err is recorded when non-nil.
func (s *Step) Finish(status Status, err error) {
	now := time.Now().UTC()
	s.finishedAt = &now
	s.updatedAt = now
	s.status = status
	if err != nil {
		s.errorMessage = err.Error()
	}
}

func (s *Step) Validate() error {
	if strings.TrimSpace(s.runID) == "" {
		return fmt.Errorf("step run id is required")
	}
	if strings.TrimSpace(s.name) == "" {
		return fmt.Errorf("step name is required")
	}
	if s.position < 0 {
		return fmt.Errorf("step position must not be negative")
	}
	if !s.status.Valid() {
		return fmt.Errorf("invalid step status: %q", s.status)
	}
	return nil
}
