package models

import (
	"fmt"
	"time"
)

// RunKind names the command family a run belongs to.
type RunKind string

const (
	RunProvision RunKind = "provision"
	RunTeardown  RunKind = "teardown"
	RunSchema    RunKind = "schema"
	RunETL       RunKind = "etl"
	RunLake      RunKind = "lake"
	RunPipeline  RunKind = "pipeline"
	RunQuality   RunKind = "quality"
)

// Run is a single journaled command invocation.
type Run struct {
	id           string
	sequence     int
	kind         RunKind
	status       Status
	errorMessage string
	startedAt    time.Time
	finishedAt   *time.Time
	createdAt    time.Time
	updatedAt    time.Time
}

// NewRun creates a running [Run] of the given kind, started now.
func NewRun(sequence int, kind RunKind) *Run {
	now := time.Now().UTC()
	return &Run{
		sequence:  sequence,
		kind:      kind,
		status:    StatusRunning,
		startedAt: now,
		createdAt: now,
		updatedAt: now,
	}
}

func (r *Run) ID() string               { return r.id }
func (r *Run) Sequence() int            { return r.sequence }
func (r *Run) Kind() RunKind            { return r.kind }
func (r *Run) Status() Status           { return r.status }
func (r *Run) ErrorMessage() string     { return r.errorMessage }
func (r *Run) StartedAt() time.Time     { return r.startedAt }
func (r *Run) FinishedAt() *time.Time   { return r.finishedAt }
func (r *Run) CreatedAt() time.Time     { return r.createdAt }
func (r *Run) UpdatedAt() time.Time     { return r.updatedAt }
func (r *Run) SetID(id string)          { r.id = id }
func (r *Run) SetSequence(seq int)      { r.sequence = seq }
func (r *Run) SetUpdatedAt(t time.Time) { r.updatedAt = t }

// Restore sets the fields only the repository knows after a read.
func (r *Run) Restore(status Status, errorMessage string, startedAt time.Time, finishedAt *time.Time, createdAt time.Time) {
	r.status = status
	r.errorMessage = errorMessage
	r.startedAt = startedAt
	r.finishedAt = finishedAt
	r.createdAt = createdAt
}

// Finish marks the run terminal. A nil err means success.
func (r *Run) Finish(err error) {
	now := time.Now().UTC()
	r.finishedAt = &now
	r.updatedAt = now
	if err != nil {
		r.status = StatusFailed
		r.errorMessage = err.Error()
		return
	}
	r.status = StatusSucceeded
	r.errorMessage = ""
}

// Duration is the wall time of a finished run, or the time elapsed so far.
func (r *Run) Duration() time.Duration {
	if r.finishedAt == nil {
		return time.Since(r.startedAt)
	}
	return r.finishedAt.Sub(r.startedAt)
}

func (r *Run) Validate() error {
	switch r.kind {
	case RunProvision, RunTeardown, RunSchema, RunETL, RunLake, RunPipeline, RunQuality:
	default:
		return fmt.Errorf("invalid run kind: %q", r.kind)
	}
	if !r.status.Valid() {
		return fmt.Errorf("invalid run status: %q", r.status)
	}
	if r.startedAt.IsZero() {
		return fmt.Errorf("run start time is required")
	}
	return nil
}
