package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
)

// Describer is implemented by operators that can summarize their work for the journal.
type Describer interface {
	Describe() string
}

// TaskResult is the terminal state of one task in a run.
type TaskResult struct {
	TaskID     string
	Status     models.Status
	Attempts   int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the task ran, across all attempts.
func (r TaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunResult collects the outcome of [Executor.Run].
type RunResult struct {
	RunID         string
	DAGID         string
	ExecutionDate time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	Tasks         []TaskResult // Topological order
}

// Task returns the result for id.
func (r *RunResult) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}

// Counts tallies task results by status.
func (r *RunResult) Counts() map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, t := range r.Tasks {
		counts[t.Status]++
	}
	return counts
}

// Status is succeeded only when no task failed and none were skipped by cancellation.
func (r *RunResult) Status() models.Status {
	status := models.StatusSucceeded
	for _, t := range r.Tasks {
		switch t.Status {
		case models.StatusFailed, models.StatusUpstreamFailed:
			return models.StatusFailed
		case models.StatusSkipped:
			if t.Err != nil {
				status = models.StatusSkipped
			}
		}
	}
	return status
}

// Err joins the errors of failed tasks, or returns nil.
func (r *RunResult) Err() error {
	var errs []error
	for _, t := range r.Tasks {
		if t.Status == models.StatusFailed {
			errs = append(errs, fmt.Errorf("%w: %s: %w", shared.ErrTaskFailed, t.TaskID, t.Err))
		}
	}
	return errors.Join(errs...)
}

// ExecutorOpts configures an [Executor].
type ExecutorOpts struct {
	Retries        int           // Extra attempts after the first failure
	RetryDelay     time.Duration // Constant delay between attempts
	MaxActiveTasks int           // Concurrency bound, defaults to 1
	Recorder       Recorder      // Step journal, defaults to [NopRecorder]
	Logger         *log.Logger
}

// Executor runs a [DAG] once per execution date.
type Executor struct {
	retries    int
	retryDelay time.Duration
	maxActive  int
	recorder   Recorder
	logger     *log.Logger
}

// NewExecutor creates an [Executor] from opts.
func NewExecutor(opts ExecutorOpts) *Executor {
	e := &Executor{
		retries:    max(opts.Retries, 0),
		retryDelay: max(opts.RetryDelay, 0),
		maxActive:  max(opts.MaxActiveTasks, 1),
		recorder:   opts.Recorder,
		logger:     opts.Logger,
	}
	if e.recorder == nil {
		e.recorder = NopRecorder{}
	}
	if e.logger == nil {
		e.logger = shared.NewLogger(io.Discard)
	}
	return e
}

type scheduled struct {
	id       string
	position int
}

// Run executes every task of dag whose upstream tasks all succeeded.
//
// Task failures do not abort the run: independent branches keep going, and only the failed task's downstream
// closure is marked upstream_failed. Cancelling ctx stops new tasks from starting; tasks that never started are
// marked skipped. The returned error is [RunResult.Err], or a DAG validation error with a nil result.
func (e *Executor) Run(ctx context.Context, dag *DAG, runID string, execDate time.Time, progress chan<- ProgressUpdate) (*RunResult, error) {
	return e.run(ctx, dag, runID, execDate, nil, progress)
}

// Resume runs dag as a new run, skipping the tasks that completed in the journaled run fromRunID.
//
// Skipped tasks satisfy their downstream dependencies as if they had succeeded.
func (e *Executor) Resume(ctx context.Context, dag *DAG, runID, fromRunID string, execDate time.Time, progress chan<- ProgressUpdate) (*RunResult, error) {
	completed, err := e.recorder.Completed(fromRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed tasks of %s: %w", fromRunID, err)
	}
	e.logger.Info("resuming run", "from", fromRunID, "completed", len(completed))
	return e.run(ctx, dag, runID, execDate, completed, progress)
}

func (e *Executor) run(ctx context.Context, dag *DAG, runID string, execDate time.Time, completed map[string]bool, progress chan<- ProgressUpdate) (*RunResult, error) {
	order, err := dag.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	total := len(order)
	position := make(map[string]int, total)
	remaining := make(map[string]int, total)
	for i, id := range order {
		position[id] = i
		remaining[id] = len(dag.upstream[id])
	}

	results := make(map[string]TaskResult, total)
	result := &RunResult{RunID: runID, DAGID: dag.ID(), ExecutionDate: execDate, StartedAt: time.Now()}

	var ready []scheduled
	for _, id := range order {
		if remaining[id] == 0 {
			ready = append(ready, scheduled{id: id, position: position[id]})
		}
	}

	done := make(chan TaskResult)
	running, finished := 0, 0

	for finished < total {
		for len(ready) > 0 && running < e.maxActive && ctx.Err() == nil {
			next := ready[0]
			ready = ready[1:]
			op := dag.operators[next.id]
			running++
			if completed[next.id] {
				go func() {
					res := TaskResult{TaskID: next.id, Status: models.StatusSkipped}
					e.recordTerminal(runID, next.position, res)
					e.logger.Info("skipping completed task", "task", next.id)
					done <- res
				}()
				continue
			}
			go func() {
				done <- e.runTask(ctx, dag.ID(), op, runID, execDate, next.position, total, progress)
			}()
		}
		if running == 0 {
			break
		}

		res := <-done
		running--
		finished++
		results[res.TaskID] = res
		Send(progress, taskFinishedUpdate(finished, total, res))

		if !satisfied(res) {
			for _, id := range e.failDownstream(dag, res.TaskID, runID, position, results) {
				finished++
				Send(progress, taskFinishedUpdate(finished, total, results[id]))
			}
			continue
		}

		for _, down := range dag.downstream[res.TaskID] {
			remaining[down]--
			if _, decided := results[down]; decided {
				continue
			}
			if remaining[down] == 0 {
				ready = append(ready, scheduled{id: down, position: position[down]})
			}
		}
	}

	for _, id := range order {
		if _, ok := results[id]; ok {
			continue
		}
		res := TaskResult{TaskID: id, Status: models.StatusSkipped, Err: context.Cause(ctx)}
		e.recordTerminal(runID, position[id], res)
		results[id] = res
	}

	for _, id := range order {
		result.Tasks = append(result.Tasks, results[id])
	}
	result.FinishedAt = time.Now()
	return result, result.Err()
}

// satisfied reports whether res lets downstream tasks start.
func satisfied(res TaskResult) bool {
	return res.Status == models.StatusSucceeded || (res.Status == models.StatusSkipped && res.Err == nil)
}

// failDownstream marks the transitive downstream of failed as upstream_failed, returning the ids it marked.
func (e *Executor) failDownstream(dag *DAG, failed, runID string, position map[string]int, results map[string]TaskResult) []string {
	var marked []string
	queue := append([]string(nil), dag.downstream[failed]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, decided := results[id]; decided {
			continue
		}
		res := TaskResult{
			TaskID: id,
			Status: models.StatusUpstreamFailed,
			Err:    fmt.Errorf("%w: %s", shared.ErrUpstreamFailed, failed),
		}
		results[id] = res
		e.recordTerminal(runID, position[id], res)
		e.logger.Warn("task not run", "task", id, "upstream", failed)
		marked = append(marked, id)
		queue = append(queue, dag.downstream[id]...)
	}
	return marked
}

func (e *Executor) recordTerminal(runID string, position int, res TaskResult) {
	step, err := e.recorder.StartStep(runID, position, res.TaskID, "")
	if err != nil {
		e.logger.Warn("failed to journal step", "task", res.TaskID, "error", err)
		return
	}
	if err := e.recorder.FinishStep(step, res.Status, res.Err); err != nil {
		e.logger.Warn("failed to journal step", "task", res.TaskID, "error", err)
	}
}

// runTask executes op with constant-delay retries and journals it as one step.
func (e *Executor) runTask(ctx context.Context, dagID string, op Operator, runID string, execDate time.Time, position, total int, progress chan<- ProgressUpdate) TaskResult {
	res := TaskResult{TaskID: op.ID(), StartedAt: time.Now()}

	var statement string
	if d, ok := op.(Describer); ok {
		statement = shared.Preview(d.Describe(), 200)
	}
	step, err := e.recorder.StartStep(runID, position, op.ID(), statement)
	if err != nil {
		e.logger.Warn("failed to journal step", "task", op.ID(), "error", err)
	}

	attempt := func() (struct{}, error) {
		res.Attempts++
		Send(progress, taskStartedUpdate(position+1, total, op.ID(), res.Attempts))

		tc := &TaskContext{
			RunID:         runID,
			DAGID:         dagID,
			TaskID:        op.ID(),
			ExecutionDate: execDate,
			Attempt:       res.Attempts,
			Logger:        shared.WithLogger(e.logger, "task", op.ID(), "attempt", res.Attempts),
		}
		if err := op.Execute(ctx, tc); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			tc.Logger.Warn("task attempt failed", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.retryDelay)),
		backoff.WithMaxTries(uint(e.retries+1)),
		backoff.WithMaxElapsedTime(24*time.Hour),
	)

	res.FinishedAt = time.Now()
	res.Status = models.StatusSucceeded
	if err != nil {
		res.Status = models.StatusFailed
		res.Err = err
		e.logger.Error("task failed", "task", op.ID(), "attempts", res.Attempts, "error", err)
	} else {
		e.logger.Info("task succeeded", "task", op.ID(), "attempts", res.Attempts, "duration", res.Duration())
	}

	if step != nil {
		step.SetAttempts(res.Attempts)
		if err := e.recorder.FinishStep(step, res.Status, res.Err); err != nil {
			e.logger.Warn("failed to journal step", "task", op.ID(), "error", err)
		}
	}
	return res
}

// OperatorFunc adapts a function into an [Operator].
type OperatorFunc struct {
	TaskID string
	Fn     func(ctx context.Context, tc *TaskContext) error
}

func (o OperatorFunc) ID() string { return o.TaskID }

func (o OperatorFunc) Execute(ctx context.Context, tc *TaskContext) error {
	if o.Fn == nil {
		return nil
	}
	return o.Fn(ctx, tc)
}
