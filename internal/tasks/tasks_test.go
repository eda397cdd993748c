package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
	tu "github.com/desertthunder/dwh/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(id string) Operator {
	return OperatorFunc{TaskID: id}
}

func failing(id string, err error) Operator {
	return OperatorFunc{TaskID: id, Fn: func(context.Context, *TaskContext) error { return err }}
}

type memoryRecorder struct {
	mu    sync.Mutex
	steps []*models.Step
}

func (m *memoryRecorder) StartStep(runID string, position int, name, statement string) (*models.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := models.NewStep(runID, position, name, statement)
	m.steps = append(m.steps, step)
	return step, nil
}

func (m *memoryRecorder) FinishStep(step *models.Step, status models.Status, err error) error {
	step.Finish(status, err)
	return nil
}

func (m *memoryRecorder) Completed(runID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, s := range m.steps {
		if s.RunID() != runID {
			continue
		}
		if s.Status() == models.StatusSucceeded || (s.Status() == models.StatusSkipped && s.ErrorMessage() == "") {
			out[s.Name()] = true
		}
	}
	return out, nil
}

func TestDAG(t *testing.T) {
	t.Run("Layers", func(t *testing.T) {
		dag := NewDAG("sparkify")
		require.NoError(t, dag.Add(noop("begin"), noop("stage_events"), noop("stage_songs"), noop("load_songplays"), noop("end")))
		require.NoError(t, dag.SetDownstream("begin", "stage_events", "stage_songs"))
		require.NoError(t, dag.SetDownstream("stage_events", "load_songplays"))
		require.NoError(t, dag.SetDownstream("stage_songs", "load_songplays"))
		require.NoError(t, dag.Chain("load_songplays", "end"))

		layers, err := dag.Layers()
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"begin"},
			{"stage_events", "stage_songs"},
			{"load_songplays"},
			{"end"},
		}, layers)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		dag := NewDAG("d")
		err := dag.Add(noop("a"), noop("a"))
		assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	})

	t.Run("UnknownTask", func(t *testing.T) {
		dag := NewDAG("d")
		require.NoError(t, dag.Add(noop("a")))
		assert.ErrorIs(t, dag.SetDownstream("a", "missing"), shared.ErrUnknownTask)
		assert.ErrorIs(t, dag.SetDownstream("missing", "a"), shared.ErrUnknownTask)
	})

	t.Run("Cycle", func(t *testing.T) {
		dag := NewDAG("d")
		require.NoError(t, dag.Add(noop("a"), noop("b"), noop("c")))
		require.NoError(t, dag.Chain("a", "b", "c"))
		require.NoError(t, dag.SetDownstream("c", "a"))

		_, err := dag.Layers()
		assert.ErrorIs(t, err, shared.ErrCycleDetected)
		assert.ErrorIs(t, dag.SetDownstream("b", "b"), shared.ErrCycleDetected)
	})

	t.Run("DuplicateEdgeIgnored", func(t *testing.T) {
		dag := NewDAG("d")
		require.NoError(t, dag.Add(noop("a"), noop("b")))
		require.NoError(t, dag.SetDownstream("a", "b"))
		require.NoError(t, dag.SetDownstream("a", "b"))
		assert.Equal(t, []string{"a"}, dag.Upstream("b"))
	})
}

func TestExecutor(t *testing.T) {
	execDate := time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC)

	t.Run("RunsInDependencyOrder", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string
		record := func(id string) Operator {
			return OperatorFunc{TaskID: id, Fn: func(_ context.Context, tc *TaskContext) error {
				assert.Equal(t, execDate, tc.ExecutionDate)
				assert.Equal(t, "run-1", tc.RunID)
				mu.Lock()
				seen = append(seen, tc.TaskID)
				mu.Unlock()
				return nil
			}}
		}

		dag := NewDAG("d")
		require.NoError(t, dag.Add(record("a"), record("b"), record("c")))
		require.NoError(t, dag.Chain("a", "b", "c"))

		rec := &memoryRecorder{}
		exec := NewExecutor(ExecutorOpts{MaxActiveTasks: 4, Recorder: rec})
		result, err := exec.Run(context.Background(), dag, "run-1", execDate, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, seen)
		assert.Equal(t, models.StatusSucceeded, result.Status())
		assert.Len(t, rec.steps, 3)

		succeeded, _ := rec.Completed("run-1")
		assert.True(t, succeeded["c"])
	})

	t.Run("RetriesThenSucceeds", func(t *testing.T) {
		var calls atomic.Int32
		flaky := OperatorFunc{TaskID: "flaky", Fn: func(context.Context, *TaskContext) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		}}

		dag := NewDAG("d")
		require.NoError(t, dag.Add(flaky))

		exec := NewExecutor(ExecutorOpts{Retries: 3, RetryDelay: time.Millisecond})
		result, err := exec.Run(context.Background(), dag, "run", execDate, nil)
		require.NoError(t, err)

		res, ok := result.Task("flaky")
		require.True(t, ok)
		assert.Equal(t, models.StatusSucceeded, res.Status)
		assert.Equal(t, 3, res.Attempts)
	})

	t.Run("FailureMarksDownstream", func(t *testing.T) {
		boom := errors.New("boom")
		dag := NewDAG("d")
		require.NoError(t, dag.Add(noop("begin"), failing("stage", boom), noop("load"), noop("check"), noop("side")))
		require.NoError(t, dag.Chain("begin", "stage", "load", "check"))
		require.NoError(t, dag.SetDownstream("begin", "side"))

		exec := NewExecutor(ExecutorOpts{Retries: 1, MaxActiveTasks: 2})
		result, err := exec.Run(context.Background(), dag, "run", execDate, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrTaskFailed)
		assert.ErrorIs(t, err, boom)

		counts := result.Counts()
		assert.Equal(t, 2, counts[models.StatusSucceeded])
		assert.Equal(t, 1, counts[models.StatusFailed])
		assert.Equal(t, 2, counts[models.StatusUpstreamFailed])

		stage, _ := result.Task("stage")
		assert.Equal(t, 2, stage.Attempts)

		check, _ := result.Task("check")
		assert.ErrorIs(t, check.Err, shared.ErrUpstreamFailed)
		assert.Equal(t, 0, check.Attempts)
		assert.Equal(t, models.StatusFailed, result.Status())
	})

	t.Run("BoundsConcurrency", func(t *testing.T) {
		var active, peak atomic.Int32
		slow := func(id string) Operator {
			return OperatorFunc{TaskID: id, Fn: func(context.Context, *TaskContext) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil
			}}
		}

		dag := NewDAG("d")
		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			require.NoError(t, dag.Add(slow(id)))
		}

		exec := NewExecutor(ExecutorOpts{MaxActiveTasks: 2})
		_, err := exec.Run(context.Background(), dag, "run", execDate, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("CancelledSkipsRemaining", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		first := OperatorFunc{TaskID: "first", Fn: func(context.Context, *TaskContext) error {
			cancel()
			return nil
		}}

		dag := NewDAG("d")
		require.NoError(t, dag.Add(first, noop("second")))
		require.NoError(t, dag.Chain("first", "second"))

		exec := NewExecutor(ExecutorOpts{})
		result, err := exec.Run(ctx, dag, "run", execDate, nil)
		require.NoError(t, err)

		second, _ := result.Task("second")
		assert.Equal(t, models.StatusSkipped, second.Status)
		assert.Equal(t, models.StatusSkipped, result.Status())
	})

	t.Run("ReportsProgress", func(t *testing.T) {
		dag := NewDAG("d")
		require.NoError(t, dag.Add(noop("a"), noop("b")))

		progress := make(chan ProgressUpdate, 16)
		exec := NewExecutor(ExecutorOpts{})
		_, err := exec.Run(context.Background(), dag, "run", execDate, progress)
		require.NoError(t, err)
		close(progress)

		var finished int
		for update := range progress {
			assert.Equal(t, RunTask, update.Phase)
			if _, ok := update.Data.(TaskResult); ok {
				finished++
			}
		}
		assert.Equal(t, 2, finished)
	})

	t.Run("ResumeSkipsCompletedTasks", func(t *testing.T) {
		var calls sync.Map
		counting := func(id string, err error) Operator {
			return OperatorFunc{TaskID: id, Fn: func(context.Context, *TaskContext) error {
				n, _ := calls.LoadOrStore(id, new(atomic.Int32))
				n.(*atomic.Int32).Add(1)
				return err
			}}
		}

		rec := &memoryRecorder{}
		first := NewDAG("d")
		require.NoError(t, first.Add(counting("stage", nil), counting("load", errors.New("boom")), counting("check", nil)))
		require.NoError(t, first.Chain("stage", "load", "check"))

		_, err := NewExecutor(ExecutorOpts{Recorder: rec}).Run(context.Background(), first, "run-1", execDate, nil)
		require.Error(t, err)

		second := NewDAG("d")
		require.NoError(t, second.Add(counting("stage", nil), counting("load", nil), counting("check", nil)))
		require.NoError(t, second.Chain("stage", "load", "check"))

		result, err := NewExecutor(ExecutorOpts{Recorder: rec}).Resume(context.Background(), second, "run-2", "run-1", execDate, nil)
		require.NoError(t, err)

		stage, _ := result.Task("stage")
		assert.Equal(t, models.StatusSkipped, stage.Status)
		assert.Equal(t, models.StatusSucceeded, result.Status())

		n, _ := calls.Load("stage")
		assert.Equal(t, int32(1), n.(*atomic.Int32).Load())
		n, _ = calls.Load("check")
		assert.Equal(t, int32(1), n.(*atomic.Int32).Load())
	})

	t.Run("ResumeThroughJournal", func(t *testing.T) {
		// stage → load, each counting its executions
		build := func(calls map[string]*atomic.Int32, stage, load func(context.Context) error) *DAG {
			op := func(id string, fn func(context.Context) error) Operator {
				calls[id] = new(atomic.Int32)
				return OperatorFunc{TaskID: id, Fn: func(ctx context.Context, _ *TaskContext) error {
					calls[id].Add(1)
					if fn == nil {
						return nil
					}
					return fn(ctx)
				}}
			}
			dag := NewDAG("d")
			require.NoError(t, dag.Add(op("stage", stage), op("load", load)))
			require.NoError(t, dag.Chain("stage", "load"))
			return dag
		}

		t.Run("from a cancelled run reruns the tasks that never started", func(t *testing.T) {
			_, journal := tu.NewJournal(t)
			first, err := journal.StartRun(models.RunPipeline)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			calls := map[string]*atomic.Int32{}
			dag := build(calls, func(context.Context) error { cancel(); return nil }, nil)

			result, _ := NewExecutor(ExecutorOpts{Recorder: journal}).Run(ctx, dag, first.ID(), execDate, nil)
			load, _ := result.Task("load")
			require.Equal(t, models.StatusSkipped, load.Status)
			require.ErrorIs(t, load.Err, context.Canceled)
			assert.Equal(t, models.StatusSkipped, result.Status())

			done, err := journal.Completed(first.ID())
			require.NoError(t, err)
			assert.Equal(t, map[string]bool{"stage": true}, done)

			second, err := journal.StartRun(models.RunPipeline)
			require.NoError(t, err)
			calls = map[string]*atomic.Int32{}
			result, err = NewExecutor(ExecutorOpts{Recorder: journal}).Resume(context.Background(), build(calls, nil, nil), second.ID(), first.ID(), execDate, nil)
			require.NoError(t, err)

			assert.Equal(t, models.StatusSucceeded, result.Status())
			load, _ = result.Task("load")
			assert.Equal(t, models.StatusSucceeded, load.Status)
			assert.Equal(t, int32(0), calls["stage"].Load())
			assert.Equal(t, int32(1), calls["load"].Load())

			done, err = journal.Completed(second.ID())
			require.NoError(t, err)
			assert.Equal(t, map[string]bool{"stage": true, "load": true}, done)
		})

		t.Run("from a failed run reruns the failed task", func(t *testing.T) {
			_, journal := tu.NewJournal(t)
			first, err := journal.StartRun(models.RunPipeline)
			require.NoError(t, err)

			calls := map[string]*atomic.Int32{}
			dag := build(calls, nil, func(context.Context) error { return errors.New("S3ServiceException") })
			_, err = NewExecutor(ExecutorOpts{Recorder: journal}).Run(context.Background(), dag, first.ID(), execDate, nil)
			require.ErrorIs(t, err, shared.ErrTaskFailed)

			second, err := journal.StartRun(models.RunPipeline)
			require.NoError(t, err)
			calls = map[string]*atomic.Int32{}
			result, err := NewExecutor(ExecutorOpts{Recorder: journal}).Resume(context.Background(), build(calls, nil, nil), second.ID(), first.ID(), execDate, nil)
			require.NoError(t, err)

			assert.Equal(t, models.StatusSucceeded, result.Status())
			assert.Equal(t, int32(0), calls["stage"].Load())
			assert.Equal(t, int32(1), calls["load"].Load())
		})
	})

	t.Run("CycleRejected", func(t *testing.T) {
		dag := NewDAG("d")
		require.NoError(t, dag.Add(noop("a"), noop("b")))
		require.NoError(t, dag.SetDownstream("a", "b"))
		require.NoError(t, dag.SetDownstream("b", "a"))

		result, err := NewExecutor(ExecutorOpts{}).Run(context.Background(), dag, "run", execDate, nil)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, shared.ErrCycleDetected)
	})
}

func TestSend(t *testing.T) {
	t.Run("NilChannel", func(t *testing.T) {
		Send(nil, ProgressUpdate{Phase: RunTask})
	})

	t.Run("FullChannelDoesNotBlock", func(t *testing.T) {
		ch := make(chan ProgressUpdate, 1)
		Send(ch, ProgressUpdate{Step: 1})
		Send(ch, ProgressUpdate{Step: 2})
		assert.Equal(t, 1, (<-ch).Step)
	})

	t.Run("PhaseNames", func(t *testing.T) {
		assert.Equal(t, "copy_tables", CopyTables.String())
		assert.Equal(t, "quality_check", QualityCheck.String())
	})
}
