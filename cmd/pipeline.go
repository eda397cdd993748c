package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/dwh/internal/formatter"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/operators"
	"github.com/desertthunder/dwh/internal/repositories"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/urfave/cli/v3"
)

// qualityChecks run after the per-table row counts.
var qualityChecks = []operators.Check{
	{
		Name:     "songplays_without_time",
		SQL:      "SELECT COUNT(*) FROM songplays sp LEFT JOIN time t ON sp.start_time = t.start_time WHERE t.start_time IS NULL",
		Expected: 0,
	},
	{
		Name:     "duplicate_users",
		SQL:      "SELECT COUNT(*) FROM (SELECT user_id FROM users GROUP BY user_id HAVING COUNT(*) > 1) dup",
		Expected: 0,
	},
}

// parseExecutionDate accepts RFC 3339 or a plain date; an empty value means now.
func parseExecutionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC().Truncate(time.Hour), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: --date %q is not RFC 3339 or YYYY-MM-DD", shared.ErrInvalidFlag, s)
}

func (r *Runner) executor(journal *repositories.Journal, runID string) *tasks.Executor {
	return tasks.NewExecutor(tasks.ExecutorOpts{
		Retries:        r.config.Pipeline.Retries,
		RetryDelay:     r.config.Pipeline.RetryDelay,
		MaxActiveTasks: r.config.Pipeline.MaxActiveTasks,
		Recorder:       journal,
		Logger:         shared.WithLogger(r.logger, "run_id", runID),
	})
}

// runDAG journals a run of kind and executes the DAG built by build, rendering the result.
func (r *Runner) runDAG(ctx context.Context, kind models.RunKind, execDate time.Time, resume string, build func(operators.Hook, operators.DAGOpts) (*tasks.DAG, error)) error {
	db, err := r.openWarehouse(ctx)
	if err != nil {
		return err
	}
	hook := operators.NewSQLHook(db)

	var result *tasks.RunResult
	runErr := r.journaled(kind, func(journal *repositories.Journal, runID string) error {
		dag, err := build(hook, operators.DAGOpts{Quality: journal, Checks: qualityChecks})
		if err != nil {
			return err
		}
		exec := r.executor(journal, runID)

		var from string
		if resume != "" {
			previous, err := findRun(journal, resume)
			if err != nil {
				return err
			}
			from = previous.ID()
		}

		res, err := r.track(ctx, "Running "+dag.ID(), func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
			if from != "" {
				return exec.Resume(ctx, dag, runID, from, execDate, progress)
			}
			return exec.Run(ctx, dag, runID, execDate, progress)
		})
		if rr, ok := res.(*tasks.RunResult); ok && rr != nil {
			result = rr
		}
		return err
	})

	if result != nil {
		if err := r.render(formatter.RunResult(result, r.format)); err != nil {
			return err
		}
	}
	return runErr
}

// PipelineRun executes the song-play DAG for one execution date.
func (r *Runner) PipelineRun(ctx context.Context, cmd *cli.Command) error {
	execDate, err := parseExecutionDate(cmd.String("date"))
	if err != nil {
		return err
	}
	if err := r.config.Validate("s3"); err != nil {
		return err
	}

	r.logger.Info("starting pipeline", "dag", operators.SparkifyDAGID, "execution_date", execDate.Format(time.RFC3339))
	return r.runDAG(ctx, models.RunPipeline, execDate, cmd.String("resume"), func(hook operators.Hook, opts operators.DAGOpts) (*tasks.DAG, error) {
		return operators.SparkifyDAG(r.config, hook, opts)
	})
}

// PipelineQuality runs only the data quality operator.
func (r *Runner) PipelineQuality(ctx context.Context, cmd *cli.Command) error {
	return r.runDAG(ctx, models.RunQuality, time.Now().UTC(), "", func(hook operators.Hook, opts operators.DAGOpts) (*tasks.DAG, error) {
		return operators.QualityDAG(r.config, hook, opts)
	})
}

// PipelineGraph prints the DAG's tasks grouped into layers that may run together.
func (r *Runner) PipelineGraph(ctx context.Context, cmd *cli.Command) error {
	dag, err := operators.SparkifyDAG(r.config, operators.NewSQLHook(nil), operators.DAGOpts{Checks: qualityChecks})
	if err != nil {
		return err
	}
	layers, err := dag.Layers()
	if err != nil {
		return err
	}

	if err := r.writePlain("%s (%d tasks)\n", dag.ID(), dag.Len()); err != nil {
		return err
	}
	for i, layer := range layers {
		if err := r.writePlain("%2d. %s\n", i+1, strings.Join(layer, ", ")); err != nil {
			return err
		}
	}
	return nil
}
