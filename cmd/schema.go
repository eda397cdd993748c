package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/dwh/internal/formatter"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/repositories"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
	"github.com/urfave/cli/v3"
)

func (r *Runner) statementRunner(ctx context.Context, journal *repositories.Journal, runID string) (*warehouse.Runner, error) {
	db, err := r.openWarehouse(ctx)
	if err != nil {
		return nil, err
	}
	return warehouse.NewRunner(db, warehouse.RunnerOpts{
		Recorder: journal,
		Logger:   shared.WithLogger(r.logger, "run_id", runID),
	}), nil
}

// SchemaCreate drops and recreates every staging and analytics table.
func (r *Runner) SchemaCreate(ctx context.Context, cmd *cli.Command) error {
	var executed int
	err := r.journaled(models.RunSchema, func(journal *repositories.Journal, runID string) error {
		runner, err := r.statementRunner(ctx, journal, runID)
		if err != nil {
			return err
		}

		_, err = r.track(ctx, "Creating tables", func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
			dropped, err := runner.Exec(ctx, runID, tasks.DropTables, warehouse.DropTableQueries(), nil, progress)
			executed += dropped.Executed
			if err != nil {
				return nil, err
			}
			created, err := runner.Exec(ctx, runID, tasks.CreateTables, warehouse.CreateTableQueries(), nil, progress)
			executed += created.Executed
			return nil, err
		})
		return err
	})
	if err != nil {
		return err
	}
	return r.writePlain("✓ Schema created (%d statements)\n", executed)
}

// SchemaETL copies the staging tables from S3 and inserts into the analytics tables.
//
// With --resume, statements completed in the referenced run are journaled as skipped.
func (r *Runner) SchemaETL(ctx context.Context, cmd *cli.Command) error {
	copies, err := warehouse.CopyTableQueries(r.config)
	if err != nil {
		return err
	}
	if r.config.IAMRole.ARN == "" && (r.config.AWS.Key == "" || r.config.AWS.Secret == "") {
		return fmt.Errorf("%w: set iam_role.arn or [aws] keys for COPY", shared.ErrMissingCredentials)
	}

	var total warehouse.ExecResult
	err = r.journaled(models.RunETL, func(journal *repositories.Journal, runID string) error {
		skip := map[string]bool{}
		if ref := cmd.String("resume"); ref != "" {
			previous, err := findRun(journal, ref)
			if err != nil {
				return err
			}
			if skip, err = journal.Completed(previous.ID()); err != nil {
				return err
			}
			r.logger.Info("resuming run", "from", previous.ID(), "sequence", previous.Sequence(), "completed", len(skip))
		}

		runner, err := r.statementRunner(ctx, journal, runID)
		if err != nil {
			return err
		}

		_, err = r.track(ctx, "Loading warehouse", func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
			for _, phase := range []struct {
				phase tasks.Phase
				stmts []warehouse.Statement
			}{
				{tasks.CopyTables, copies},
				{tasks.InsertTables, warehouse.InsertTableQueries()},
			} {
				res, err := runner.Exec(ctx, runID, phase.phase, phase.stmts, skip, progress)
				total.Executed += res.Executed
				total.Skipped += res.Skipped
				total.Rows += res.Rows
				if err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return err
	}
	return r.writePlain("✓ ETL complete: %d executed, %d skipped, %d rows\n", total.Executed, total.Skipped, total.Rows)
}

// SchemaCounts prints the row count of each table.
func (r *Runner) SchemaCounts(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openWarehouse(ctx)
	if err != nil {
		return err
	}
	runner := warehouse.NewRunner(db, warehouse.RunnerOpts{Logger: r.logger})

	result, err := r.track(ctx, "Counting rows", func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
		return runner.Counts(ctx, cmd.StringSlice("table"), progress)
	})
	if err != nil {
		return err
	}
	return r.render(formatter.Counts(result.([]warehouse.TableCount), r.format))
}
