package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	_ "github.com/lib/pq"
)

// Open connects to the cluster with the Postgres wire protocol and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	return db, nil
}

// RunnerOpts configures a [Runner].
type RunnerOpts struct {
	Recorder tasks.Recorder
	Logger   *log.Logger
}

// Runner executes statement lists against the warehouse, committing each statement on its own.
//
// A Runner numbers journal steps across calls to Exec and is not safe for concurrent use.
type Runner struct {
	db       *sql.DB
	recorder tasks.Recorder
	logger   *log.Logger
	position int
}

// NewRunner creates a [Runner] over db.
func NewRunner(db *sql.DB, opts RunnerOpts) *Runner {
	r := &Runner{db: db, recorder: opts.Recorder, logger: opts.Logger}
	if r.recorder == nil {
		r.recorder = tasks.NopRecorder{}
	}
	if r.logger == nil {
		r.logger = shared.NewLogger(io.Discard)
	}
	return r
}

// ExecResult summarizes one call to [Runner.Exec].
type ExecResult struct {
	Executed int
	Skipped  int
	Rows     int64
}

// Exec runs stmts in order, each in its own transaction, stopping at the first failure.
//
// Statements named in skip are journaled as skipped without running. Earlier statements stay committed
// when a later one fails, and the returned error wraps [shared.ErrStatementFailed].
func (r *Runner) Exec(ctx context.Context, runID string, phase tasks.Phase, stmts []Statement, skip map[string]bool, progress chan<- tasks.ProgressUpdate) (ExecResult, error) {
	var result ExecResult
	total := len(stmts)

	for i, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		position := r.position
		r.position++
		tasks.Send(progress, tasks.StatementUpdate(phase, i+1, total, stmt.Name))

		step, err := r.recorder.StartStep(runID, position, stmt.Name, shared.Preview(stmt.SQL, 200))
		if err != nil {
			r.logger.Warn("failed to journal step", "statement", stmt.Name, "error", err)
		}

		if skip[stmt.Name] {
			r.logger.Info("skipping completed statement", "phase", phase, "statement", stmt.Name)
			r.finish(step, models.StatusSkipped, 0, nil)
			result.Skipped++
			continue
		}

		r.logger.Debug("executing statement", "phase", phase, "statement", stmt.Name, "sql", shared.Preview(stmt.SQL, 80))
		start := time.Now()
		rows, err := r.execOne(ctx, stmt.SQL)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", shared.ErrStatementFailed, stmt.Name, err)
			r.finish(step, models.StatusFailed, 0, err)
			r.logger.Error("statement failed", "statement", stmt.Name, "error", err)
			return result, err
		}

		r.finish(step, models.StatusSucceeded, rows, nil)
		r.logger.Info("statement committed", "statement", stmt.Name, "rows", rows, "duration", time.Since(start).Truncate(time.Millisecond))
		result.Executed++
		if rows > 0 {
			result.Rows += rows
		}
	}
	return result, nil
}

func (r *Runner) execOne(ctx context.Context, query string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return rows, nil
}

func (r *Runner) finish(step *models.Step, status models.Status, rows int64, err error) {
	if step == nil {
		return
	}
	if status != models.StatusSkipped {
		step.SetAttempts(1)
	}
	step.SetRowsAffected(max(rows, 0))
	if ferr := r.recorder.FinishStep(step, status, err); ferr != nil {
		r.logger.Warn("failed to journal step", "statement", step.Name(), "error", ferr)
	}
}

// TableCount is the row count of one table.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Counts runs SELECT COUNT(*) against each table; an empty list means every catalog table.
func (r *Runner) Counts(ctx context.Context, tables []string, progress chan<- tasks.ProgressUpdate) ([]TableCount, error) {
	if len(tables) == 0 {
		for _, t := range Catalog() {
			tables = append(tables, t.Name)
		}
	}
	counts := make([]TableCount, 0, len(tables))

	for i, table := range tables {
		tasks.Send(progress, tasks.StatementUpdate(tasks.CountTables, i+1, len(tables), table))

		var n int64
		if err := r.db.QueryRowContext(ctx, CountSQL(table)).Scan(&n); err != nil {
			return counts, fmt.Errorf("%w: count %s: %w", shared.ErrStatementFailed, table, err)
		}
		r.logger.Debug("counted rows", "table", table, "rows", n)
		counts = append(counts, TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
