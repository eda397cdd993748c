package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
)

// Check is a custom assertion: the first column of the first row of SQL must equal Expected.
type Check struct {
	Name     string
	SQL      string
	Expected int64
}

// QualityRecorder persists quality observations. Implemented by repositories.Journal.
type QualityRecorder interface {
	RecordQuality(runID, table string, count int64, passed bool, message string) error
}

// DataQuality fails when any table is empty or any [Check] does not match.
//
// Every table and check is inspected before failing, so one run reports all problems.
type DataQuality struct {
	TaskID   string
	Hook     Hook
	Tables   []string
	Checks   []Check
	Recorder QualityRecorder
}

func (o *DataQuality) ID() string { return o.TaskID }

func (o *DataQuality) Describe() string {
	return fmt.Sprintf("row count checks on %d tables, %d custom checks", len(o.Tables), len(o.Checks))
}

func (o *DataQuality) Execute(ctx context.Context, tc *tasks.TaskContext) error {
	var errs []error

	for _, table := range o.Tables {
		tc.Logger.Info("inspecting record count", "table", table)
		count, err := o.first(ctx, warehouse.CountSQL(table))
		switch {
		case err != nil:
			err = fmt.Errorf("%w: %s did not return any results: %w", shared.ErrDataQuality, table, err)
		case count < 1:
			err = fmt.Errorf("%w: %s has 0 rows", shared.ErrDataQuality, table)
		}
		o.record(tc, table, count, err)
		if err != nil {
			tc.Logger.Error("data quality check failed", "table", table, "error", err)
			errs = append(errs, err)
			continue
		}
		tc.Logger.Info("data quality check passed", "table", table, "rows", count)
	}

	for _, c := range o.Checks {
		got, err := o.first(ctx, c.SQL)
		switch {
		case err != nil:
			err = fmt.Errorf("%w: %s: %w", shared.ErrDataQuality, c.Name, err)
		case got != c.Expected:
			err = fmt.Errorf("%w: %s: got %d, want %d", shared.ErrDataQuality, c.Name, got, c.Expected)
		}
		o.record(tc, c.Name, got, err)
		if err != nil {
			tc.Logger.Error("data quality check failed", "check", c.Name, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// first returns the first value of the first row, failing when there is none.
func (o *DataQuality) first(ctx context.Context, query string) (int64, error) {
	records, err := o.Hook.GetRecords(ctx, query)
	if err != nil {
		return 0, err
	}
	if len(records) < 1 || len(records[0]) < 1 {
		return 0, errors.New("no rows returned")
	}
	return asInt64(records[0][0])
}

func (o *DataQuality) record(tc *tasks.TaskContext, name string, count int64, checkErr error) {
	if o.Recorder == nil {
		return
	}
	message := "ok"
	if checkErr != nil {
		message = checkErr.Error()
	}
	if err := o.Recorder.RecordQuality(tc.RunID, name, count, checkErr == nil, message); err != nil {
		tc.Logger.Warn("failed to journal quality result", "table", name, "error", err)
	}
}
