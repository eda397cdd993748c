package operators

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
)

// KeyParams is the data an S3 key template is rendered with.
//
// A key such as "log_data/{{.Year}}/{{.Month}}" selects the partition for the execution date.
type KeyParams struct {
	ExecutionDate time.Time
	DS            string // YYYY-MM-DD
	Year          string
	Month         string // zero padded
	Day           string // zero padded
	RunID         string
}

func newKeyParams(tc *tasks.TaskContext) KeyParams {
	d := tc.ExecutionDate.UTC()
	return KeyParams{
		ExecutionDate: d,
		DS:            d.Format(time.DateOnly),
		Year:          d.Format("2006"),
		Month:         d.Format("01"),
		Day:           d.Format("02"),
		RunID:         tc.RunID,
	}
}

// RenderKey renders an S3 key template for tc.
func RenderKey(key string, tc *tasks.TaskContext) (string, error) {
	if !strings.Contains(key, "{{") {
		return key, nil
	}
	tmpl, err := template.New("s3_key").Option("missingkey=error").Parse(key)
	if err != nil {
		return "", fmt.Errorf("%w: s3 key template %q: %w", shared.ErrInvalidInput, key, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newKeyParams(tc)); err != nil {
		return "", fmt.Errorf("%w: s3 key template %q: %w", shared.ErrInvalidInput, key, err)
	}
	return buf.String(), nil
}

// StageToRedshift replaces the contents of a staging table with files from S3.
type StageToRedshift struct {
	TaskID        string
	Hook          Hook
	Table         string
	S3Bucket      string
	S3Key         string // may be a template over [KeyParams]
	JSONPath      string // JSON only; empty means 'auto'
	FileFormat    string // JSON or CSV
	Delimiter     string // CSV only; defaults to ","
	IgnoreHeaders int    // CSV only; 0 means one header row, negative means none
	Region        string
	TimeFormat    string
	Credentials   warehouse.Credentials
}

func (o *StageToRedshift) ID() string { return o.TaskID }

func (o *StageToRedshift) Describe() string {
	return fmt.Sprintf("COPY %s FROM s3://%s/%s", o.Table, o.S3Bucket, o.S3Key)
}

// Statements renders the DELETE and COPY for tc without running them.
func (o *StageToRedshift) Statements(tc *tasks.TaskContext) (string, string, error) {
	format, err := warehouse.ParseFormat(o.FileFormat)
	if err != nil {
		return "", "", err
	}
	key, err := RenderKey(o.S3Key, tc)
	if err != nil {
		return "", "", err
	}

	copyStmt, err := warehouse.Copy{
		Table:        o.Table,
		Source:       fmt.Sprintf("s3://%s/%s", o.S3Bucket, strings.TrimPrefix(key, "/")),
		Credentials:  o.Credentials,
		Region:       o.Region,
		Format:       format,
		JSONPaths:    o.JSONPath,
		Delimiter:    o.Delimiter,
		IgnoreHeader: headerRows(format, o.IgnoreHeaders),
		TimeFormat:   o.TimeFormat,
	}.SQL()
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("DELETE FROM %s;", o.Table), copyStmt, nil
}

func headerRows(format warehouse.Format, n int) int {
	switch {
	case format != warehouse.FormatCSV || n < 0:
		return 0
	case n == 0:
		return 1
	}
	return n
}

func (o *StageToRedshift) Execute(ctx context.Context, tc *tasks.TaskContext) error {
	del, copyStmt, err := o.Statements(tc)
	if err != nil {
		return err
	}

	tc.Logger.Info("clearing staging table", "table", o.Table)
	if err := o.Hook.Run(ctx, del); err != nil {
		return fmt.Errorf("failed to clear %s: %w", o.Table, err)
	}

	tc.Logger.Info("copying from s3", "table", o.Table, "bucket", o.S3Bucket)
	if err := o.Hook.Run(ctx, copyStmt); err != nil {
		return fmt.Errorf("failed to copy into %s: %w", o.Table, err)
	}
	return nil
}
