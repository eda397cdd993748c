// package formatter renders command results as plain text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/dwh/internal/cloud"
	"github.com/desertthunder/dwh/internal/lake"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
)

// Format is an output format name.
type Format string

const (
	Text     Format = "text"
	Markdown Format = "markdown"
	CSV      Format = "csv"
	JSON     Format = "json"
)

// ParseFormat accepts a format name or its short alias (txt, md).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return Text, nil
	case "markdown", "md":
		return Markdown, nil
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, s)
}

// report is the tabular form every result is reduced to.
type report struct {
	title   string
	summary [][2]string
	headers []string
	rows    [][]string
}

func (r report) render(f Format, view any) ([]byte, error) {
	switch f {
	case Text, "":
		return r.text(), nil
	case Markdown:
		return r.markdown(), nil
	case CSV:
		return r.csv()
	case JSON:
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, f)
}

func (r report) text() []byte {
	var buf bytes.Buffer
	if r.title != "" {
		fmt.Fprintf(&buf, "%s\n", r.title)
	}
	for _, kv := range r.summary {
		fmt.Fprintf(&buf, "%s: %s\n", kv[0], kv[1])
	}
	if len(r.headers) > 0 {
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers(r.headers...).
			Rows(r.rows...)
		buf.WriteString(t.String())
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

func (r report) markdown() []byte {
	var buf bytes.Buffer
	if r.title != "" {
		fmt.Fprintf(&buf, "# %s\n\n", r.title)
	}
	for _, kv := range r.summary {
		fmt.Fprintf(&buf, "**%s**: %s\n", kv[0], kv[1])
	}
	if len(r.summary) > 0 {
		buf.WriteString("\n")
	}
	if len(r.headers) > 0 {
		fmt.Fprintf(&buf, "| %s |\n", strings.Join(r.headers, " | "))
		seps := make([]string, len(r.headers))
		for i := range seps {
			seps[i] = "---"
		}
		fmt.Fprintf(&buf, "| %s |\n", strings.Join(seps, " | "))
		for _, row := range r.rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = strings.ReplaceAll(c, "|", `\|`)
			}
			fmt.Fprintf(&buf, "| %s |\n", strings.Join(cells, " | "))
		}
	}
	return buf.Bytes()
}

// csv writes the table only; a report without one becomes key,value rows.
func (r report) csv() ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers, rows := r.headers, r.rows
	if len(headers) == 0 {
		headers = []string{"key", "value"}
		rows = make([][]string, len(r.summary))
		for i, kv := range r.summary {
			rows[i] = []string{kv[0], kv[1]}
		}
	}

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// Cluster renders a cluster's status and endpoint.
func Cluster(info cloud.ClusterInfo, f Format) ([]byte, error) {
	r := report{
		title: "Cluster " + info.Identifier,
		summary: [][2]string{
			{"Status", info.Status},
			{"Endpoint", endpoint(info.Host, info.Port)},
			{"Role ARN", info.RoleARN},
			{"Security Group", info.SecurityGroup},
			{"VPC", info.VPCID},
			{"Nodes", fmt.Sprintf("%d x %s", info.NumNodes, info.NodeType)},
			{"Database", info.DBName},
			{"User", info.DBUser},
		},
	}
	return r.render(f, info)
}

func endpoint(host string, port int) string {
	if host == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Counts renders row counts per table.
func Counts(counts []warehouse.TableCount, f Format) ([]byte, error) {
	r := report{headers: []string{"Table", "Rows"}}
	var total int64
	for _, c := range counts {
		r.rows = append(r.rows, []string{c.Table, strconv.FormatInt(c.Rows, 10)})
		total += c.Rows
	}
	if f == Text || f == Markdown {
		r.title = "Row counts"
		r.summary = [][2]string{{"Total", strconv.FormatInt(total, 10)}}
	}
	return r.render(f, counts)
}

type taskView struct {
	Task     string `json:"task"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

type runResultView struct {
	RunID         string         `json:"run_id"`
	DAG           string         `json:"dag"`
	ExecutionDate time.Time      `json:"execution_date"`
	Status        string         `json:"status"`
	Duration      string         `json:"duration"`
	Counts        map[string]int `json:"counts"`
	Tasks         []taskView     `json:"tasks"`
}

// RunResult renders a pipeline run with one row per task.
func RunResult(result *tasks.RunResult, f Format) ([]byte, error) {
	view := runResultView{
		RunID:         result.RunID,
		DAG:           result.DAGID,
		ExecutionDate: result.ExecutionDate,
		Status:        string(result.Status()),
		Duration:      result.FinishedAt.Sub(result.StartedAt).Truncate(time.Millisecond).String(),
		Counts:        map[string]int{},
	}
	for status, n := range result.Counts() {
		view.Counts[string(status)] = n
	}

	r := report{
		title: fmt.Sprintf("Run %s (%s)", result.RunID, result.DAGID),
		summary: [][2]string{
			{"Execution date", result.ExecutionDate.Format(time.RFC3339)},
			{"Status", view.Status},
			{"Duration", view.Duration},
		},
		headers: []string{"Task", "Status", "Attempts", "Duration", "Error"},
	}
	for _, t := range result.Tasks {
		tv := taskView{
			Task:     t.TaskID,
			Status:   string(t.Status),
			Attempts: t.Attempts,
			Duration: t.Duration().Truncate(time.Millisecond).String(),
		}
		if t.Err != nil {
			tv.Error = t.Err.Error()
		}
		view.Tasks = append(view.Tasks, tv)
		r.rows = append(r.rows, []string{tv.Task, tv.Status, strconv.Itoa(tv.Attempts), tv.Duration, shared.Preview(tv.Error, 80)})
	}
	return r.render(f, view)
}

// LakeStats renders a lake ETL report with one row per table.
func LakeStats(stats *lake.ETLStats, f Format) ([]byte, error) {
	r := report{
		title: "Lake ETL (" + stats.Engine + ")",
		summary: [][2]string{
			{"Input", stats.Input},
			{"Output", stats.Output},
			{"Duration", stats.Duration},
			{"Files", fmt.Sprintf("%d read, %d failed of %d", stats.FilesRead, stats.FilesFailed, stats.FilesFound)},
			{"Records", fmt.Sprintf("%d songs, %d log events", stats.SongRecords, stats.LogRecords)},
		},
		headers: []string{"Table", "Rows", "Files", "Bytes"},
	}
	if stats.StepID != "" {
		r.summary = append(r.summary, [2]string{"EMR step", stats.StepID})
	}
	for _, t := range stats.Tables {
		r.rows = append(r.rows, []string{t.Name, strconv.Itoa(t.Rows), strconv.Itoa(t.Files), strconv.FormatInt(t.Bytes, 10)})
	}
	return r.render(f, stats)
}

type runView struct {
	ID         string     `json:"id"`
	Sequence   int        `json:"sequence"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// History renders journal runs, most recent first as given.
func History(runs []*models.Run, f Format) ([]byte, error) {
	views := make([]runView, 0, len(runs))
	r := report{headers: []string{"#", "Kind", "Status", "Started", "Duration", "ID"}}
	if f == Text || f == Markdown {
		r.title = "Run history"
	}

	for _, run := range runs {
		views = append(views, runView{
			ID:         run.ID(),
			Sequence:   run.Sequence(),
			Kind:       string(run.Kind()),
			Status:     string(run.Status()),
			StartedAt:  run.StartedAt(),
			FinishedAt: run.FinishedAt(),
			Error:      run.ErrorMessage(),
		})

		duration := "-"
		if fin := run.FinishedAt(); fin != nil {
			duration = fin.Sub(run.StartedAt()).Truncate(time.Second).String()
		}
		r.rows = append(r.rows, []string{
			strconv.Itoa(run.Sequence()),
			string(run.Kind()),
			string(run.Status()),
			run.StartedAt().Local().Format(time.DateTime),
			duration,
			run.ID(),
		})
	}
	return r.render(f, views)
}

type stepView struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Rows     int64  `json:"rows_affected"`
	Error    string `json:"error,omitempty"`
}

// Steps renders the steps of one run.
func Steps(run *models.Run, steps []*models.Step, f Format) ([]byte, error) {
	views := make([]stepView, 0, len(steps))
	r := report{
		title:   fmt.Sprintf("Run #%d %s", run.Sequence(), run.Kind()),
		summary: [][2]string{{"ID", run.ID()}, {"Status", string(run.Status())}},
		headers: []string{"#", "Step", "Status", "Attempts", "Rows", "Error"},
	}
	if msg := run.ErrorMessage(); msg != "" {
		r.summary = append(r.summary, [2]string{"Error", msg})
	}

	for _, s := range steps {
		views = append(views, stepView{
			Position: s.Position(),
			Name:     s.Name(),
			Status:   string(s.Status()),
			Attempts: s.Attempts(),
			Rows:     s.RowsAffected(),
			Error:    s.ErrorMessage(),
		})
		r.rows = append(r.rows, []string{
			strconv.Itoa(s.Position()),
			s.Name(),
			string(s.Status()),
			strconv.Itoa(s.Attempts()),
			strconv.FormatInt(s.RowsAffected(), 10),
			shared.Preview(s.ErrorMessage(), 80),
		})
	}
	return r.render(f, views)
}
