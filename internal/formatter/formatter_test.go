package formatter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/dwh/internal/cloud"
	"github.com/desertthunder/dwh/internal/lake"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
)

func sampleRun() *tasks.RunResult {
	start := time.Date(2018, time.November, 1, 0, 0, 0, 0, time.UTC)
	return &tasks.RunResult{
		RunID:         "run-1",
		DAGID:         "sparkify_etl",
		ExecutionDate: start,
		StartedAt:     start,
		FinishedAt:    start.Add(90 * time.Second),
		Tasks: []tasks.TaskResult{
			{TaskID: "stage_events", Status: models.StatusSucceeded, Attempts: 1, StartedAt: start, FinishedAt: start.Add(time.Minute)},
			{TaskID: "stage_songs", Status: models.StatusFailed, Attempts: 3, Err: errors.New("copy failed | bad path")},
			{TaskID: "load_songplays_fact_table", Status: models.StatusUpstreamFailed, Err: shared.ErrUpstreamFailed},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", Text},
		{"txt", Text},
		{"MD", Markdown},
		{"csv", CSV},
		{"json", JSON},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Fatalf("ParseFormat(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseFormat("yaml"); !errors.Is(err, shared.ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag, got %v", err)
	}
}

func TestCluster(t *testing.T) {
	info := cloud.ClusterInfo{
		Identifier: "dwhCluster",
		Status:     "available",
		Host:       "dwhcluster.abc.us-west-2.redshift.amazonaws.com",
		Port:       5439,
		RoleARN:    "arn:aws:iam::123:role/dwhRole",
		NodeType:   "dc2.large",
		NumNodes:   4,
	}

	t.Run("text", func(t *testing.T) {
		data, err := Cluster(info, Text)
		if err != nil {
			t.Fatalf("Cluster failed: %v", err)
		}
		output := string(data)
		if !strings.Contains(output, "Endpoint: dwhcluster.abc.us-west-2.redshift.amazonaws.com:5439") {
			t.Errorf("text missing endpoint, got: %s", output)
		}
		if !strings.Contains(output, "Nodes: 4 x dc2.large") {
			t.Errorf("text missing nodes, got: %s", output)
		}
	})

	t.Run("csv falls back to key value rows", func(t *testing.T) {
		data, err := Cluster(info, CSV)
		if err != nil {
			t.Fatalf("Cluster failed: %v", err)
		}
		output := string(data)
		if !strings.HasPrefix(output, "key,value\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "Status,available") {
			t.Errorf("CSV missing status row, got: %s", output)
		}
	})

	t.Run("json keeps field names", func(t *testing.T) {
		data, err := Cluster(info, JSON)
		if err != nil {
			t.Fatalf("Cluster failed: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded["role_arn"] != info.RoleARN {
			t.Errorf("role_arn = %v", decoded["role_arn"])
		}
	})

	t.Run("no endpoint before the cluster is up", func(t *testing.T) {
		data, _ := Cluster(cloud.ClusterInfo{Identifier: "x", Status: "creating"}, Text)
		if !strings.Contains(string(data), "Endpoint: -") {
			t.Errorf("expected placeholder endpoint, got: %s", data)
		}
	})
}

func TestCounts(t *testing.T) {
	counts := []warehouse.TableCount{{Table: "songplays", Rows: 333}, {Table: "users", Rows: 104}}

	data, err := Counts(counts, Markdown)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	output := string(data)
	if !strings.Contains(output, "| Table | Rows |") {
		t.Errorf("markdown missing header, got: %s", output)
	}
	if !strings.Contains(output, "| songplays | 333 |") {
		t.Errorf("markdown missing row, got: %s", output)
	}
	if !strings.Contains(output, "**Total**: 437") {
		t.Errorf("markdown missing total, got: %s", output)
	}

	data, err = Counts(counts, CSV)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if string(data) != "Table,Rows\nsongplays,333\nusers,104\n" {
		t.Errorf("unexpected CSV: %q", data)
	}

	data, err = Counts(counts, Text)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if !strings.Contains(string(data), "songplays") || !strings.Contains(string(data), "104") {
		t.Errorf("text table missing rows, got: %s", data)
	}
}

func TestRunResult(t *testing.T) {
	result := sampleRun()

	t.Run("markdown escapes pipes", func(t *testing.T) {
		data, err := RunResult(result, Markdown)
		if err != nil {
			t.Fatalf("RunResult failed: %v", err)
		}
		output := string(data)
		if !strings.Contains(output, "# Run run-1 (sparkify_etl)") {
			t.Errorf("markdown missing title, got: %s", output)
		}
		if !strings.Contains(output, `copy failed \| bad path`) {
			t.Errorf("markdown did not escape pipe, got: %s", output)
		}
		if !strings.Contains(output, "**Status**: failed") {
			t.Errorf("markdown missing status, got: %s", output)
		}
	})

	t.Run("json reports errors as strings", func(t *testing.T) {
		data, err := RunResult(result, JSON)
		if err != nil {
			t.Fatalf("RunResult failed: %v", err)
		}
		var decoded runResultView
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded.Tasks) != 3 {
			t.Fatalf("expected 3 tasks, got %d", len(decoded.Tasks))
		}
		if decoded.Tasks[1].Error != "copy failed | bad path" {
			t.Errorf("task error = %q", decoded.Tasks[1].Error)
		}
		if decoded.Counts["upstream_failed"] != 1 {
			t.Errorf("counts = %v", decoded.Counts)
		}
		if decoded.Duration != "1m30s" {
			t.Errorf("duration = %q", decoded.Duration)
		}
	})
}

func TestLakeStats(t *testing.T) {
	stats := &lake.ETLStats{
		Engine:      "local",
		Input:       "./data",
		Output:      "./lake",
		Duration:    "2s",
		FilesFound:  3,
		FilesRead:   3,
		SongRecords: 2,
		LogRecords:  10,
		Tables:      []lake.TableStats{{Name: "songs", Rows: 2, Files: 2, Bytes: 1024}},
	}

	data, err := LakeStats(stats, Text)
	if err != nil {
		t.Fatalf("LakeStats failed: %v", err)
	}
	output := string(data)
	if !strings.Contains(output, "Lake ETL (local)") {
		t.Errorf("text missing title, got: %s", output)
	}
	if !strings.Contains(output, "Files: 3 read, 0 failed of 3") {
		t.Errorf("text missing files summary, got: %s", output)
	}
	if !strings.Contains(output, "1024") {
		t.Errorf("text missing table bytes, got: %s", output)
	}
}

func TestHistory(t *testing.T) {
	run := models.NewRun(7, models.RunPipeline)
	run.SetID("abc")
	done := models.NewRun(8, models.RunSchema)
	done.SetID("def")
	finished := done.StartedAt().Add(3 * time.Second)
	done.Restore(models.StatusSucceeded, "", done.StartedAt(), &finished, done.CreatedAt())

	data, err := History([]*models.Run{done, run}, CSV)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d: %s", len(lines), data)
	}
	if !strings.HasPrefix(lines[1], "8,schema,succeeded,") || !strings.HasSuffix(lines[1], ",3s,def") {
		t.Errorf("unexpected row: %s", lines[1])
	}
	if !strings.Contains(lines[2], ",-,abc") {
		t.Errorf("running run should have no duration: %s", lines[2])
	}

	if _, err := History(nil, Format("xml")); !errors.Is(err, shared.ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag, got %v", err)
	}
}

func TestSteps(t *testing.T) {
	run := models.NewRun(1, models.RunETL)
	run.SetID("run-1")
	step := models.NewStep("run-1", 0, "copy_staging_events", "COPY ...")
	step.SetAttempts(1)
	step.Finish(models.StatusFailed, errors.New("S3ServiceException"))

	data, err := Steps(run, []*models.Step{step}, Text)
	if err != nil {
		t.Fatalf("Steps failed: %v", err)
	}
	output := string(data)
	if !strings.Contains(output, "Run #1 etl") {
		t.Errorf("text missing title, got: %s", output)
	}
	if !strings.Contains(output, "copy_staging_events") || !strings.Contains(output, "S3ServiceException") {
		t.Errorf("text missing step, got: %s", output)
	}
}
