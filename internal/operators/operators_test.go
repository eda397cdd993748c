package operators

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	tu "github.com/desertthunder/dwh/internal/testing"
	"github.com/desertthunder/dwh/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	mu      sync.Mutex
	run     []string
	queries []string
	count   int64
	fail    string
}

func (h *recordingHook) Run(_ context.Context, query string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run = append(h.run, query)
	if h.fail != "" && strings.Contains(query, h.fail) {
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHook) GetRecords(_ context.Context, query string) ([][]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, query)
	return [][]any{{h.count}}, nil
}

func (h *recordingHook) indexOf(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, q := range h.run {
		if strings.Contains(q, prefix) {
			return i
		}
	}
	return -1
}

func taskContext(date time.Time) *tasks.TaskContext {
	return &tasks.TaskContext{RunID: "run-1", TaskID: "t", ExecutionDate: date, Attempt: 1, Logger: shared.NewLogger(io.Discard)}
}

var execDate = time.Date(2018, time.November, 5, 0, 0, 0, 0, time.UTC)

func TestStageToRedshift(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes then copies json with a templated key", func(t *testing.T) {
		hook := &recordingHook{}
		op := &StageToRedshift{
			TaskID:      "stage_events",
			Hook:        hook,
			Table:       "staging_events",
			S3Bucket:    "udacity-dend",
			S3Key:       "log_data/{{.Year}}/{{.Month}}/{{.DS}}-events.json",
			JSONPath:    "s3://udacity-dend/log_json_path.json",
			FileFormat:  "json",
			Region:      "us-west-2",
			Credentials: warehouse.Credentials{IAMRole: "arn:aws:iam::123:role/dwhRole"},
		}

		require.NoError(t, op.Execute(ctx, taskContext(execDate)))
		require.Len(t, hook.run, 2)
		assert.Equal(t, "DELETE FROM staging_events;", hook.run[0])
		assert.Contains(t, hook.run[1], "COPY staging_events FROM 's3://udacity-dend/log_data/2018/11/2018-11-05-events.json'")
		assert.Contains(t, hook.run[1], "FORMAT AS JSON 's3://udacity-dend/log_json_path.json'")
		assert.Contains(t, hook.run[1], "REGION 'us-west-2'")
	})

	t.Run("csv uses delimiter and header rows", func(t *testing.T) {
		op := &StageToRedshift{
			Table:         "staging_songs",
			S3Bucket:      "b",
			S3Key:         "songs.csv",
			FileFormat:    "CSV",
			Delimiter:     ";",
			IgnoreHeaders: 1,
			Credentials:   warehouse.Credentials{AccessKey: "AK", SecretKey: "SK"},
		}
		_, copyStmt, err := op.Statements(taskContext(execDate))
		require.NoError(t, err)
		assert.Contains(t, copyStmt, "FORMAT AS CSV DELIMITER ';' IGNOREHEADER 1")
		assert.Contains(t, copyStmt, "ACCESS_KEY_ID 'AK'")
	})

	t.Run("csv skips one header row by default", func(t *testing.T) {
		op := &StageToRedshift{Table: "staging_songs", S3Bucket: "b", S3Key: "songs.csv", FileFormat: "csv"}
		_, copyStmt, err := op.Statements(taskContext(execDate))
		require.NoError(t, err)
		assert.Contains(t, copyStmt, "FORMAT AS CSV DELIMITER ',' IGNOREHEADER 1")

		op.IgnoreHeaders = -1
		_, copyStmt, err = op.Statements(taskContext(execDate))
		require.NoError(t, err)
		assert.NotContains(t, copyStmt, "IGNOREHEADER")
	})

	t.Run("unsupported format fails before touching the table", func(t *testing.T) {
		hook := &recordingHook{}
		op := &StageToRedshift{Hook: hook, Table: "staging_songs", S3Bucket: "b", S3Key: "k", FileFormat: "PARQUET"}
		err := op.Execute(ctx, taskContext(execDate))
		assert.ErrorIs(t, err, shared.ErrUnsupportedFormat)
		assert.Empty(t, hook.run)
	})

	t.Run("bad key template", func(t *testing.T) {
		_, err := RenderKey("log_data/{{.Nope}}", taskContext(execDate))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)

		key, err := RenderKey("plain/key", taskContext(execDate))
		require.NoError(t, err)
		assert.Equal(t, "plain/key", key)
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("fact load wraps the insert in a transaction", func(t *testing.T) {
		db := tu.NewWarehouse(t,
			"CREATE TABLE src (id INTEGER, name TEXT)",
			"INSERT INTO src VALUES (1, 'a'), (2, 'b')",
			"CREATE TABLE facts (id INTEGER, name TEXT)",
		)
		op := &LoadFact{TaskID: "load", Hook: NewSQLHook(db), Table: "facts", SQL: "SELECT id, name FROM src"}
		assert.True(t, strings.HasPrefix(op.Statement(), "BEGIN;\nINSERT INTO facts\nSELECT id, name FROM src;"))
		assert.True(t, strings.HasSuffix(op.Statement(), "COMMIT;"))

		require.NoError(t, op.Execute(ctx, taskContext(execDate)))
		require.NoError(t, op.Execute(ctx, taskContext(execDate)))

		records, err := NewSQLHook(db).GetRecords(ctx, "SELECT COUNT(*) FROM facts")
		require.NoError(t, err)
		assert.Equal(t, int64(4), records[0][0])
	})

	t.Run("catalog tables name their insert columns", func(t *testing.T) {
		op := &LoadFact{Table: "songplays", SQL: warehouse.SongplaySelect}
		assert.Contains(t, op.Statement(), "INSERT INTO songplays (start_time, user_id")
	})

	t.Run("dimension load optionally truncates", func(t *testing.T) {
		op := &LoadDimension{Table: "users", SQL: warehouse.UserSelect, Truncate: true}
		stmt := op.Statement()
		assert.True(t, strings.HasPrefix(stmt, "BEGIN;\nTRUNCATE TABLE users;\nINSERT INTO users"))

		op.Truncate = false
		assert.NotContains(t, op.Statement(), "TRUNCATE")
	})

	t.Run("dimension load runs against the warehouse", func(t *testing.T) {
		db := tu.NewWarehouse(t,
			"CREATE TABLE src (id INTEGER)",
			"INSERT INTO src VALUES (1), (2), (3)",
			"CREATE TABLE dim (id INTEGER)",
		)
		op := &LoadDimension{TaskID: "dim", Hook: NewSQLHook(db), Table: "dim", SQL: "SELECT id FROM src"}
		require.NoError(t, op.Execute(ctx, taskContext(execDate)))

		records, err := NewSQLHook(db).GetRecords(ctx, "SELECT COUNT(*) FROM dim")
		require.NoError(t, err)
		assert.Equal(t, int64(3), records[0][0])
	})

	t.Run("failed load reports the table", func(t *testing.T) {
		db := tu.NewWarehouse(t)
		op := &LoadFact{Hook: NewSQLHook(db), Table: "missing", SQL: "SELECT 1"}
		err := op.Execute(ctx, taskContext(execDate))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})
}

func TestDataQuality(t *testing.T) {
	ctx := context.Background()

	t.Run("passes on populated tables and journals results", func(t *testing.T) {
		db := tu.NewWarehouse(t,
			"CREATE TABLE users (id INTEGER)",
			"INSERT INTO users VALUES (1), (2)",
		)
		_, journal := tu.NewJournal(t)
		run, err := journal.StartRun(models.RunQuality)
		require.NoError(t, err)

		op := &DataQuality{
			Hook:     NewSQLHook(db),
			Tables:   []string{"users"},
			Checks:   []Check{{Name: "no_null_ids", SQL: "SELECT COUNT(*) FROM users WHERE id IS NULL", Expected: 0}},
			Recorder: journal,
		}
		tc := taskContext(execDate)
		tc.RunID = run.ID()
		require.NoError(t, op.Execute(ctx, tc))

		results, err := journal.Quality.ListByRun(run.ID())
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "no_null_ids", results[0].Table())
		assert.True(t, results[0].Passed())
		assert.Equal(t, "users", results[1].Table())
		assert.Equal(t, int64(2), results[1].RowCount())
	})

	t.Run("fails on an empty table", func(t *testing.T) {
		db := tu.NewWarehouse(t, "CREATE TABLE songs (id TEXT)")
		op := &DataQuality{Hook: NewSQLHook(db), Tables: []string{"songs"}}
		err := op.Execute(ctx, taskContext(execDate))
		assert.ErrorIs(t, err, shared.ErrDataQuality)
		assert.Contains(t, err.Error(), "songs has 0 rows")
	})

	t.Run("fails when the table is missing or nothing comes back", func(t *testing.T) {
		db := tu.NewWarehouse(t)
		op := &DataQuality{Hook: NewSQLHook(db), Tables: []string{"artists"}}
		assert.ErrorIs(t, op.Execute(ctx, taskContext(execDate)), shared.ErrDataQuality)

		empty := &DataQuality{Hook: emptyHook{}, Tables: []string{"time"}}
		err := empty.Execute(ctx, taskContext(execDate))
		assert.ErrorIs(t, err, shared.ErrDataQuality)
		assert.Contains(t, err.Error(), "did not return any results")
	})

	t.Run("reports every failing table", func(t *testing.T) {
		hook := &recordingHook{count: 0}
		op := &DataQuality{Hook: hook, Tables: []string{"users", "songs"}, Checks: []Check{{Name: "custom", SQL: "SELECT 0", Expected: 1}}}
		err := op.Execute(ctx, taskContext(execDate))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "users has 0 rows")
		assert.Contains(t, err.Error(), "songs has 0 rows")
		assert.Contains(t, err.Error(), "custom: got 0, want 1")
		assert.Len(t, hook.queries, 3)
	})
}

type emptyHook struct{}

func (emptyHook) Run(context.Context, string) error { return nil }

func (emptyHook) GetRecords(context.Context, string) ([][]any, error) { return nil, nil }

func TestSparkifyDAG(t *testing.T) {
	cfg := shared.DefaultConfig()
	cfg.IAMRole.ARN = "arn:aws:iam::123:role/dwhRole"

	t.Run("wires the pipeline", func(t *testing.T) {
		dag, err := SparkifyDAG(cfg, &recordingHook{count: 1}, DAGOpts{})
		require.NoError(t, err)
		assert.Equal(t, 10, dag.Len())

		layers, err := dag.Layers()
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"begin_execution"},
			{"stage_events", "stage_songs"},
			{"load_songplays_fact_table"},
			{"load_user_dim_table", "load_song_dim_table", "load_artist_dim_table", "load_time_dim_table"},
			{"run_data_quality_checks"},
			{"stop_execution"},
		}, layers)
	})

	t.Run("runs end to end in dependency order", func(t *testing.T) {
		hook := &recordingHook{count: 7}
		dag, err := SparkifyDAG(cfg, hook, DAGOpts{})
		require.NoError(t, err)

		exec := tasks.NewExecutor(tasks.ExecutorOpts{MaxActiveTasks: 4})
		result, err := exec.Run(context.Background(), dag, "run-1", execDate, nil)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSucceeded, result.Status())

		fact := hook.indexOf("INSERT INTO songplays")
		assert.Less(t, hook.indexOf("COPY staging_events"), fact)
		assert.Less(t, hook.indexOf("COPY staging_songs"), fact)
		assert.Less(t, fact, hook.indexOf("INSERT INTO time"))
		assert.Contains(t, hook.run[hook.indexOf("INSERT INTO users")], "TRUNCATE TABLE users")
		assert.Len(t, hook.queries, len(cfg.Pipeline.Tables))
	})

	t.Run("failed staging skips the loads", func(t *testing.T) {
		hook := &recordingHook{count: 1, fail: "COPY staging_songs"}
		dag, err := SparkifyDAG(cfg, hook, DAGOpts{})
		require.NoError(t, err)

		exec := tasks.NewExecutor(tasks.ExecutorOpts{MaxActiveTasks: 2})
		result, err := exec.Run(context.Background(), dag, "run-2", execDate, nil)
		assert.ErrorIs(t, err, shared.ErrTaskFailed)

		res, ok := result.Task("load_songplays_fact_table")
		require.True(t, ok)
		assert.Equal(t, models.StatusUpstreamFailed, res.Status)
		assert.Equal(t, -1, hook.indexOf("INSERT INTO songplays"))
	})

	t.Run("requires s3 uris", func(t *testing.T) {
		bad := shared.DefaultConfig()
		bad.S3.LogData = "/local/log_data"
		_, err := SparkifyDAG(bad, &recordingHook{}, DAGOpts{})
		assert.ErrorIs(t, err, shared.ErrInvalidConfig)
	})

	t.Run("quality only dag", func(t *testing.T) {
		dag, err := QualityDAG(cfg, &recordingHook{count: 1}, DAGOpts{})
		require.NoError(t, err)
		assert.Equal(t, []string{"run_data_quality_checks"}, dag.Tasks())
	})
}
