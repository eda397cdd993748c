package lake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
)

// EMRAPI is the subset of the EMR client used by [EMREngine].
type EMRAPI interface {
	emr.DescribeStepAPIClient
	AddJobFlowSteps(ctx context.Context, params *emr.AddJobFlowStepsInput, optFns ...func(*emr.Options)) (*emr.AddJobFlowStepsOutput, error)
}

var _ EMRAPI = (*emr.Client)(nil)

var sparkScript = template.Must(template.New("etl.sql").Parse(`-- song-play lake ETL
CREATE OR REPLACE TEMPORARY VIEW song_data
USING json OPTIONS (path '{{.SongData}}');

CREATE OR REPLACE TEMPORARY VIEW log_data
USING json OPTIONS (path '{{.LogData}}');

CREATE OR REPLACE TEMPORARY VIEW song_plays AS
SELECT * FROM log_data WHERE page = 'NextSong';

DROP TABLE IF EXISTS songs;
CREATE TABLE songs USING parquet
PARTITIONED BY (year, artist_id)
LOCATION '{{.Output}}/songs'
AS SELECT song_id, first(title) AS title, first(duration) AS duration,
       first(year) AS year, first(artist_id) AS artist_id
FROM song_data
WHERE song_id IS NOT NULL
GROUP BY song_id;

DROP TABLE IF EXISTS artists;
CREATE TABLE artists USING parquet
LOCATION '{{.Output}}/artists'
AS SELECT artist_id, first(artist_name) AS name, first(artist_location) AS location,
       first(artist_latitude) AS latitude, first(artist_longitude) AS longitude
FROM song_data
WHERE artist_id IS NOT NULL
GROUP BY artist_id;

DROP TABLE IF EXISTS users;
CREATE TABLE users USING parquet
LOCATION '{{.Output}}/users'
AS SELECT user_id, first_name, last_name, gender, level
FROM (
  SELECT CAST(userId AS BIGINT) AS user_id, firstName AS first_name, lastName AS last_name,
         gender, level, row_number() OVER (PARTITION BY userId ORDER BY ts DESC) AS rn
  FROM song_plays
  WHERE userId IS NOT NULL AND userId <> ''
) WHERE rn = 1;

DROP TABLE IF EXISTS time;
CREATE TABLE time USING parquet
PARTITIONED BY (year, month)
LOCATION '{{.Output}}/time'
AS SELECT start_time, hour(start_time) AS hour, dayofmonth(start_time) AS day,
       weekofyear(start_time) AS week, dayofweek(start_time) AS weekday,
       year(start_time) AS year, month(start_time) AS month
FROM (SELECT DISTINCT timestamp_millis(ts) AS start_time FROM song_plays);

DROP TABLE IF EXISTS songplays;
CREATE TABLE songplays USING parquet
PARTITIONED BY (year, month)
LOCATION '{{.Output}}/songplays'
AS SELECT monotonically_increasing_id() AS songplay_id, timestamp_millis(l.ts) AS start_time,
       CAST(l.userId AS BIGINT) AS user_id, l.level, s.song_id, s.artist_id,
       l.sessionId AS session_id, l.location, l.userAgent AS user_agent,
       year(timestamp_millis(l.ts)) AS year, month(timestamp_millis(l.ts)) AS month
FROM song_plays l
JOIN song_data s
  ON lower(trim(l.song)) = lower(trim(s.title))
 AND lower(trim(l.artist)) = lower(trim(s.artist_name));
`))

// ScriptParams locates the source data and output root for the Spark SQL script.
type ScriptParams struct {
	SongData string
	LogData  string
	Output   string
}

// RenderScript renders the Spark SQL job for params. s3a:// locations are rewritten to s3://.
func RenderScript(params ScriptParams) (string, error) {
	params.SongData = s3Scheme(params.SongData)
	params.LogData = s3Scheme(params.LogData)
	params.Output = strings.TrimSuffix(s3Scheme(params.Output), "/")

	var buf bytes.Buffer
	if err := sparkScript.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to render spark script: %w", err)
	}
	return buf.String(), nil
}

func s3Scheme(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "s3a://"); ok {
		return "s3://" + rest
	}
	return uri
}

// EMREngineOpts configures an [EMREngine].
type EMREngineOpts struct {
	ClusterID string
	// ScriptKey is where the rendered script is stored, relative to the script store.
	ScriptKey string
	MaxWait   time.Duration
	PollDelay time.Duration
	Logger    *log.Logger
}

// EMREngine runs the lake ETL as a spark-sql step on an existing EMR cluster.
type EMREngine struct {
	client  EMRAPI
	scripts Store
	input   string
	output  string
	opts    EMREngineOpts
}

// NewEMREngine creates an [EMREngine]. input and output must be S3 URIs.
func NewEMREngine(client EMRAPI, scripts Store, input, output string, opts EMREngineOpts) (*EMREngine, error) {
	if opts.ClusterID == "" {
		return nil, fmt.Errorf("%w: lake.emr_cluster_id", shared.ErrMissingConfig)
	}
	if !IsS3URI(input) || !IsS3URI(output) {
		return nil, fmt.Errorf("%w: emr engine needs s3 input and output, got %q and %q", shared.ErrInvalidConfig, input, output)
	}
	if opts.ScriptKey == "" {
		opts.ScriptKey = "scripts/etl.sql"
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return &EMREngine{
		client:  client,
		scripts: scripts,
		input:   strings.TrimSuffix(input, "/"),
		output:  strings.TrimSuffix(output, "/"),
		opts:    opts,
	}, nil
}

// Run uploads the script, adds the step and blocks until the step completes, fails, or MaxWait elapses.
func (e *EMREngine) Run(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*ETLStats, error) {
	start := time.Now()
	stats := &ETLStats{Engine: "emr", Input: e.input, Output: s3Scheme(e.output), StartedAt: start.UTC()}
	logger := shared.WithLogger(e.opts.Logger, "cluster", e.opts.ClusterID)

	script, err := RenderScript(ScriptParams{
		SongData: e.input + "/" + SongPattern,
		LogData:  e.input + "/" + LogPattern,
		Output:   e.output,
	})
	if err != nil {
		return stats, err
	}

	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.SubmitJob, Step: 1, Total: 3, Message: "uploading spark script"})
	if err := e.scripts.Put(ctx, e.opts.ScriptKey, strings.NewReader(script)); err != nil {
		return stats, fmt.Errorf("failed to upload spark script: %w", err)
	}
	scriptURI := s3Scheme(e.scripts.URI(e.opts.ScriptKey))

	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.SubmitJob, Step: 2, Total: 3, Message: "adding step to " + e.opts.ClusterID})
	out, err := e.client.AddJobFlowSteps(ctx, &emr.AddJobFlowStepsInput{
		JobFlowId: aws.String(e.opts.ClusterID),
		Steps: []emrtypes.StepConfig{
			{
				Name: aws.String("dwh-lake-etl"),
				HadoopJarStep: &emrtypes.HadoopJarStepConfig{
					Jar:  aws.String("command-runner.jar"),
					Args: []string{"spark-sql", "-f", scriptURI},
				},
				ActionOnFailure: emrtypes.ActionOnFailureContinue,
			},
		},
	})
	if err != nil {
		return stats, fmt.Errorf("failed to add emr step: %w", err)
	}
	if len(out.StepIds) == 0 {
		return stats, fmt.Errorf("%w: emr returned no step id", shared.ErrInvalidInput)
	}
	stats.StepID = out.StepIds[0]
	logger.Info("submitted spark step", "step", stats.StepID, "script", scriptURI)

	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.SubmitJob, Step: 3, Total: 3, Message: "waiting for step " + stats.StepID, Data: stats.StepID})
	if err := e.wait(ctx, stats.StepID); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start).String()
	logger.Info("spark step complete", "step", stats.StepID, "duration", stats.Duration)
	return stats, nil
}

func (e *EMREngine) wait(ctx context.Context, stepID string) error {
	waiter := emr.NewStepCompleteWaiter(e.client, func(o *emr.StepCompleteWaiterOptions) {
		if e.opts.PollDelay > 0 {
			o.MinDelay = e.opts.PollDelay
			o.MaxDelay = e.opts.PollDelay
		}
	})

	input := &emr.DescribeStepInput{ClusterId: aws.String(e.opts.ClusterID), StepId: aws.String(stepID)}
	err := waiter.Wait(ctx, input, e.opts.MaxWait)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if msg := e.failureMessage(ctx, input); msg != "" {
		return fmt.Errorf("%w: step %s: %s", shared.ErrTaskFailed, stepID, msg)
	}
	if strings.Contains(err.Error(), "exceeded max wait time") {
		return fmt.Errorf("%w: step %s after %s", shared.ErrTimeout, stepID, e.opts.MaxWait)
	}
	return fmt.Errorf("%w: step %s: %w", shared.ErrTaskFailed, stepID, err)
}

func (e *EMREngine) failureMessage(ctx context.Context, input *emr.DescribeStepInput) string {
	out, err := e.client.DescribeStep(ctx, input)
	if err != nil || out.Step == nil || out.Step.Status == nil {
		return ""
	}

	status := out.Step.Status
	if d := status.FailureDetails; d != nil {
		if msg := aws.ToString(d.Message); msg != "" {
			return msg
		}
		if lf := aws.ToString(d.LogFile); lf != "" {
			return "see " + lf
		}
	}
	if status.State == emrtypes.StepStateFailed || status.State == emrtypes.StepStateCancelled {
		return strings.ToLower(string(status.State))
	}
	return ""
}
