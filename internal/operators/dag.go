package operators

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/warehouse"
)

// SparkifyDAGID names the song-play pipeline.
const SparkifyDAGID = "sparkify_etl"

// DAGOpts carries the optional pieces of [SparkifyDAG].
type DAGOpts struct {
	Quality QualityRecorder
	Checks  []Check
}

// splitS3 splits s3://bucket/key into bucket and key.
func splitS3(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: not an s3:// uri: %q", shared.ErrInvalidConfig, uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", shared.ErrInvalidConfig, uri)
	}
	return bucket, key, nil
}

func marker(id string) tasks.Operator {
	return tasks.OperatorFunc{TaskID: id, Fn: func(_ context.Context, tc *tasks.TaskContext) error {
		tc.Logger.Info("execution marker", "date", tc.ExecutionDate.Format("2006-01-02"))
		return nil
	}}
}

// SparkifyDAG wires the hourly song-play pipeline:
//
//	begin_execution → stage_events, stage_songs → load_songplays_fact_table →
//	load_{user,song,artist,time}_dim_table → run_data_quality_checks → stop_execution
func SparkifyDAG(cfg *shared.Config, hook Hook, opts DAGOpts) (*tasks.DAG, error) {
	if err := cfg.Validate("s3"); err != nil {
		return nil, err
	}
	eventsBucket, eventsKey, err := splitS3(cfg.S3.LogData)
	if err != nil {
		return nil, err
	}
	songsBucket, songsKey, err := splitS3(cfg.S3.SongData)
	if err != nil {
		return nil, err
	}

	creds := warehouse.Credentials{IAMRole: cfg.IAMRole.ARN, AccessKey: cfg.AWS.Key, SecretKey: cfg.AWS.Secret}
	region := cfg.S3.Region
	if region == "" {
		region = cfg.AWS.Region
	}

	tables := cfg.Pipeline.Tables
	if len(tables) == 0 {
		for _, t := range warehouse.AnalyticsTables() {
			tables = append(tables, t.Name)
		}
	}

	dag := tasks.NewDAG(SparkifyDAGID)
	err = dag.Add(
		marker("begin_execution"),
		&StageToRedshift{
			TaskID:      "stage_events",
			Hook:        hook,
			Table:       warehouse.StagingEvents.Name,
			S3Bucket:    eventsBucket,
			S3Key:       eventsKey,
			JSONPath:    cfg.S3.LogJSONPath,
			FileFormat:  string(warehouse.FormatJSON),
			Region:      region,
			TimeFormat:  "epochmillisecs",
			Credentials: creds,
		},
		&StageToRedshift{
			TaskID:      "stage_songs",
			Hook:        hook,
			Table:       warehouse.StagingSongs.Name,
			S3Bucket:    songsBucket,
			S3Key:       songsKey,
			FileFormat:  string(warehouse.FormatJSON),
			Region:      region,
			Credentials: creds,
		},
		&LoadFact{TaskID: "load_songplays_fact_table", Hook: hook, Table: warehouse.Songplays.Name, SQL: warehouse.SongplaySelect},
		&LoadDimension{TaskID: "load_user_dim_table", Hook: hook, Table: warehouse.Users.Name, SQL: warehouse.UserSelect, Truncate: cfg.Pipeline.TruncateDimensions},
		&LoadDimension{TaskID: "load_song_dim_table", Hook: hook, Table: warehouse.Songs.Name, SQL: warehouse.SongSelect, Truncate: cfg.Pipeline.TruncateDimensions},
		&LoadDimension{TaskID: "load_artist_dim_table", Hook: hook, Table: warehouse.Artists.Name, SQL: warehouse.ArtistSelect, Truncate: cfg.Pipeline.TruncateDimensions},
		&LoadDimension{TaskID: "load_time_dim_table", Hook: hook, Table: warehouse.Time.Name, SQL: warehouse.TimeSelect, Truncate: cfg.Pipeline.TruncateDimensions},
		&DataQuality{TaskID: "run_data_quality_checks", Hook: hook, Tables: tables, Checks: opts.Checks, Recorder: opts.Quality},
		marker("stop_execution"),
	)
	if err != nil {
		return nil, err
	}

	dims := []string{"load_user_dim_table", "load_song_dim_table", "load_artist_dim_table", "load_time_dim_table"}
	for _, step := range []struct {
		from string
		to   []string
	}{
		{"begin_execution", []string{"stage_events", "stage_songs"}},
		{"stage_events", []string{"load_songplays_fact_table"}},
		{"stage_songs", []string{"load_songplays_fact_table"}},
		{"load_songplays_fact_table", dims},
	} {
		if err := dag.SetDownstream(step.from, step.to...); err != nil {
			return nil, err
		}
	}
	for _, d := range dims {
		if err := dag.SetDownstream(d, "run_data_quality_checks"); err != nil {
			return nil, err
		}
	}
	if err := dag.Chain("run_data_quality_checks", "stop_execution"); err != nil {
		return nil, err
	}
	return dag, nil
}

// QualityDAG runs the data quality checks alone.
func QualityDAG(cfg *shared.Config, hook Hook, opts DAGOpts) (*tasks.DAG, error) {
	tables := cfg.Pipeline.Tables
	if len(tables) == 0 {
		for _, t := range warehouse.AnalyticsTables() {
			tables = append(tables, t.Name)
		}
	}
	dag := tasks.NewDAG("data_quality")
	if err := dag.Add(&DataQuality{TaskID: "run_data_quality_checks", Hook: hook, Tables: tables, Checks: opts.Checks, Recorder: opts.Quality}); err != nil {
		return nil, err
	}
	return dag, nil
}
