package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/desertthunder/dwh/internal/formatter"
	"github.com/desertthunder/dwh/internal/lake"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/repositories"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/urfave/cli/v3"
)

const (
	engineLocal = "local"
	engineEMR   = "emr"
)

// lakeSettings resolves the engine, input and output from flags over config.
func (r *Runner) lakeSettings(cmd *cli.Command) (engine, input, output string, err error) {
	engine, input, output = r.config.Lake.Engine, r.config.Lake.Input, r.config.Lake.Output
	if v := cmd.String("engine"); v != "" {
		engine = v
	}
	if v := cmd.String("input"); v != "" {
		input = v
	}
	if v := cmd.String("output"); v != "" {
		output = v
	}
	if engine == "" {
		engine = engineLocal
	}

	if input == "" {
		return "", "", "", fmt.Errorf("%w: lake.input", shared.ErrMissingConfig)
	}
	if output == "" {
		return "", "", "", fmt.Errorf("%w: lake.output", shared.ErrMissingConfig)
	}
	if engine != engineLocal && engine != engineEMR {
		return "", "", "", fmt.Errorf("%w: engine must be %s or %s, got %q", shared.ErrInvalidFlag, engineLocal, engineEMR, engine)
	}
	return engine, input, output, nil
}

// store opens a local directory or an S3 prefix as a [lake.Store].
func (r *Runner) store(awsCfg func() (aws.Config, error), uri string) (lake.Store, error) {
	if !lake.IsS3URI(uri) {
		return lake.LocalStore{Root: uri}, nil
	}
	cfg, err := awsCfg()
	if err != nil {
		return nil, err
	}
	return lake.NewS3Store(s3.NewFromConfig(cfg), uri, r.config.Lake.UploadRate)
}

// LakeRun builds the lake tables with the local or EMR engine.
func (r *Runner) LakeRun(ctx context.Context, cmd *cli.Command) error {
	engineName, input, output, err := r.lakeSettings(cmd)
	if err != nil {
		return err
	}

	var loaded *aws.Config
	awsCfg := func() (aws.Config, error) {
		if loaded != nil {
			return *loaded, nil
		}
		cfg, err := r.awsConfig(ctx, r.config.AWS)
		if err != nil {
			return aws.Config{}, err
		}
		loaded = &cfg
		return cfg, nil
	}

	logger := shared.WithLogger(r.logger, "engine", engineName)
	var engine lake.Engine

	switch engineName {
	case engineLocal:
		in, err := r.store(awsCfg, input)
		if err != nil {
			return err
		}
		out, err := r.store(awsCfg, output)
		if err != nil {
			return err
		}
		engine = lake.NewLocalEngine(in, out, lake.LocalEngineOpts{
			Workers: r.config.Lake.Workers,
			TempDir: os.TempDir(),
			Logger:  logger,
		})

	case engineEMR:
		cfg, err := awsCfg()
		if err != nil {
			return err
		}
		scriptRoot, scriptKey := output, ""
		if uri := r.config.Lake.ScriptURI; uri != "" {
			scriptRoot, scriptKey = path.Split(uri)
		}
		scripts, err := r.store(awsCfg, scriptRoot)
		if err != nil {
			return err
		}
		engine, err = lake.NewEMREngine(emr.NewFromConfig(cfg), scripts, input, output, lake.EMREngineOpts{
			ClusterID: r.config.Lake.EMRClusterID,
			ScriptKey: scriptKey,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
	}

	var stats *lake.ETLStats
	err = r.journaled(models.RunLake, func(journal *repositories.Journal, runID string) error {
		logger.Info("starting lake etl", "input", input, "output", output, "run_id", runID)
		result, err := r.track(ctx, "Lake ETL ("+engineName+")", func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
			return engine.Run(ctx, progress)
		})
		if s, ok := result.(*lake.ETLStats); ok {
			stats = s
		}
		return err
	})
	if err != nil {
		return err
	}
	return r.render(formatter.LakeStats(stats, r.format))
}

// LakeScript prints the Spark SQL script for the configured input and output.
func (r *Runner) LakeScript(ctx context.Context, cmd *cli.Command) error {
	_, input, output, err := r.lakeSettings(cmd)
	if err != nil {
		return err
	}

	input = strings.TrimSuffix(input, "/")
	script, err := lake.RenderScript(lake.ScriptParams{
		SongData: input + "/" + lake.SongPattern,
		LogData:  input + "/" + lake.LogPattern,
		Output:   output,
	})
	if err != nil {
		return err
	}
	return r.writePlain("%s", script)
}
