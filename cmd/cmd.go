// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// globalFlags are read by [Runner.before] and visible to every subcommand.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "dwh.toml",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log at debug level",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: text, markdown, csv or json",
			Value:   "text",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show progress in an interactive terminal UI",
		},
	}
}

// setupCommand handles journal and configuration setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "journal",
				Usage:  "Initialize the run journal and run migrations",
				Action: r.SetupJournal,
			},
			{
				Name:  "config",
				Usage: "Write a configuration file from the template",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// clusterCommand handles the Redshift cluster lifecycle.
func clusterCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Redshift cluster operations",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create the IAM role, cluster and ingress rule, then save the endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-save",
						Usage: "Do not write the endpoint and role ARN back to the config file",
					},
				},
				Action: r.ClusterCreate,
			},
			{
				Name:  "describe",
				Usage: "Show cluster status and endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "console",
						Usage: "Also open the cluster in the AWS console",
					},
				},
				Action: r.ClusterDescribe,
			},
			{
				Name:  "delete",
				Usage: "Delete the cluster and its IAM role",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm deletion",
					},
				},
				Action: r.ClusterDelete,
			},
		},
	}
}

// schemaCommand handles the staging and star schema on the warehouse.
func schemaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Warehouse schema and SQL ETL",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Drop and recreate the staging and analytics tables",
				Action: r.SchemaCreate,
			},
			{
				Name:  "etl",
				Usage: "COPY staging tables from S3, then INSERT into the analytics tables",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "resume",
						Usage: "Skip statements that succeeded in this earlier run (id or sequence number)",
					},
				},
				Action: r.SchemaETL,
			},
			{
				Name:  "counts",
				Usage: "Count rows per table",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "table",
						Usage: "Table to count; repeat for more (default: all tables)",
					},
				},
				Action: r.SchemaCounts,
			},
		},
	}
}

// lakeCommand handles the batch lake ETL.
func lakeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "lake",
		Usage: "Batch lake ETL to partitioned Parquet",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Build the star schema from song and log JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "engine",
						Usage: "Engine: local or emr (default from config)",
					},
					&cli.StringFlag{
						Name:  "input",
						Usage: "Input root, local path or s3:// URI (default from config)",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output root, local path or s3:// URI (default from config)",
					},
				},
				Action: r.LakeRun,
			},
			{
				Name:  "script",
				Usage: "Print the Spark SQL script the emr engine submits",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "input",
						Usage: "Input root as an s3:// URI (default from config)",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output root as an s3:// URI (default from config)",
					},
				},
				Action: r.LakeScript,
			},
		},
	}
}

// pipelineCommand handles the scheduled pipeline.
func pipelineCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "pipeline",
		Usage: "Run the song-play pipeline DAG",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Stage, load and check one execution date",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "date",
						Usage: "Execution date, RFC 3339 or YYYY-MM-DD (default: now)",
					},
					&cli.StringFlag{
						Name:  "resume",
						Usage: "Skip tasks that completed in this earlier run (id or sequence number)",
					},
				},
				Action: r.PipelineRun,
			},
			{
				Name:   "quality",
				Usage:  "Run the data quality checks only",
				Action: r.PipelineQuality,
			},
			{
				Name:   "graph",
				Usage:  "Print the pipeline tasks layer by layer",
				Action: r.PipelineGraph,
			},
		},
	}
}

// historyCommand lists journal runs.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List journal runs, or the steps of one run",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to list",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only list runs of this kind",
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Show the steps of this run (id or sequence number)",
			},
		},
		Action: r.History,
	}
}
