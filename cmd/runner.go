package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/cloud"
	"github.com/desertthunder/dwh/internal/formatter"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/repositories"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/desertthunder/dwh/internal/ui"
	"github.com/desertthunder/dwh/internal/warehouse"
	"github.com/urfave/cli/v3"
)

const tuiLogPath = "./tmp/dwh-tui.log"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	format     formatter.Format
	tui        bool
	journalDB  *sql.DB
	journal    *repositories.Journal
	warehouse  *sql.DB
	awsConfig  func(ctx context.Context, c shared.AWSConfig) (aws.Config, error)
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Journal    *sql.DB // Migrated journal; opened from config when nil
	Warehouse  *sql.DB // Warehouse connection; opened from the cluster DSN when nil
	AWSConfig  func(ctx context.Context, c shared.AWSConfig) (aws.Config, error)
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.AWSConfig == nil {
		opts.AWSConfig = cloud.LoadAWSConfig
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		format:     formatter.Text,
		journalDB:  opts.Journal,
		warehouse:  opts.Warehouse,
		awsConfig:  opts.AWSConfig,
	}
	if opts.Journal != nil {
		r.journal = repositories.NewJournal(opts.Journal)
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, clusterCommand, schemaCommand, lakeCommand, pipelineCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by every command.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// before loads the configuration and applies the global flags.
//
// With --tui the logger moves to a file so log lines do not tear the terminal UI.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	r.tui = cmd.Bool("tui")
	if r.tui {
		fileLogger, err := shared.NewFileLogger(tuiLogPath)
		if err != nil {
			return ctx, err
		}
		r.SetLogger(fileLogger)
	}
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return ctx, err
	}
	r.format = format

	r.configPath = cmd.String("config")
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		return ctx, nil
	}

	config, err := shared.LoadConfig(r.configPath)
	if err != nil {
		return ctx, err
	}
	r.config = config
	return ctx, nil
}

// after releases the connections opened by the command.
func (r *Runner) after(ctx context.Context, cmd *cli.Command) error {
	if r.warehouse != nil {
		r.warehouse.Close()
	}
	if r.journalDB != nil {
		return r.journalDB.Close()
	}
	return nil
}

// openJournal opens and migrates the run journal once per process.
func (r *Runner) openJournal() (*repositories.Journal, error) {
	if r.journal != nil {
		return r.journal, nil
	}

	db, err := shared.NewDatabase(r.config.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Journal.MaxOpenConns, r.config.Journal.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	r.journalDB = db
	r.journal = repositories.NewJournal(db)
	return r.journal, nil
}

// openWarehouse connects to the cluster endpoint saved in the configuration.
func (r *Runner) openWarehouse(ctx context.Context) (*sql.DB, error) {
	if r.warehouse != nil {
		return r.warehouse, nil
	}
	if err := r.config.Validate("connection"); err != nil {
		return nil, fmt.Errorf("%w (run 'dwh cluster create' first)", err)
	}

	r.logger.Info("connecting to warehouse", "host", r.config.Cluster.Host, "db", r.config.Cluster.DBName)
	db, err := warehouse.Open(ctx, r.config.DSN())
	if err != nil {
		return nil, err
	}
	r.warehouse = db
	return db, nil
}

// journaled wraps fn in a journal run of kind, finishing the run with fn's error.
func (r *Runner) journaled(kind models.RunKind, fn func(journal *repositories.Journal, runID string) error) error {
	journal, err := r.openJournal()
	if err != nil {
		return err
	}

	run, err := journal.StartRun(kind)
	if err != nil {
		return err
	}
	r.logger.Debug("started run", "kind", kind, "run_id", run.ID(), "sequence", run.Sequence())

	runErr := fn(journal, run.ID())
	if err := journal.FinishRun(run, runErr); err != nil {
		r.logger.Warn("failed to finish journal run", "run_id", run.ID(), "error", err)
	}
	return runErr
}

// track runs job, under the progress TUI with --tui and with progress logged otherwise.
func (r *Runner) track(ctx context.Context, title string, job ui.Job) (any, error) {
	if r.tui {
		return ui.RunProgress(ctx, title, job, nil)
	}

	progress := make(chan tasks.ProgressUpdate, 50)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for update := range progress {
			if update.Message == "" {
				continue
			}
			r.logger.Debug(update.Message, "phase", update.Phase, "step", update.Step, "total", update.Total)
		}
	}()

	result, err := job(ctx, progress)
	close(progress)
	<-drained
	return result, err
}

// render writes data produced by a formatter function.
func (r *Runner) render(data []byte, err error) error {
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
