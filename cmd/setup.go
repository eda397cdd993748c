package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/repositories"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupJournal initializes the journal database and runs migrations.
func (r *Runner) SetupJournal(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing journal", "path", r.config.Journal.Path)

	if _, err := r.openJournal(); err != nil {
		return err
	}

	version, err := shared.MigrationVersion(r.journalDB)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	r.logger.Infof("setup complete for journal: %v", r.config.Journal.Path)
	return r.writePlain("✓ Journal ready at %s (schema version %d)\n", r.config.Journal.Path, version)
}

// SetupConfig writes the configuration template to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := r.configPath
	if path == "" {
		return fmt.Errorf("%w: --config", shared.ErrMissingArgument)
	}

	if _, err := os.Stat(path); err == nil {
		if !cmd.Bool("force") {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", shared.ErrInvalidArgument, path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace config file: %w", err)
		}
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Configuration written to %s\n", path)
	r.writePlain("\nNext steps:\n")
	r.writePlain("1. Fill in [aws] keys or rely on the default credential chain\n")
	r.writePlain("2. Run 'dwh cluster create' to provision the warehouse\n")
	return nil
}

// findRun resolves a run reference given as a uuid or a sequence number.
func findRun(journal *repositories.Journal, ref string) (*models.Run, error) {
	if seq, err := strconv.Atoi(ref); err == nil {
		return journal.Runs.GetBySequence(seq)
	}
	return journal.Runs.Get(ref)
}
