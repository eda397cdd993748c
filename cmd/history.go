package main

import (
	"context"

	"github.com/desertthunder/dwh/internal/formatter"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/ui"
	"github.com/urfave/cli/v3"
)

// History lists journal runs newest first, or the steps of one run with --run.
//
// With --tui the runs open in an interactive browser instead.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	journal, err := r.openJournal()
	if err != nil {
		return err
	}

	if ref := cmd.String("run"); ref != "" {
		run, err := findRun(journal, ref)
		if err != nil {
			return err
		}
		steps, err := journal.Steps.ListByRun(run.ID())
		if err != nil {
			return err
		}
		return r.render(formatter.Steps(run, steps, r.format))
	}

	runs, err := journal.Runs.List(map[string]any{
		"kind":  cmd.String("kind"),
		"limit": int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}

	if r.tui {
		return ui.BrowseHistory(ctx, runs, func(runID string) ([]*models.Step, error) {
			return journal.Steps.ListByRun(runID)
		})
	}
	return r.render(formatter.History(runs, r.format))
}
