package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/shared"
)

var (
	_ list.Item = runItem{}
	_ list.Item = stepItem{}
)

// runItem wraps [models.Run] to implement [list.Item].
type runItem struct {
	run *models.Run
}

func (i runItem) FilterValue() string { return string(i.run.Kind()) }
func (i runItem) Title() string {
	return fmt.Sprintf("#%d %s", i.run.Sequence(), i.run.Kind())
}
func (i runItem) Description() string {
	desc := fmt.Sprintf("%s • %s", styles.Status(i.run.Status()), i.run.StartedAt().Local().Format(time.DateTime))
	if msg := i.run.ErrorMessage(); msg != "" {
		desc = fmt.Sprintf("%s • %s", desc, shared.Preview(msg, 60))
	}
	return desc
}

// stepItem wraps [models.Step] to implement [list.Item].
type stepItem struct {
	step *models.Step
}

func (i stepItem) FilterValue() string { return i.step.Name() }
func (i stepItem) Title() string       { return fmt.Sprintf("%d. %s", i.step.Position()+1, i.step.Name()) }
func (i stepItem) Description() string {
	desc := styles.Status(i.step.Status())
	if n := i.step.Attempts(); n > 1 {
		desc = fmt.Sprintf("%s • %d attempts", desc, n)
	}
	if msg := i.step.ErrorMessage(); msg != "" {
		desc = fmt.Sprintf("%s • %s", desc, shared.Preview(msg, 60))
	} else if stmt := i.step.Statement(); stmt != "" {
		desc = fmt.Sprintf("%s • %s", desc, shared.Preview(stmt, 60))
	}
	return desc
}
