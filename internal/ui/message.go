package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProgressUpdate MsgKind = iota
	MsgJobComplete
	MsgStepsLoaded
)

type jobResult struct {
	result any
	err    error
}

type stepsResult struct {
	run   *models.Run
	steps []*models.Step
	err   error
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// jobCompleteMsg is the constructor for [MsgJobComplete]
func jobCompleteMsg(result any, err error) Msg {
	return Msg{kind: MsgJobComplete, data: jobResult{result, err}}
}

// stepsLoadedMsg is the constructor for [MsgStepsLoaded]
func stepsLoadedMsg(run *models.Run, steps []*models.Step, err error) Msg {
	return Msg{kind: MsgStepsLoaded, data: stepsResult{run, steps, err}}
}
