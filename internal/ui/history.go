package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/dwh/internal/models"
)

// ViewState represents the current view in the history browser.
type ViewState int

const (
	RunListView ViewState = iota
	StepListView
)

// StepLoader fetches the steps of a run.
type StepLoader func(runID string) ([]*models.Step, error)

// HistoryModel browses journal runs and their steps.
type HistoryModel struct {
	view     ViewState
	width    int
	height   int
	runList  list.Model
	stepList list.Model
	selected *models.Run
	load     StepLoader
	err      error
	help     help.Model
	keys     keyMap
}

// NewHistoryModel creates a browser over runs, loading steps on demand.
func NewHistoryModel(runs []*models.Run, load StepLoader) *HistoryModel {
	items := make([]list.Item, len(runs))
	for i, r := range runs {
		items[i] = runItem{run: r}
	}
	runList := list.New(items, list.NewDefaultDelegate(), 0, 0)
	runList.Title = "Journal runs"

	return &HistoryModel{
		view:    RunListView,
		runList: runList,
		load:    load,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

func (m *HistoryModel) Init() tea.Cmd { return nil }

// Update handles incoming messages and updates the model state.
func (m *HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runList.SetSize(msg.Width-4, msg.Height-8)
		m.stepList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		if m.runList.FilterState() == list.Filtering {
			break
		}
		switch m.view {
		case RunListView:
			return m.handleRunListKeys(msg)
		case StepListView:
			return m.handleStepListKeys(msg)
		}

	case Msg:
		if msg.kind == MsgStepsLoaded {
			res := msg.data.(stepsResult)
			if res.err != nil {
				m.err = res.err
				return m, nil
			}
			m.err = nil
			items := make([]list.Item, len(res.steps))
			for i, s := range res.steps {
				items[i] = stepItem{step: s}
			}
			m.selected = res.run
			m.stepList = list.New(items, list.NewDefaultDelegate(), 0, 0)
			m.stepList.Title = fmt.Sprintf("Run #%d %s", res.run.Sequence(), res.run.Kind())
			m.stepList.SetSize(m.width-4, m.height-8)
			m.view = StepListView
			return m, nil
		}
	}

	return m.updateLists(msg)
}

func (m *HistoryModel) handleRunListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.runList.SelectedItem().(runItem); ok {
			return m, m.fetchSteps(item.run)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.runList, cmd = m.runList.Update(msg)
	return m, cmd
}

func (m *HistoryModel) handleStepListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = RunListView
		m.selected = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.stepList, cmd = m.stepList.Update(msg)
	return m, cmd
}

func (m *HistoryModel) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case RunListView:
		m.runList, cmd = m.runList.Update(msg)
	case StepListView:
		m.stepList, cmd = m.stepList.Update(msg)
	}
	return m, cmd
}

func (m *HistoryModel) fetchSteps(run *models.Run) tea.Cmd {
	return func() tea.Msg {
		steps, err := m.load(run.ID())
		return stepsLoadedMsg(run, steps, err)
	}
}

// View renders the UI based on the current view state.
func (m *HistoryModel) View() string {
	var body, helpView string
	switch m.view {
	case StepListView:
		body = m.stepList.View()
		helpView = m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit})
	default:
		body = m.runList.View()
		helpView = m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.quit})
	}
	if m.err != nil {
		body = fmt.Sprintf("%s\n%s", body, styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	return fmt.Sprintf("%s\n\n%s", body, helpView)
}

// BrowseHistory runs a [HistoryModel] until the user quits.
func BrowseHistory(ctx context.Context, runs []*models.Run, load StepLoader) error {
	_, err := tea.NewProgram(NewHistoryModel(runs, load), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}
