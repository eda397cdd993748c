package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/dwh/internal/tasks"
)

const logLines = 8

// Job is a long-running command. It must not close progress; the model does once the job returns.
type Job func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error)

// Renderer turns a finished job's result into the text shown after completion.
type Renderer func(result any) string

// ProgressModel runs a [Job] and renders its progress until it finishes.
type ProgressModel struct {
	ctx          context.Context
	cancel       context.CancelFunc
	title        string
	job          Job
	render       Renderer
	progressChan chan tasks.ProgressUpdate
	finished     chan jobResult
	current      tasks.ProgressUpdate
	updates      int
	log          []string
	showLog      bool
	done         bool
	result       any
	err          error
	spinner      spinner.Model
	bar          progress.Model
	help         help.Model
	keys         keyMap
}

// NewProgressModel creates a model that will run job when the program starts.
func NewProgressModel(ctx context.Context, title string, job Job, render Renderer) *ProgressModel {
	ctx, cancel := context.WithCancel(ctx)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.title.UnsetMarginBottom()

	return &ProgressModel{
		ctx:     ctx,
		cancel:  cancel,
		title:   title,
		job:     job,
		render:  render,
		showLog: true,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Result returns what the job returned, or the cancellation error when the user quit early.
func (m *ProgressModel) Result() (any, error) {
	if !m.done {
		return nil, context.Canceled
	}
	return m.result, m.err
}

// Init starts the spinner and the job.
func (m *ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

// Update handles incoming messages and updates the model state.
func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-4, 60), 10)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.log):
			m.showLog = !m.showLog
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			update := msg.data.(tasks.ProgressUpdate)
			m.current = update
			m.updates++
			if update.Message != "" {
				m.log = append(m.log, fmt.Sprintf("%-14s %s", update.Phase, update.Message))
				if len(m.log) > logLines {
					m.log = m.log[len(m.log)-logLines:]
				}
			}
			return m, m.waitForProgress()

		case MsgJobComplete:
			res := msg.data.(jobResult)
			m.done = true
			m.result = res.result
			m.err = res.err
			m.cancel()
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *ProgressModel) start() tea.Cmd {
	updates := make(chan tasks.ProgressUpdate, 50)
	finished := make(chan jobResult, 1)
	m.progressChan = updates
	m.finished = finished

	go func() {
		result, err := m.job(m.ctx, updates)
		finished <- jobResult{result, err}
		close(updates)
	}()

	return m.waitForProgress()
}

func (m *ProgressModel) waitForProgress() tea.Cmd {
	updates, finished := m.progressChan, m.finished
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			res := <-finished
			return jobCompleteMsg(res.result, res.err)
		}
		return progressUpdateMsg(update)
	}
}

// View renders the spinner, phase and log while running, then the result.
func (m *ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")

	if m.done {
		if m.err != nil {
			b.WriteString(styles.err.Render(fmt.Sprintf("✗ %v", m.err)))
		} else {
			b.WriteString(styles.ok.Render("✓ done"))
		}
		b.WriteString("\n")
		if m.render != nil && m.result != nil {
			b.WriteString("\n")
			b.WriteString(m.render(m.result))
		}
		return b.String()
	}

	phase := "starting"
	if m.updates > 0 {
		phase = m.current.Phase.String()
	}
	fmt.Fprintf(&b, "%s %s %s\n", m.spinner.View(), styles.phase.Render(phase), m.current.Message)

	if m.current.Total > 0 {
		ratio := float64(m.current.Step) / float64(m.current.Total)
		fmt.Fprintf(&b, "\n%s %d/%d\n", m.bar.ViewAs(min(ratio, 1)), m.current.Step, m.current.Total)
	}

	if m.showLog && len(m.log) > 0 {
		b.WriteString("\n")
		for _, line := range m.log {
			b.WriteString(styles.help.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.log, m.keys.quit}))
	return b.String()
}

// RunProgress runs job under a [ProgressModel] and returns its result once the program exits.
func RunProgress(ctx context.Context, title string, job Job, render Renderer) (any, error) {
	m := NewProgressModel(ctx, title, job, render)
	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil {
		return nil, err
	}
	return m.Result()
}
