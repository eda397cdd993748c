package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/dwh/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	phase lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		phase: NewBold(t).Padding(0, 1).Background(lipgloss.Color("#2A2A2A")),
	}
}

// Status colors a run or step status.
func (p *Palette) Status(s models.Status) string {
	switch s {
	case models.StatusSucceeded:
		return p.ok.Render(string(s))
	case models.StatusFailed, models.StatusUpstreamFailed:
		return p.err.Render(string(s))
	case models.StatusSkipped, models.StatusRunning:
		return p.warn.Render(string(s))
	}
	return string(s)
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
