package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yangwenmai/draftflow/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	flagStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	statusStyles = map[model.Status]lipgloss.Style{
		model.StatusNew:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")), // Blue
		model.StatusStaged: lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // Yellow
		model.StatusReady:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // Cyan
		model.StatusDone:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // Green
		model.StatusSkip:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}

	visualStyles = map[model.VisualStatus]lipgloss.Style{
		model.VisualGenerating: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		model.VisualReady:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		model.VisualStale:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		model.VisualFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
)

func statusBadge(s model.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func visualBadge(v model.VisualStatus) string {
	style, ok := visualStyles[v]
	if !ok {
		return dimStyle.Render(string(v))
	}
	return style.Render(string(v))
}
