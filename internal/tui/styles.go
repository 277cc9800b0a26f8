package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains the lipgloss styles for the dashboard
type Styles struct {
	Title lipgloss.Style
	Timer lipgloss.Style

	StoryKey lipgloss.Style
	Phase    lipgloss.Style
	Round    lipgloss.Style

	StatDone  lipgloss.Style
	StatTotal lipgloss.Style
	Cost      lipgloss.Style

	LogText     lipgloss.Style
	LogThinking lipgloss.Style
	LogTool     lipgloss.Style
	LogNotice   lipgloss.Style
	LogWarning  lipgloss.Style

	Countdown lipgloss.Style
	Footer    lipgloss.Style
	FooterKey lipgloss.Style
}

// DefaultStyles returns the default dashboard styles
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Timer: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		StoryKey: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Phase:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Italic(true),
		Round:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		StatDone:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		StatTotal: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Cost:      lipgloss.NewStyle().Foreground(lipgloss.Color("220")),

		LogText:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		LogThinking: lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
		LogTool:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		LogNotice:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		LogWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		Countdown: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
		FooterKey: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}
