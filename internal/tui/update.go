package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bmadtools/storyrun/internal/events"
)

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case TickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case DoneMsg:
		m.Done = true
		return m, tea.Quit

	case StoryMsg:
		m.StoryNumber = msg.Number
		m.StoryKey = msg.StoryKey
		m.StoryID = msg.StoryID
		m.Phase = ""
		m.Round = 0

	case PhaseMsg:
		if msg.StoryKey == m.StoryKey || m.StoryKey == "" {
			m.Phase = msg.Phase
		}

	case PhaseDoneMsg:
		if msg.CostUSD != nil {
			m.TotalCost += *msg.CostUSD
		}
		if msg.Round > 0 {
			m.Round = msg.Round
		}

	case StoryDoneMsg:
		m.CompletedStories++

	case SessionActiveMsg:
		m.SessionActive = bool(msg)

	case StatsMsg:
		m.Stats = events.StatsPayload(msg)

	case CountdownMsg:
		m.Countdown = string(msg)

	case LogMsg:
		if msg.kind == logThinking && !m.ShowThinking {
			return m, nil
		}
		m.appendLog(msg.kind, msg.text)
	}

	return m, nil
}
