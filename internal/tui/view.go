package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// visibleLogLines is how much of the rolling log the dashboard shows
const visibleLogLines = 12

// View implements tea.Model
func (m *Model) View() string {
	if m.Done || m.Quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderStory())
	b.WriteString(m.renderStats())
	b.WriteString("\n")
	b.WriteString(m.renderLog())

	if m.Countdown != "" {
		b.WriteString("  " + m.Styles.Countdown.Render(m.Countdown) + "\n")
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Model) renderHeader() string {
	elapsed := time.Since(m.StartTime).Round(time.Second)
	timer := fmt.Sprintf("[%s]", formatDuration(elapsed))
	cost := fmt.Sprintf("$%.2f", m.TotalCost)

	return fmt.Sprintf("%s  %s  %s",
		m.Styles.Title.Render("storyrun"),
		m.Styles.Timer.Render(timer),
		m.Styles.Cost.Render(cost),
	)
}

func (m *Model) renderStory() string {
	if m.StoryKey == "" {
		return "  No active story\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  Story %d: %s",
		m.StoryNumber, m.Styles.StoryKey.Render(m.StoryKey))

	if m.Phase != "" {
		phase := m.Phase
		if m.Round > 0 {
			phase = fmt.Sprintf("%s (round %d)", phase, m.Round)
		}
		fmt.Fprintf(&b, "  %s", m.Styles.Phase.Render(phase))
	}
	if m.SessionActive {
		fmt.Fprintf(&b, " %s", m.Spinner.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderStats() string {
	s := m.Stats
	return fmt.Sprintf("  Epics: %s  Stories: %s\n",
		m.Styles.StatDone.Render(fmt.Sprintf("%d/%d", s.DoneEpics, s.TotalEpics)),
		m.Styles.StatDone.Render(fmt.Sprintf("%d/%d", s.DoneStories, s.TotalStory)),
	)
}

func (m *Model) renderLog() string {
	if len(m.LogLines) == 0 {
		return ""
	}

	start := 0
	if len(m.LogLines) > visibleLogLines {
		start = len(m.LogLines) - visibleLogLines
	}

	var b strings.Builder
	for _, line := range m.LogLines[start:] {
		b.WriteString("  " + m.styleFor(line.kind).Render(line.text) + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) styleFor(kind logKind) lipgloss.Style {
	switch kind {
	case logThinking:
		return m.Styles.LogThinking
	case logTool:
		return m.Styles.LogTool
	case logNotice:
		return m.Styles.LogNotice
	case logWarning:
		return m.Styles.LogWarning
	default:
		return m.Styles.LogText
	}
}

func (m *Model) renderFooter() string {
	key := m.Styles.FooterKey.Render("q")
	return m.Styles.Footer.Render(fmt.Sprintf("  Press %s to abort", key))
}

// formatDuration formats a duration as HH:MM:SS
func formatDuration(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	min := d / time.Minute
	d -= min * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, min, s)
}
