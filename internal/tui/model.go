// Package tui renders the orchestrator run as a live terminal dashboard:
// current story and phase, sprint progress, accumulated cost, and a rolling
// activity log fed from the subprocess stream. It is pure presentation; the
// only signal flowing back out is the user pressing q or ctrl+c.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bmadtools/storyrun/internal/events"
)

// logLimit bounds the rolling activity log
const logLimit = 200

// Model is the bubbletea model for the run dashboard
type Model struct {
	Styles Styles

	// Current story
	StoryKey    string
	StoryID     string
	StoryNumber int
	Phase       string
	Round       int

	// Sprint progress
	Stats events.StatsPayload

	// Session state
	SessionActive bool
	Spinner       spinner.Model

	// Totals
	TotalCost        float64
	CompletedStories int
	StartTime        time.Time

	// Activity log
	LogLines     []logLine
	ShowThinking bool
	Countdown    string

	Width  int
	Height int

	Quitting bool
	Done     bool
}

// logLine is one rendered activity entry
type logLine struct {
	kind logKind
	text string
}

type logKind int

const (
	logText logKind = iota
	logThinking
	logTool
	logNotice
	logWarning
)

// NewModel creates the dashboard model
func NewModel(showThinking bool) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		Styles:       DefaultStyles(),
		Spinner:      sp,
		StartTime:    time.Now(),
		ShowThinking: showThinking,
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.Spinner.Tick)
}

// TickMsg drives the elapsed-time display
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// DoneMsg tells the dashboard the run is over and it should exit
type DoneMsg struct{}

// StoryMsg announces the story the loop is working on
type StoryMsg struct {
	Number   int
	StoryKey string
	StoryID  string
}

// PhaseMsg announces a phase starting
type PhaseMsg struct {
	StoryKey string
	Phase    string
}

// PhaseDoneMsg carries a finished phase's cost and outcome
type PhaseDoneMsg struct {
	StoryKey string
	Phase    string
	Round    int
	CostUSD  *float64
	Success  bool
}

// StoryDoneMsg marks a story fully completed
type StoryDoneMsg struct {
	StoryKey string
}

// SessionActiveMsg toggles the session spinner
type SessionActiveMsg bool

// StatsMsg refreshes the sprint counters
type StatsMsg events.StatsPayload

// CountdownMsg updates the countdown line; empty clears it
type CountdownMsg string

// LogMsg appends one activity-log entry
type LogMsg struct {
	kind logKind
	text string
}

func (m *Model) appendLog(kind logKind, text string) {
	if text == "" {
		return
	}
	m.LogLines = append(m.LogLines, logLine{kind: kind, text: text})
	if len(m.LogLines) > logLimit {
		m.LogLines = m.LogLines[len(m.LogLines)-logLimit:]
	}
}
