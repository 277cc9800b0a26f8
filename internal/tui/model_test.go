package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmadtools/storyrun/internal/events"
	"github.com/bmadtools/storyrun/internal/stream"
)

func apply(m *Model, msgs ...tea.Msg) *Model {
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(*Model)
	}
	return m
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := NewModel(false)
		var msg tea.Msg
		if key == "q" {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}
		updated, cmd := m.Update(msg)
		assert.True(t, updated.(*Model).Quitting, key)
		require.NotNil(t, cmd, key)
	}
}

func TestStoryAndPhaseTracking(t *testing.T) {
	m := NewModel(false)
	m = apply(m,
		StoryMsg{Number: 1, StoryKey: "1-1-alpha", StoryID: "1.1"},
		PhaseMsg{StoryKey: "1-1-alpha", Phase: "dev-story"},
	)

	assert.Equal(t, "1-1-alpha", m.StoryKey)
	assert.Equal(t, "dev-story", m.Phase)

	// A new story resets phase state.
	m = apply(m, StoryMsg{Number: 2, StoryKey: "1-2-beta", StoryID: "1.2"})
	assert.Empty(t, m.Phase)
	assert.Zero(t, m.Round)
}

func TestCostAccumulation(t *testing.T) {
	m := NewModel(false)
	c1, c2 := 0.50, 1.25
	m = apply(m,
		PhaseDoneMsg{CostUSD: &c1, Round: 1},
		PhaseDoneMsg{CostUSD: &c2, Round: 2},
		PhaseDoneMsg{CostUSD: nil},
	)

	assert.InDelta(t, 1.75, m.TotalCost, 1e-9)
	assert.Equal(t, 2, m.Round)
}

func TestThinkingHiddenByDefault(t *testing.T) {
	m := NewModel(false)
	m = apply(m,
		LogMsg{kind: logThinking, text: "pondering"},
		LogMsg{kind: logText, text: "visible"},
	)

	require.Len(t, m.LogLines, 1)
	assert.Equal(t, "visible", m.LogLines[0].text)

	m = NewModel(true)
	m = apply(m, LogMsg{kind: logThinking, text: "pondering"})
	require.Len(t, m.LogLines, 1)
}

func TestLogCapped(t *testing.T) {
	m := NewModel(false)
	for i := 0; i < logLimit+50; i++ {
		m = apply(m, LogMsg{kind: logText, text: "line"})
	}
	assert.Len(t, m.LogLines, logLimit)
}

func TestViewShowsStoryAndCountdown(t *testing.T) {
	m := NewModel(false)
	m = apply(m,
		StoryMsg{Number: 3, StoryKey: "2-1-gamma", StoryID: "2.1"},
		PhaseMsg{StoryKey: "2-1-gamma", Phase: "code-review"},
		StatsMsg(events.StatsPayload{TotalEpics: 2, DoneEpics: 1, TotalStory: 8, DoneStories: 3}),
		CountdownMsg("Next story in 3s..."),
	)

	view := m.View()
	assert.Contains(t, view, "2-1-gamma")
	assert.Contains(t, view, "code-review")
	assert.Contains(t, view, "3/8")
	assert.Contains(t, view, "Next story in 3s...")
}

func TestViewEmptyAfterDone(t *testing.T) {
	m := NewModel(false)
	m = apply(m, DoneMsg{})
	assert.Empty(t, m.View())
}

func TestBridgeEventConversion(t *testing.T) {
	msgs := eventToMsgs(events.NewEvent(events.StorySelected, "1-2-beta").WithPayload(4))
	require.Len(t, msgs, 1)
	story := msgs[0].(StoryMsg)
	assert.Equal(t, 4, story.Number)
	assert.Equal(t, "1.2", story.StoryID)

	msgs = eventToMsgs(events.NewEvent(events.SessionActive, "").WithPayload(true))
	require.Len(t, msgs, 1)
	assert.Equal(t, SessionActiveMsg(true), msgs[0])

	msgs = eventToMsgs(events.NewEvent(events.Countdown, "").WithPayload("Resuming in 5s..."))
	require.Len(t, msgs, 1)
	assert.Equal(t, CountdownMsg("Resuming in 5s..."), msgs[0])

	assert.Nil(t, eventToMsgs(events.NewEvent(events.RunStarted, "")))
}

func TestBridgeStreamEvents(t *testing.T) {
	evt := events.NewEvent(events.StreamEvent, "1-1-alpha").
		WithPayload(stream.Event(stream.ToolUseEvent{ToolName: "Read", InputSummary: "internal/foo.go"}))
	msgs := eventToMsgs(evt)
	require.Len(t, msgs, 1)
	log := msgs[0].(LogMsg)
	assert.Equal(t, logTool, log.kind)
	assert.True(t, strings.HasPrefix(log.text, "Read:"))

	// Tool results are dropped as noise.
	evt = events.NewEvent(events.StreamEvent, "1-1-alpha").
		WithPayload(stream.Event(stream.ToolResultEvent{ContentSummary: "ok"}))
	assert.Empty(t, eventToMsgs(evt))

	// Thinking text keeps its flag so the model can gate it.
	evt = events.NewEvent(events.StreamEvent, "1-1-alpha").
		WithPayload(stream.Event(stream.TextEvent{Text: "hm", IsThinking: true}))
	msgs = eventToMsgs(evt)
	require.Len(t, msgs, 1)
	assert.Equal(t, logThinking, msgs[0].(LogMsg).kind)
}
