package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bmadtools/storyrun/internal/events"
	"github.com/bmadtools/storyrun/internal/sprint"
	"github.com/bmadtools/storyrun/internal/stream"
)

// Bridge connects the event bus to the bubbletea program
type Bridge struct {
	program *tea.Program
}

// NewBridge creates a bridge for the given program
func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{program: program}
}

// Handler returns an event handler for the event bus
func (b *Bridge) Handler() events.Handler {
	return func(evt events.Event) {
		for _, msg := range eventToMsgs(evt) {
			b.program.Send(msg)
		}
	}
}

// SendDone tells the dashboard the run finished
func (b *Bridge) SendDone() {
	b.program.Send(DoneMsg{})
}

// eventToMsgs converts one bus event into dashboard messages
func eventToMsgs(evt events.Event) []tea.Msg {
	switch evt.Type {
	case events.StorySelected:
		number, _ := evt.Payload.(int)
		return []tea.Msg{StoryMsg{
			Number:   number,
			StoryKey: evt.Story,
			StoryID:  sprint.StoryID(evt.Story),
		}}

	case events.PhaseStarted:
		return []tea.Msg{PhaseMsg{StoryKey: evt.Story, Phase: evt.Phase}}

	case events.PhaseCompleted:
		p, ok := evt.Payload.(events.PhasePayload)
		if !ok {
			return nil
		}
		return []tea.Msg{PhaseDoneMsg{
			StoryKey: evt.Story,
			Phase:    evt.Phase,
			Round:    p.Round,
			CostUSD:  p.CostUSD,
			Success:  p.Success,
		}}

	case events.StoryCompleted:
		return []tea.Msg{
			StoryDoneMsg{StoryKey: evt.Story},
			LogMsg{kind: logNotice, text: fmt.Sprintf("Story %s completed", evt.Story)},
		}

	case events.StoryHalted:
		return []tea.Msg{LogMsg{kind: logWarning, text: fmt.Sprintf("Story %s halted: %v", evt.Story, evt.Payload)}}

	case events.SessionActive:
		active, _ := evt.Payload.(bool)
		return []tea.Msg{SessionActiveMsg(active)}

	case events.SprintStats:
		stats, ok := evt.Payload.(events.StatsPayload)
		if !ok {
			return nil
		}
		return []tea.Msg{StatsMsg(stats)}

	case events.Countdown:
		text, _ := evt.Payload.(string)
		return []tea.Msg{CountdownMsg(text)}

	case events.Notice:
		return []tea.Msg{LogMsg{kind: logNotice, text: fmt.Sprint(evt.Payload)}}

	case events.Warning:
		return []tea.Msg{LogMsg{kind: logWarning, text: fmt.Sprint(evt.Payload)}}

	case events.StreamEvent:
		se, ok := evt.Payload.(stream.Event)
		if !ok {
			return nil
		}
		return streamEventToMsgs(se)

	default:
		return nil
	}
}

// streamEventToMsgs renders one parsed subprocess event as activity-log
// entries. Tool results and unknown lines are dropped: too noisy to show.
func streamEventToMsgs(se stream.Event) []tea.Msg {
	switch e := se.(type) {
	case stream.InitEvent:
		return []tea.Msg{LogMsg{kind: logTool,
			text: fmt.Sprintf("session started (model %s, %d tools)", e.Model, len(e.Tools))}}

	case stream.TextEvent:
		kind := logText
		if e.IsThinking {
			kind = logThinking
		}
		return []tea.Msg{LogMsg{kind: kind, text: e.Text}}

	case stream.ToolUseEvent:
		text := e.ToolName
		if e.InputSummary != "" {
			text = fmt.Sprintf("%s: %s", e.ToolName, e.InputSummary)
		}
		return []tea.Msg{LogMsg{kind: logTool, text: text}}

	case stream.MarkerEvent:
		return []tea.Msg{LogMsg{kind: logNotice, text: fmt.Sprintf("<%s>", e.Type)}}

	case stream.ResultEvent:
		text := fmt.Sprintf("session finished: %d turns", e.NumTurns)
		if e.CostUSD != nil {
			text = fmt.Sprintf("%s, $%.2f", text, *e.CostUSD)
		}
		return []tea.Msg{LogMsg{kind: logTool, text: text}}

	case stream.RateLimitEvent:
		return []tea.Msg{LogMsg{kind: logWarning,
			text: fmt.Sprintf("rate limit %s (%s)", e.Status, e.RateLimitType)}}

	default:
		return nil
	}
}
