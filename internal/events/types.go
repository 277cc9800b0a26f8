package events

import "time"

// Event represents a single occurrence in the orchestrator lifecycle
type Event struct {
	// Time is when the event occurred (set by bus on emit)
	Time time.Time `json:"time"`

	// Type identifies what happened
	Type EventType `json:"type"`

	// Story is the story key this event relates to (empty for run-level events)
	Story string `json:"story,omitempty"`

	// Phase is the workflow phase this event relates to, if any
	Phase string `json:"phase,omitempty"`

	// Payload contains event-specific data (type varies by event)
	Payload any `json:"payload,omitempty"`

	// Error contains an error message if this is a failure event
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category
type EventType string

// Run lifecycle events
const (
	RunStarted   EventType = "run.started"
	RunCompleted EventType = "run.completed"
	RunFailed    EventType = "run.failed"
)

// Story lifecycle events
const (
	StorySelected  EventType = "story.selected"
	StoryResumed   EventType = "story.resumed"
	StoryCompleted EventType = "story.completed"
	StoryHalted    EventType = "story.halted"
	StoryStopped   EventType = "story.stopped"
	StoryRecovered EventType = "story.recovered"
)

// Phase lifecycle events
const (
	PhaseStarted   EventType = "phase.started"
	PhaseCompleted EventType = "phase.completed"
)

// Session events
const (
	// SessionActive marks the start of a subprocess invocation.
	// Payload: bool (true while a session is running)
	SessionActive EventType = "session.active"

	// StreamEvent carries one parsed event from the subprocess stream.
	// Payload: stream.Event
	StreamEvent EventType = "session.stream"
)

// Advisory notices surfaced to the presentation layer
const (
	Notice  EventType = "notice"
	Warning EventType = "warning"

	// Countdown carries a short visible countdown message.
	// Payload: string (empty clears the countdown line)
	Countdown EventType = "countdown"

	// SprintStats carries refreshed epic/story completion counters.
	// Payload: StatsPayload
	SprintStats EventType = "sprint.stats"
)

// StatsPayload is the payload for SprintStats events
type StatsPayload struct {
	TotalEpics  int
	DoneEpics   int
	TotalStory  int
	DoneStories int
}

// PhasePayload is the payload for PhaseCompleted events
type PhasePayload struct {
	Round    int
	Turns    int
	CostUSD  *float64
	Duration time.Duration
	Success  bool
}

// NewEvent creates an event with the given type and story key
func NewEvent(eventType EventType, story string) Event {
	return Event{
		Type:  eventType,
		Story: story,
	}
}

// WithPhase attaches a phase identifier
func (e Event) WithPhase(phase string) Event {
	e.Phase = phase
	return e
}

// WithPayload attaches a payload
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError attaches an error message
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
