// Package session supervises one external CLI subprocess per workflow phase:
// it launches the process, tees its stream-json output to a durable log while
// parsing it into events, enforces the per-session timeout, and reduces the
// observed stream to a PhaseResult.
package session

import (
	"time"

	"github.com/bmadtools/storyrun/internal/stream"
)

// Phase identifies one step of the story workflow
type Phase string

const (
	PhaseCreate  Phase = "create-story"
	PhaseDevelop Phase = "dev-story"
	PhaseReview  Phase = "code-review"
	PhaseCommit  Phase = "commit"
)

// LogSlug returns the ordinal-prefixed identifier used in log file names
func (p Phase) LogSlug() string {
	switch p {
	case PhaseCreate:
		return "1-create-story"
	case PhaseDevelop:
		return "2-dev-story"
	case PhaseReview:
		return "3-code-review"
	case PhaseCommit:
		return "4-commit"
	default:
		return string(p)
	}
}

// PhaseSpec configures one subprocess invocation
type PhaseSpec struct {
	Phase    Phase
	StoryKey string

	// PromptFile is the prompt template to send
	PromptFile string

	// ExtraPrompt, when non-empty, is appended to the prompt content
	// after a blank line (used to pass the story detail path on resume)
	ExtraPrompt string

	// LogFile receives the raw subprocess output verbatim
	LogFile string

	MaxTurns int

	// Model overrides the CLI's default model when non-empty
	Model string
}

// PhaseResult summarizes one phase invocation.
//
// Success reflects the subprocess exit status and its self-reported error
// state only. Whether the status document actually advanced is a separate
// question the orchestrator answers by re-reading the document.
type PhaseResult struct {
	Phase    Phase
	StoryKey string

	Duration time.Duration
	NumTurns int

	// CostUSD is nil when the session did not report a cost
	CostUSD *float64

	// Markers holds every protocol marker observed in the stream
	Markers []stream.MarkerEvent

	Success  bool
	TimedOut bool
}

// HasMarker reports whether a marker of the given type was observed
func (r PhaseResult) HasMarker(t stream.MarkerType) bool {
	for _, m := range r.Markers {
		if m.Type == t {
			return true
		}
	}
	return false
}

// MarkerPayload returns the payload of the first marker of the given type
func (r PhaseResult) MarkerPayload(t stream.MarkerType) string {
	for _, m := range r.Markers {
		if m.Type == t {
			return m.Payload
		}
	}
	return ""
}

// sessionSuccess decides session-level success from the subprocess exit code
// and the structured result event, when one was observed. Without a result
// event the exit code alone decides.
func sessionSuccess(exitCode int, result *stream.ResultEvent) bool {
	if result != nil {
		return !result.IsError && exitCode == 0
	}
	return exitCode == 0
}
