// Package stream parses the line-delimited JSON emitted by the Claude CLI
// in --output-format stream-json mode into typed events.
//
// Parsing is pure and total: any input line, however malformed, yields a
// non-empty event list and never an error. Unrecognizable input degrades to
// UnknownEvent so a single garbled line can never abort a session stream.
package stream

import "time"

// Event is the closed set of parsed stream events. Exactly the types in this
// file implement it; dispatch sites use an exhaustive type switch.
type Event interface {
	streamEvent()
}

// InitEvent is the session initialization record (type=system, subtype=init)
type InitEvent struct {
	Model          string
	Tools          []string
	PermissionMode string
	SessionID      string
}

// ToolUseEvent records one tool invocation by the assistant
type ToolUseEvent struct {
	ToolName string
	// InputSummary is a short human-readable extract of the tool input
	// (file path, pattern, command, ...), truncated for display.
	InputSummary string
}

// ToolResultEvent records the outcome of a tool invocation
type ToolResultEvent struct {
	ToolUseID      string
	ContentSummary string
}

// TextEvent is one assistant text or thinking block
type TextEvent struct {
	Text       string
	IsThinking bool
}

// ResultEvent is the structured end-of-session record
type ResultEvent struct {
	DurationMS int
	NumTurns   int
	IsError    bool
	Subtype    string
	// CostUSD is nil when the session did not report a cost
	CostUSD *float64
}

// RateLimitEvent reports rate-limit status changes
type RateLimitEvent struct {
	Status string
	// ResetsAt is the zero time when no reset timestamp was reported
	// or the reported value could not be parsed.
	ResetsAt      time.Time
	RateLimitType string
}

// SystemEvent is a system record with a subtype other than init
type SystemEvent struct {
	Subtype string
}

// MarkerEvent is a protocol marker scanned from assistant text
type MarkerEvent struct {
	Type    MarkerType
	Payload string
}

// UnknownEvent carries input that could not be mapped to any other kind.
// Raw holds the original line for undecodable input, or the decoded value.
type UnknownEvent struct {
	Raw any
}

func (InitEvent) streamEvent()       {}
func (ToolUseEvent) streamEvent()    {}
func (ToolResultEvent) streamEvent() {}
func (TextEvent) streamEvent()       {}
func (ResultEvent) streamEvent()     {}
func (RateLimitEvent) streamEvent()  {}
func (SystemEvent) streamEvent()     {}
func (MarkerEvent) streamEvent()     {}
func (UnknownEvent) streamEvent()    {}
