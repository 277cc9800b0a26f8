package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// summaryLimit caps tool input/result summaries for display
const summaryLimit = 60

// toolInputKeys maps tool names to the input field worth surfacing
var toolInputKeys = map[string]string{
	"Read":      "file_path",
	"Edit":      "file_path",
	"Write":     "file_path",
	"Glob":      "pattern",
	"Grep":      "pattern",
	"Bash":      "command",
	"WebFetch":  "url",
	"WebSearch": "query",
}

// Parse converts one raw stream line into typed events.
//
// It always returns at least one event and never panics. A single line can
// produce several events: an assistant message may hold multiple content
// blocks, and a text block additionally yields one event per embedded
// protocol marker.
func Parse(line string) (events []Event) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return []Event{UnknownEvent{Raw: ""}}
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return []Event{UnknownEvent{Raw: raw}}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return []Event{UnknownEvent{Raw: decoded}}
	}

	// Field extraction below only reads through the typed helpers, but any
	// future slip must degrade to UnknownEvent rather than abort the stream.
	defer func() {
		if r := recover(); r != nil {
			events = []Event{UnknownEvent{Raw: obj}}
		}
	}()

	switch stringField(obj, "type") {
	case "system":
		return parseSystem(obj)
	case "assistant":
		return parseAssistant(obj)
	case "user":
		return parseUser(obj)
	case "result":
		return parseResult(obj)
	case "rate_limit_event":
		return parseRateLimit(obj)
	default:
		return []Event{UnknownEvent{Raw: obj}}
	}
}

func parseSystem(obj map[string]any) []Event {
	subtype := stringField(obj, "subtype")
	if subtype != "init" {
		return []Event{SystemEvent{Subtype: subtype}}
	}

	// tools entries arrive either as plain strings or objects with a name
	var tools []string
	if list, ok := obj["tools"].([]any); ok {
		for _, t := range list {
			switch v := t.(type) {
			case string:
				tools = append(tools, v)
			case map[string]any:
				tools = append(tools, stringField(v, "name"))
			}
		}
	}

	return []Event{InitEvent{
		Model:          stringField(obj, "model"),
		Tools:          tools,
		PermissionMode: stringField(obj, "permissionMode"),
		SessionID:      stringField(obj, "session_id"),
	}}
}

func parseAssistant(obj map[string]any) []Event {
	var events []Event

	for _, block := range contentBlocks(obj) {
		switch stringField(block, "type") {
		case "text":
			text := stringField(block, "text")
			events = append(events, TextEvent{Text: text})
			for _, m := range DetectMarkers(text) {
				events = append(events, m)
			}
		case "tool_use":
			name := stringField(block, "name")
			summary := ""
			if input, ok := block["input"].(map[string]any); ok {
				summary = SummarizeToolInput(name, input)
			}
			events = append(events, ToolUseEvent{ToolName: name, InputSummary: summary})
		case "thinking":
			events = append(events, TextEvent{Text: stringField(block, "thinking"), IsThinking: true})
		}
	}

	if len(events) == 0 {
		return []Event{UnknownEvent{Raw: obj}}
	}
	return events
}

func parseUser(obj map[string]any) []Event {
	var events []Event

	for _, block := range contentBlocks(obj) {
		switch stringField(block, "type") {
		case "tool_result":
			events = append(events, ToolResultEvent{
				ToolUseID:      stringField(block, "tool_use_id"),
				ContentSummary: summarizeToolResult(block["content"]),
			})
		case "text":
			events = append(events, TextEvent{Text: stringField(block, "text")})
		}
	}

	if len(events) == 0 {
		return []Event{UnknownEvent{Raw: obj}}
	}
	return events
}

func parseResult(obj map[string]any) []Event {
	// Cost travels under either of two field names depending on CLI version
	var cost *float64
	for _, key := range []string{"total_cost_usd", "cost_usd"} {
		if v, ok := obj[key].(float64); ok {
			cost = &v
			break
		}
	}

	return []Event{ResultEvent{
		DurationMS: intField(obj, "duration_ms"),
		NumTurns:   intField(obj, "num_turns"),
		IsError:    boolField(obj, "is_error"),
		Subtype:    stringField(obj, "subtype"),
		CostUSD:    cost,
	}}
}

func parseRateLimit(obj map[string]any) []Event {
	info, _ := obj["rate_limit_info"].(map[string]any)

	// An unparseable resetsAt silently yields the zero time
	var resetsAt time.Time
	if epoch, ok := info["resetsAt"].(float64); ok {
		resetsAt = time.Unix(int64(epoch), 0).UTC()
	}

	return []Event{RateLimitEvent{
		Status:        stringField(info, "status"),
		ResetsAt:      resetsAt,
		RateLimitType: stringField(info, "rateLimitType"),
	}}
}

// SummarizeToolInput extracts a short display summary from tool input,
// preferring the tool's canonical field and falling back to the first
// string-valued field.
func SummarizeToolInput(toolName string, input map[string]any) string {
	if key, ok := toolInputKeys[toolName]; ok {
		if v, ok := input[key].(string); ok {
			return truncate(v, summaryLimit)
		}
	}
	for _, v := range input {
		if s, ok := v.(string); ok {
			return truncate(s, summaryLimit)
		}
	}
	return ""
}

// summarizeToolResult builds a summary from string content or, when content
// is a block list, from its concatenated text parts.
func summarizeToolResult(content any) string {
	switch v := content.(type) {
	case string:
		return truncate(v, summaryLimit)
	case []any:
		var parts []string
		for _, p := range v {
			if block, ok := p.(map[string]any); ok && stringField(block, "type") == "text" {
				parts = append(parts, stringField(block, "text"))
			}
		}
		return truncate(strings.Join(parts, " "), summaryLimit)
	case nil:
		return ""
	default:
		return ""
	}
}

func contentBlocks(obj map[string]any) []map[string]any {
	message, _ := obj["message"].(map[string]any)
	list, _ := message["content"].([]any)

	blocks := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

func intField(obj map[string]any, key string) int {
	f, _ := obj[key].(float64)
	return int(f)
}

func boolField(obj map[string]any, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
