package events

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LogConfig configures the plain-text logging handler
type LogConfig struct {
	// Writer is where log lines are written (default: os.Stderr)
	Writer io.Writer

	// Quiet suppresses per-event stream output, keeping only notices,
	// warnings and lifecycle events (used when no TUI is attached)
	Quiet bool
}

// LogHandler returns a handler that renders events as plain text lines.
// Used when the bubbletea dashboard is disabled (no TTY, --no-tui).
func LogHandler(cfg LogConfig) Handler {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	return func(e Event) {
		switch e.Type {
		case Notice, Warning:
			msg, _ := e.Payload.(string)
			prefix := ""
			if e.Type == Warning {
				prefix = "WARNING: "
			}
			fmt.Fprintf(cfg.Writer, "%s%s\n", prefix, msg)

		case RunFailed:
			fmt.Fprintf(cfg.Writer, "ERROR: %s\n", e.Error)

		case PhaseStarted:
			fmt.Fprintf(cfg.Writer, "--- %s (%s) ---\n", e.Phase, e.Story)

		case PhaseCompleted:
			if p, ok := e.Payload.(PhasePayload); ok {
				status := "ok"
				if !p.Success {
					status = "failed"
				}
				var cost string
				if p.CostUSD != nil {
					cost = fmt.Sprintf(" $%.4f", *p.CostUSD)
				}
				fmt.Fprintf(cfg.Writer, "    %s %s: %d turns, %s%s\n",
					e.Phase, status, p.Turns, p.Duration.Round(time.Second), cost)
			}

		case SprintStats:
			if s, ok := e.Payload.(StatsPayload); ok && !cfg.Quiet {
				fmt.Fprintf(cfg.Writer, "sprint: epics %d/%d stories %d/%d\n",
					s.DoneEpics, s.TotalEpics, s.DoneStories, s.TotalStory)
			}

		case Countdown:
			// Countdown lines are purely cosmetic; skip them in plain mode
			// to avoid flooding non-interactive logs.
			if msg, ok := e.Payload.(string); ok && msg != "" && !cfg.Quiet {
				fmt.Fprintf(cfg.Writer, "\r%s", strings.TrimRight(msg, "\n"))
			}
		}
	}
}
