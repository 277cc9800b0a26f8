package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmadtools/storyrun/internal/events"
	"github.com/bmadtools/storyrun/internal/stream"
)

// writeScript installs an executable shell script standing in for the CLI
// binary. Scripts record their arguments to $STORYRUN_ARGS_OUT when set.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude")
	script := "#!/bin/sh\n" +
		"if [ -n \"$STORYRUN_ARGS_OUT\" ]; then printf '%s\\n' \"$@\" > \"$STORYRUN_ARGS_OUT\"; fi\n" +
		body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const streamScript = `cat <<'STREAM'
{"type":"system","subtype":"init","model":"test-model","session_id":"s-1","tools":["Read","Bash"]}
{"type":"assistant","message":{"content":[{"type":"text","text":"done <DEV_STORY_COMPLETE>all green</DEV_STORY_COMPLETE>"}]}}
{"type":"result","subtype":"success","is_error":false,"duration_ms":1500,"num_turns":7,"total_cost_usd":0.42}
STREAM
`

func testSpec(t *testing.T, promptText string) PhaseSpec {
	t.Helper()
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(promptFile, []byte(promptText), 0o644))
	return PhaseSpec{
		Phase:      PhaseDevelop,
		StoryKey:   "1-2-user-auth",
		PromptFile: promptFile,
		LogFile:    filepath.Join(dir, "session.log"),
		MaxTurns:   42,
	}
}

func TestRunParsesStreamAndReportsResult(t *testing.T) {
	bus := events.NewBus()
	var seen []events.Event
	bus.Subscribe(func(e events.Event) { seen = append(seen, e) })

	sup := New(Options{
		Binary:  writeScript(t, streamScript),
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
		Bus:     bus,
	})

	spec := testSpec(t, "develop the story")
	res, err := sup.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 7, res.NumTurns)
	require.NotNil(t, res.CostUSD)
	assert.InDelta(t, 0.42, *res.CostUSD, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, res.Duration)

	require.Len(t, res.Markers, 1)
	assert.Equal(t, stream.MarkerDevStoryComplete, res.Markers[0].Type)
	assert.Equal(t, "all green", res.Markers[0].Payload)
}

func TestRunWritesLogVerbatim(t *testing.T) {
	sup := New(Options{
		Binary:  writeScript(t, streamScript),
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	})

	spec := testSpec(t, "develop the story")
	_, err := sup.Run(context.Background(), spec)
	require.NoError(t, err)

	logged, err := os.ReadFile(spec.LogFile)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(logged), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"subtype":"init"`)
	assert.Contains(t, lines[2], `"num_turns":7`)
}

func TestRunEmitsSessionLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	var seen []events.Event
	bus.Subscribe(func(e events.Event) { seen = append(seen, e) })

	sup := New(Options{
		Binary:  writeScript(t, streamScript),
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
		Bus:     bus,
	})

	_, err := sup.Run(context.Background(), testSpec(t, "go"))
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	assert.Equal(t, events.SessionActive, seen[0].Type)
	assert.Equal(t, true, seen[0].Payload)
	assert.Equal(t, events.SessionActive, seen[len(seen)-1].Type)
	assert.Equal(t, false, seen[len(seen)-1].Payload)

	var streamed []stream.Event
	for _, e := range seen {
		if e.Type == events.StreamEvent {
			streamed = append(streamed, e.Payload.(stream.Event))
			assert.Equal(t, "1-2-user-auth", e.Story)
			assert.Equal(t, string(PhaseDevelop), e.Phase)
		}
	}
	// init, text, marker, result
	require.Len(t, streamed, 4)
	assert.IsType(t, stream.InitEvent{}, streamed[0])
	assert.IsType(t, stream.TextEvent{}, streamed[1])
	assert.IsType(t, stream.MarkerEvent{}, streamed[2])
	assert.IsType(t, stream.ResultEvent{}, streamed[3])
}

func TestRunPassesPromptAndFlags(t *testing.T) {
	argsOut := filepath.Join(t.TempDir(), "args.txt")
	t.Setenv("STORYRUN_ARGS_OUT", argsOut)

	sup := New(Options{
		Binary:  writeScript(t, streamScript),
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	})

	spec := testSpec(t, "base prompt")
	spec.ExtraPrompt = "STORY_PATH: stories/1-2.md"
	spec.Model = "opus"
	_, err := sup.Run(context.Background(), spec)
	require.NoError(t, err)

	raw, err := os.ReadFile(argsOut)
	require.NoError(t, err)
	got := string(raw)

	assert.Contains(t, got, "base prompt\n\nSTORY_PATH: stories/1-2.md")
	assert.Contains(t, got, "--max-turns\n42\n")
	assert.Contains(t, got, "--output-format\nstream-json\n")
	assert.Contains(t, got, "--dangerously-skip-permissions")
	assert.Contains(t, got, "--model\nopus\n")
}

func TestRunFailedExitWithoutResult(t *testing.T) {
	sup := New(Options{
		Binary:  writeScript(t, "echo '{\"type\":\"system\",\"subtype\":\"warn\"}'\nexit 3\n"),
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	})

	res, err := sup.Run(context.Background(), testSpec(t, "go"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.TimedOut)
}

func TestRunErrorResultOverridesCleanExit(t *testing.T) {
	body := `cat <<'STREAM'
{"type":"result","subtype":"error_max_turns","is_error":true,"duration_ms":10,"num_turns":200}
STREAM
`
	sup := New(Options{
		Binary:  writeScript(t, body),
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	})

	res, err := sup.Run(context.Background(), testSpec(t, "go"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 200, res.NumTurns)
}

func TestRunTimeout(t *testing.T) {
	bus := events.NewBus()
	var warnings []string
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.Warning {
			warnings = append(warnings, fmt.Sprint(e.Payload))
		}
	})

	sup := New(Options{
		Binary:  writeScript(t, "exec sleep 30\n"),
		WorkDir: t.TempDir(),
		Timeout: 150 * time.Millisecond,
		Grace:   200 * time.Millisecond,
		Bus:     bus,
	})

	start := time.Now()
	res, err := sup.Run(context.Background(), testSpec(t, "go"))
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Success)
	assert.Equal(t, 150*time.Millisecond, res.Duration)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "SESSION TIMEOUT")
}

func TestRunMissingPromptFile(t *testing.T) {
	sup := New(Options{
		Binary:  "claude",
		WorkDir: t.TempDir(),
		Timeout: time.Second,
	})

	spec := testSpec(t, "go")
	spec.PromptFile = filepath.Join(t.TempDir(), "absent.md")
	_, err := sup.Run(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading prompt")
}

func TestRunContextCancellation(t *testing.T) {
	sup := New(Options{
		Binary:  writeScript(t, "exec sleep 30\n"),
		WorkDir: t.TempDir(),
		Timeout: time.Minute,
		Grace:   200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := sup.Run(ctx, testSpec(t, "go"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBuildArgsOmitsModelWhenEmpty(t *testing.T) {
	args := buildArgs("p", 10, "")
	assert.NotContains(t, args, "--model")

	args = buildArgs("p", 10, "sonnet")
	assert.Contains(t, args, "--model")
	assert.Contains(t, args, "sonnet")
}
