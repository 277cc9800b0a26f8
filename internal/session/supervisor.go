package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bmadtools/storyrun/internal/events"
	"github.com/bmadtools/storyrun/internal/git"
	"github.com/bmadtools/storyrun/internal/stream"
)

// maxLineBytes sizes the scanner buffer; stream-json lines carrying large
// tool results can run to megabytes.
const maxLineBytes = 10 * 1024 * 1024

// DefaultGrace is how long graceful termination may take before escalating
// to SIGKILL.
const DefaultGrace = 10 * time.Second

var errSessionTimeout = errors.New("session timed out")

// Options configures a Supervisor
type Options struct {
	// Binary is the external CLI binary name or path
	Binary string

	// WorkDir is the target project directory sessions run in
	WorkDir string

	// Timeout bounds each phase invocation wall-clock time
	Timeout time.Duration

	// Grace is the window between SIGTERM and SIGKILL on timeout
	// (default DefaultGrace)
	Grace time.Duration

	// Bus receives stream events and session lifecycle notices
	Bus *events.Bus

	// Git performs the staging and commit operations for commit sessions
	Git *git.Client
}

// Supervisor runs external CLI sessions. It owns the handle to the currently
// active subprocess so a signal handler can request best-effort termination
// of whatever is running via CancelActive.
type Supervisor struct {
	opts Options

	mu     sync.Mutex
	active *exec.Cmd
}

// New creates a session supervisor
func New(opts Options) *Supervisor {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	return &Supervisor{opts: opts}
}

// CancelActive sends SIGTERM to the currently running subprocess, if any.
// Safe to call from a signal handler goroutine.
func (s *Supervisor) CancelActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.Process != nil {
		_ = s.active.Process.Signal(syscall.SIGTERM)
	}
}

// Run executes one phase session and reduces its output stream to a
// PhaseResult. The returned error covers launch-level problems (unreadable
// prompt, unwritable log); a session that ran and failed is reported through
// PhaseResult.Success, not the error.
func (s *Supervisor) Run(ctx context.Context, spec PhaseSpec) (PhaseResult, error) {
	promptBytes, err := os.ReadFile(spec.PromptFile)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("reading prompt: %w", err)
	}
	prompt := string(promptBytes)
	if spec.ExtraPrompt != "" {
		prompt = prompt + "\n\n" + spec.ExtraPrompt
	}

	logFile, err := os.Create(spec.LogFile)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("creating session log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(s.opts.Binary, buildArgs(prompt, spec.MaxTurns, spec.Model)...)
	cmd.Dir = s.opts.WorkDir
	// Keep Wait from hanging on inherited pipe fds when the subprocess
	// leaves grandchildren behind.
	cmd.WaitDelay = 5 * time.Second

	// Merge stdout and stderr into one stream; the tee loop reads pr.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return PhaseResult{}, fmt.Errorf("starting %s: %w", s.opts.Binary, err)
	}

	s.setActive(cmd)
	s.setSessionActive(true)
	defer func() {
		s.clearActive()
		s.setSessionActive(false)
	}()

	started := time.Now()

	// Tee loop: each line is appended to the log, parsed, and dispatched
	// before the next line is read, so log contents and delivered-event
	// order always agree.
	var markers []stream.MarkerEvent
	var result *stream.ResultEvent
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(logFile, line)

			for _, ev := range stream.Parse(line) {
				s.emitStream(spec, ev)
				switch e := ev.(type) {
				case stream.MarkerEvent:
					markers = append(markers, e)
				case stream.ResultEvent:
					result = &e
				}
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		pw.Close()
	}()

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	var exitErr error
	timedOut := false
	select {
	case exitErr = <-waitErr:

	case <-timer.C:
		timedOut = true
		s.opts.Bus.Warn(spec.StoryKey, fmt.Sprintf(
			"SESSION TIMEOUT: %s exceeded. Terminating subprocess.", s.opts.Timeout))
		exitErr = s.terminate(cmd, waitErr)
		// Unblock the output copier so Wait can finish even if the
		// tee loop already stopped consuming.
		pr.CloseWithError(errSessionTimeout)

	case <-ctx.Done():
		exitErr = s.terminate(cmd, waitErr)
		pr.CloseWithError(ctx.Err())
		<-readDone
		return s.buildResult(spec, markers, result, started, exitErr, false), ctx.Err()
	}

	<-readDone

	if timedOut {
		res := s.buildResult(spec, markers, result, started, exitErr, true)
		res.Duration = s.opts.Timeout
		return res, nil
	}
	return s.buildResult(spec, markers, result, started, exitErr, false), nil
}

func (s *Supervisor) buildResult(spec PhaseSpec, markers []stream.MarkerEvent,
	result *stream.ResultEvent, started time.Time, exitErr error, timedOut bool) PhaseResult {

	res := PhaseResult{
		Phase:    spec.Phase,
		StoryKey: spec.StoryKey,
		Markers:  markers,
		TimedOut: timedOut,
		Duration: time.Since(started),
	}
	if result != nil {
		res.NumTurns = result.NumTurns
		res.CostUSD = result.CostUSD
		if result.DurationMS > 0 {
			res.Duration = time.Duration(result.DurationMS) * time.Millisecond
		}
	}
	if !timedOut {
		res.Success = sessionSuccess(exitCode(exitErr), result)
	}
	return res
}

// terminate escalates from SIGTERM to SIGKILL after the grace window
func (s *Supervisor) terminate(cmd *exec.Cmd, waitErr <-chan error) error {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case err := <-waitErr:
		return err
	case <-time.After(s.opts.Grace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return <-waitErr
	}
}

func (s *Supervisor) setActive(cmd *exec.Cmd) {
	s.mu.Lock()
	s.active = cmd
	s.mu.Unlock()
}

func (s *Supervisor) clearActive() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

func (s *Supervisor) setSessionActive(active bool) {
	s.opts.Bus.Emit(events.NewEvent(events.SessionActive, "").WithPayload(active))
}

func (s *Supervisor) emitStream(spec PhaseSpec, ev stream.Event) {
	s.opts.Bus.Emit(events.NewEvent(events.StreamEvent, spec.StoryKey).
		WithPhase(string(spec.Phase)).
		WithPayload(ev))
}

// buildArgs constructs the CLI invocation for a phase session
func buildArgs(prompt string, maxTurns int, model string) []string {
	args := []string{
		"-p", prompt,
		"--verbose",
		"--max-turns", strconv.Itoa(maxTurns),
		"--output-format", "stream-json",
		"--dangerously-skip-permissions",
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
