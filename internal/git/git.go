// Package git wraps the handful of git subprocess calls the orchestrator
// needs. Query operations are deliberately forgiving: a missing binary or a
// non-zero exit is answered with a conservative false rather than an error,
// since git trouble must never crash the run.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands. The orchestrator tests swap in a stub.
type Runner interface {
	Exec(ctx context.Context, dir string, args ...string) (string, error)
}

// osRunner executes real git commands via exec.CommandContext
type osRunner struct{}

func (osRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w\nstderr: %s",
			strings.Join(args, " "), err, stderr.String())
	}

	return stdout.String(), nil
}

// Client provides git operations against one working directory
type Client struct {
	// Dir is the repository working directory
	Dir string

	runner Runner
}

// NewClient creates a git client backed by the real git binary
func NewClient(dir string) *Client {
	return &Client{Dir: dir, runner: osRunner{}}
}

// NewClientWithRunner creates a client with a custom runner. Intended for tests.
func NewClientWithRunner(dir string, runner Runner) *Client {
	return &Client{Dir: dir, runner: runner}
}

// IsDirty reports whether the working tree has uncommitted changes.
// Errors are swallowed: an unreadable repository reads as clean.
func (c *Client) IsDirty(ctx context.Context) bool {
	out, err := c.runner.Exec(ctx, c.Dir, "status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// HasDiff reports whether the working tree differs from HEAD
func (c *Client) HasDiff(ctx context.Context) bool {
	out, err := c.runner.Exec(ctx, c.Dir, "diff", "--stat")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// StoryCommitted reports whether any commit in history references the story
// identifier (e.g. "story-1.2"). The full story key may not appear in commit
// subjects, so the search uses the shorter id form.
func (c *Client) StoryCommitted(ctx context.Context, storyID string) bool {
	out, err := c.runner.Exec(ctx, c.Dir, "log", "--all", "--oneline", "--grep=story-"+storyID)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// StageAll stages every working-tree change (git add -A)
func (c *Client) StageAll(ctx context.Context) error {
	_, err := c.runner.Exec(ctx, c.Dir, "add", "-A")
	return err
}

// Commit creates a commit with the given message
func (c *Client) Commit(ctx context.Context, message string) error {
	_, err := c.runner.Exec(ctx, c.Dir, "commit", "-m", message)
	return err
}
