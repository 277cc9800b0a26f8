package session

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bmadtools/storyrun/internal/stream"
)

// commitMessageTurns bounds the message-generation session; writing a commit
// message needs a couple of read-only tool calls at most.
const commitMessageTurns = 5

// CommitSpec identifies the story being committed
type CommitSpec struct {
	// StoryID is the short dotted form, e.g. "1.2"
	StoryID string

	// StoryKey is the full status-document key, e.g. "1-2-user-auth"
	StoryKey string

	// StoryFile is the path to the story detail document
	StoryFile string
}

// Commit stages all working-tree changes and creates the story commit. The
// commit message is generated by a short CLI session; if generation fails
// for any reason a templated fallback message is used instead. Success means
// the git commit itself succeeded, regardless of how the message was made.
func (s *Supervisor) Commit(ctx context.Context, spec CommitSpec) (PhaseResult, error) {
	started := time.Now()

	if err := s.opts.Git.StageAll(ctx); err != nil {
		s.opts.Bus.Warn(spec.StoryKey, fmt.Sprintf("git add failed: %v", err))
	}

	msg := s.generateCommitMessage(ctx, spec)
	if msg == "" {
		msg = fmt.Sprintf("feat(story-%s): implement %s\n\nCo-Authored-By: Claude <noreply@anthropic.com>",
			spec.StoryID, spec.StoryKey)
	}

	err := s.opts.Git.Commit(ctx, msg)
	success := err == nil

	text := "Committed"
	if !success {
		text = "Commit failed"
	}
	s.emitStream(PhaseSpec{Phase: PhaseCommit, StoryKey: spec.StoryKey},
		stream.TextEvent{Text: fmt.Sprintf("%s: story-%s", text, spec.StoryID)})

	return PhaseResult{
		Phase:    PhaseCommit,
		StoryKey: spec.StoryKey,
		Duration: time.Since(started),
		Success:  success,
	}, nil
}

// generateCommitMessage asks the CLI to write the commit message from the
// story file and the staged diff. Any failure yields "".
func (s *Supervisor) generateCommitMessage(ctx context.Context, spec CommitSpec) string {
	prompt := fmt.Sprintf(`Generate a git commit message for this story implementation.

Story ID: %s
Story key: %s
Story file: %s

Rules:
- First line: feat(story-%s): <concise description of what was built>
- Empty line, then 3-6 bullet points summarizing the key changes
- End with: Co-Authored-By: Claude <noreply@anthropic.com>
- Keep it factual, describe what was implemented, not the process
- Max 20 words for the first line

Read the story file at %s and run 'git diff --cached --stat' to understand what changed.
Output ONLY the commit message, nothing else.`,
		spec.StoryID, spec.StoryKey, spec.StoryFile, spec.StoryID, spec.StoryFile)

	cmd := exec.CommandContext(ctx, s.opts.Binary,
		"-p", prompt,
		"--max-turns", fmt.Sprint(commitMessageTurns),
		"--dangerously-skip-permissions",
	)
	cmd.Dir = s.opts.WorkDir

	s.setActive(cmd)
	s.setSessionActive(true)
	defer func() {
		s.clearActive()
		s.setSessionActive(false)
	}()

	out, err := cmd.Output()
	if err != nil {
		s.opts.Bus.Warn(spec.StoryKey, fmt.Sprintf("Commit message generation failed (%v), using fallback message", err))
		return ""
	}
	return strings.TrimSpace(string(out))
}
