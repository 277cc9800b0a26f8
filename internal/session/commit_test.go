package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmadtools/storyrun/internal/git"
	"github.com/bmadtools/storyrun/internal/testutil"
)

const fallbackMsg = "feat(story-1.2): implement 1-2-user-auth\n\nCo-Authored-By: Claude <noreply@anthropic.com>"

func commitSpec() CommitSpec {
	return CommitSpec{
		StoryID:   "1.2",
		StoryKey:  "1-2-user-auth",
		StoryFile: "stories/1-2-user-auth.md",
	}
}

func TestCommitFallsBackWhenGenerationFails(t *testing.T) {
	runner := testutil.NewStubRunner()
	runner.Stub("add -A", "", nil)
	runner.Stub("commit -m "+fallbackMsg, "", nil)

	sup := New(Options{
		// Message generation cannot run, so the templated message is used.
		Binary:  "/nonexistent/storyrun-cli",
		WorkDir: t.TempDir(),
		Timeout: time.Second,
		Git:     git.NewClientWithRunner(t.TempDir(), runner),
	})

	res, err := sup.Commit(context.Background(), commitSpec())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, PhaseCommit, res.Phase)
	assert.Equal(t, 1, runner.CallsFor("commit", "-m", fallbackMsg))
}

func TestCommitUsesGeneratedMessage(t *testing.T) {
	generated := "feat(story-1.2): add password hashing"
	runner := testutil.NewStubRunner()
	runner.Stub("add -A", "", nil)
	runner.Stub("commit -m "+generated, "", nil)

	sup := New(Options{
		Binary:  writeScript(t, "printf '%s\\n' 'feat(story-1.2): add password hashing'\n"),
		WorkDir: t.TempDir(),
		Timeout: time.Second,
		Git:     git.NewClientWithRunner(t.TempDir(), runner),
	})

	res, err := sup.Commit(context.Background(), commitSpec())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, runner.CallsFor("commit", "-m", generated))
}

func TestCommitReportsGitFailure(t *testing.T) {
	runner := testutil.NewStubRunner()
	runner.Stub("add -A", "", nil)
	runner.Stub("commit -m "+fallbackMsg, "", errors.New("nothing to commit"))

	sup := New(Options{
		Binary:  "/nonexistent/storyrun-cli",
		WorkDir: t.TempDir(),
		Timeout: time.Second,
		Git:     git.NewClientWithRunner(t.TempDir(), runner),
	})

	res, err := sup.Commit(context.Background(), commitSpec())
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestCommitContinuesPastStageFailure(t *testing.T) {
	runner := testutil.NewStubRunner()
	runner.Stub("add -A", "", errors.New("index locked"))
	runner.Stub("commit -m "+fallbackMsg, "", nil)

	sup := New(Options{
		Binary:  "/nonexistent/storyrun-cli",
		WorkDir: t.TempDir(),
		Timeout: time.Second,
		Git:     git.NewClientWithRunner(t.TempDir(), runner),
	})

	res, err := sup.Commit(context.Background(), commitSpec())
	require.NoError(t, err)
	assert.True(t, res.Success)
}
