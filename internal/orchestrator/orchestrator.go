// Package orchestrator drives stories through the create, develop, review
// and commit phases. It owns no story state of its own: the sprint status
// document is the source of truth for where each story stands, and the loop
// re-reads it after every phase to decide what happens next.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bmadtools/storyrun/internal/config"
	"github.com/bmadtools/storyrun/internal/events"
	"github.com/bmadtools/storyrun/internal/git"
	"github.com/bmadtools/storyrun/internal/session"
	"github.com/bmadtools/storyrun/internal/sprint"
	"github.com/bmadtools/storyrun/internal/stream"
)

// Prompt template file names, resolved against the configured prompts dir.
const (
	PromptCreateStory = "PROMPT-create-story.md"
	PromptDevStory    = "PROMPT-dev-story.md"
	PromptCodeReview  = "PROMPT-code-review.md"
)

// SessionRunner is the slice of the session supervisor the loop needs.
// Tests substitute a scripted fake.
type SessionRunner interface {
	Run(ctx context.Context, spec session.PhaseSpec) (session.PhaseResult, error)
	Commit(ctx context.Context, spec session.CommitSpec) (session.PhaseResult, error)
}

// Result summarizes one orchestrator run
type Result struct {
	// RunID uniquely identifies this run in events and summaries
	RunID string

	// Completed counts stories that finished the full workflow
	// (including dry-run tallies)
	Completed int
}

// Orchestrator runs the main story loop
type Orchestrator struct {
	cfg    config.Config
	bus    *events.Bus
	git    *git.Client
	runner SessionRunner

	// pause durations are fields so tests can collapse them
	betweenStoriesPause time.Duration
	partialWorkPause    time.Duration
	countdownTick       time.Duration

	// runTests executes the configured verification command
	runTests func(ctx context.Context) error
}

// New creates an orchestrator
func New(cfg config.Config, bus *events.Bus, gitClient *git.Client, runner SessionRunner) *Orchestrator {
	o := &Orchestrator{
		cfg:                 cfg,
		bus:                 bus,
		git:                 gitClient,
		runner:              runner,
		betweenStoriesPause: 5 * time.Second,
		partialWorkPause:    10 * time.Second,
		countdownTick:       time.Second,
	}
	o.runTests = o.execTestCmd
	return o
}

// Run executes the story loop until no actionable story remains, the story
// ceiling is reached, a story fails in a way the loop cannot recover from,
// or the context is cancelled. The returned error covers configuration and
// infrastructure failures only; a run that stopped on a failed story still
// returns a nil error with its partial completion count.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}

	if err := o.preflight(); err != nil {
		o.bus.Emit(events.NewEvent(events.RunFailed, "").WithError(err))
		return res, err
	}

	o.bus.Emit(events.NewEvent(events.RunStarted, "").WithPayload(res.RunID))
	o.refreshStats()

	if err := o.recoverCommitGap(ctx); err != nil {
		o.bus.Emit(events.NewEvent(events.RunFailed, "").WithError(err))
		return res, err
	}

	for i := 1; i <= o.cfg.MaxStories; i++ {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		doc, err := sprint.LoadWithRetry(ctx, o.cfg.StatusPath())
		if err != nil {
			o.bus.Emit(events.NewEvent(events.RunFailed, "").WithError(err))
			return res, err
		}

		key, status, ok := doc.NextActionable()
		if !ok {
			o.bus.Notice("", "No more actionable stories. All stories have been created or completed.")
			break
		}

		resume := resumePhase(status)
		storyID := sprint.StoryID(key)
		storyFile := o.cfg.StoryFile(key)

		// A develop or review resume needs the story detail file; if the
		// previous run died before writing it, start over at create.
		if resume != session.PhaseCreate {
			if _, err := os.Stat(storyFile); err != nil {
				o.bus.Warn(key, fmt.Sprintf("Story file missing for %s, falling back to Create Story", key))
				resume = session.PhaseCreate
			}
		}

		o.bus.Emit(events.NewEvent(events.StorySelected, key).WithPayload(i))
		o.bus.Notice(key, fmt.Sprintf("Story %d: %s (%s)", i, key, storyID))

		if o.cfg.DryRun {
			o.bus.Notice(key, fmt.Sprintf("[DRY RUN] Would resume: %s at %s", key, resume))
			res.Completed++
			continue
		}

		if resume != session.PhaseCreate {
			o.bus.Emit(events.NewEvent(events.StoryResumed, key).WithPhase(string(resume)))
			o.bus.Notice(key, fmt.Sprintf("RESUMING story %s at %s", key, resume))
		}

		outcome, err := o.runStory(ctx, key, storyID, storyFile, resume)
		if err != nil {
			return res, err
		}
		if outcome == storyCompleted {
			res.Completed++
			o.refreshStats()
		}
		if outcome == storyAborted {
			break
		}

		if i < o.cfg.MaxStories {
			if err := o.countdown(ctx, o.betweenStoriesPause, "Next story in %ds..."); err != nil {
				return res, err
			}
		}
	}

	o.bus.Notice("", fmt.Sprintf("Session Complete. Stories completed: %d. Logs: %s",
		res.Completed, o.cfg.LogDir()))
	o.bus.Emit(events.NewEvent(events.RunCompleted, "").WithPayload(res))
	return res, nil
}

// storyOutcome is how one story's workflow ended
type storyOutcome int

const (
	// storyCompleted: committed and confirmed in git history
	storyCompleted storyOutcome = iota
	// storyIncomplete: commit ran but could not be confirmed; the run continues
	storyIncomplete
	// storyAborted: the story stopped in a state that would be re-picked
	// immediately, so the whole run must stop
	storyAborted
)

// runStory drives one story from its resume phase through commit
func (o *Orchestrator) runStory(ctx context.Context, key, storyID, storyFile string, resume session.Phase) (storyOutcome, error) {
	timestamp := time.Now().Format("20060102-150405")

	if resume == session.PhaseCreate {
		ok, err := o.runCreate(ctx, key, timestamp)
		if err != nil || !ok {
			return storyAborted, err
		}
		o.refreshStats()
	}

	done, err := o.developReviewLoop(ctx, key, storyFile, timestamp, resume)
	if err != nil {
		return storyAborted, err
	}
	if !done {
		status, serr := o.storyStatus(ctx, key)
		if serr == nil {
			o.bus.Notice(key, fmt.Sprintf("Story %s is NOT done (status: %s). Stopping.", key, status))
		}
		o.bus.Emit(events.NewEvent(events.StoryStopped, key))
		return storyAborted, nil
	}

	return o.runCommit(ctx, key, storyID, storyFile)
}

// runCreate runs the create-story phase and verifies the story advanced to
// ready-for-dev. Session failure alone is not fatal: the subprocess can hit
// its turn ceiling after already writing the story, so the status document
// decides.
func (o *Orchestrator) runCreate(ctx context.Context, key, timestamp string) (bool, error) {
	o.bus.Notice(key, fmt.Sprintf("--- Step 1: Create Story (%s) ---", key))
	logFile := o.logPath(timestamp, key, session.PhaseCreate, 0)

	result, err := o.runPhase(ctx, session.PhaseSpec{
		Phase:      session.PhaseCreate,
		StoryKey:   key,
		PromptFile: o.cfg.PromptPath(PromptCreateStory),
		LogFile:    logFile,
		MaxTurns:   o.cfg.MaxTurnsCreate,
		Model:      o.cfg.DevModel,
	}, 0)
	if err != nil {
		return false, err
	}

	if result.HasMarker(stream.MarkerHalt) {
		o.halt(key, result.MarkerPayload(stream.MarkerHalt), logFile)
		return false, nil
	}

	status, err := o.storyStatus(ctx, key)
	if err != nil {
		return false, err
	}
	if status != sprint.StatusReadyForDev {
		o.bus.Warn(key, fmt.Sprintf(
			"ERROR: Expected status 'ready-for-dev' after create-story, got '%s'. Check log: %s",
			status, logFile))
		return false, nil
	}
	if !result.Success {
		o.bus.Warn(key, "Create Story session reported failure but the story advanced to ready-for-dev. Continuing.")
	}
	return true, nil
}

// developReviewLoop alternates dev-story and code-review for up to
// MaxReviewRounds rounds. Returns true when the story reached done.
func (o *Orchestrator) developReviewLoop(ctx context.Context, key, storyFile, timestamp string, resume session.Phase) (bool, error) {
	skipFirstDevelop := resume == session.PhaseReview

	if resume == session.PhaseDevelop && o.git.HasDiff(ctx) {
		o.bus.Warn(key, "Partial changes detected in working tree. Resuming dev-story shortly... (press q to abort)")
		if err := o.countdown(ctx, o.partialWorkPause, "Resuming in %ds..."); err != nil {
			return false, err
		}
	}

	for round := 1; round <= o.cfg.MaxReviewRounds; round++ {
		if !(skipFirstDevelop && round == 1) {
			ok, err := o.runDevelop(ctx, key, storyFile, timestamp, round, resume)
			if err != nil || !ok {
				return false, err
			}

			if o.cfg.TestCmd != "" {
				if err := o.runTests(ctx); err != nil {
					if round < o.cfg.MaxReviewRounds {
						o.bus.Warn(key, fmt.Sprintf(
							"Tests failed (%v). Sending story back to dev-story (round %d)...", err, round+1))
						continue
					}
					o.bus.Warn(key, fmt.Sprintf(
						"Tests failed (%v) and max review rounds (%d) reached.", err, o.cfg.MaxReviewRounds))
					return false, nil
				}
			}
		}

		done, fatal, err := o.runReview(ctx, key, storyFile, timestamp, round)
		if err != nil || fatal {
			return false, err
		}
		if done {
			return true, nil
		}

		if round < o.cfg.MaxReviewRounds {
			o.bus.Notice(key, fmt.Sprintf("Code review found issues. Running dev-story again (round %d)...", round+1))
		} else {
			o.bus.Warn(key, fmt.Sprintf("Max review rounds (%d) reached. Story not fully approved.", o.cfg.MaxReviewRounds))
		}
	}
	return false, nil
}

// runDevelop runs one dev-story round and reconciles the session outcome
// against the status document. HALT wins over everything else, including a
// status that advanced.
func (o *Orchestrator) runDevelop(ctx context.Context, key, storyFile, timestamp string, round int, resume session.Phase) (bool, error) {
	o.bus.Notice(key, fmt.Sprintf("--- Step 2: Dev Story (%s) [round %d/%d] ---", key, round, o.cfg.MaxReviewRounds))
	logFile := o.logPath(timestamp, key, session.PhaseDevelop, round)

	// Resumed stories and later rounds already have a story file the
	// subprocess must pick up instead of starting fresh.
	extra := ""
	if round > 1 || resume != session.PhaseCreate {
		extra = "STORY_PATH: " + storyFile
	}

	result, err := o.runPhase(ctx, session.PhaseSpec{
		Phase:       session.PhaseDevelop,
		StoryKey:    key,
		PromptFile:  o.cfg.PromptPath(PromptDevStory),
		ExtraPrompt: extra,
		LogFile:     logFile,
		MaxTurns:    o.cfg.MaxTurnsDevelop,
		Model:       o.cfg.DevModel,
	}, round)
	if err != nil {
		return false, err
	}

	if result.HasMarker(stream.MarkerHalt) {
		o.halt(key, result.MarkerPayload(stream.MarkerHalt), logFile)
		return false, nil
	}

	status, err := o.storyStatus(ctx, key)
	if err != nil {
		return false, err
	}
	switch status {
	case sprint.StatusReview:
		if !result.Success {
			o.bus.Warn(key, "Dev Story session reported failure but the story advanced to review. Continuing.")
		}
	case sprint.StatusDone:
		// The subprocess skipped the review handoff. Review still runs:
		// done is not trusted without the approval gate.
		o.bus.Warn(key, fmt.Sprintf("Story %s jumped straight to done; running code review anyway.", key))
	default:
		o.bus.Warn(key, fmt.Sprintf(
			"ERROR: Expected status 'review' after dev-story, got '%s'. Check log: %s", status, logFile))
		return false, nil
	}
	return true, nil
}

// runReview runs one code-review round. done reports approval; fatal reports
// a HALT that must stop the story.
func (o *Orchestrator) runReview(ctx context.Context, key, storyFile, timestamp string, round int) (done, fatal bool, err error) {
	o.bus.Notice(key, fmt.Sprintf("--- Step 3: Code Review (%s) [round %d/%d] ---", key, round, o.cfg.MaxReviewRounds))
	logFile := o.logPath(timestamp, key, session.PhaseReview, round)

	result, err := o.runPhase(ctx, session.PhaseSpec{
		Phase:       session.PhaseReview,
		StoryKey:    key,
		PromptFile:  o.cfg.PromptPath(PromptCodeReview),
		ExtraPrompt: "STORY_PATH: " + storyFile,
		LogFile:     logFile,
		MaxTurns:    o.cfg.MaxTurnsReview,
		Model:       o.cfg.ReviewModel,
	}, round)
	if err != nil {
		return false, false, err
	}

	if result.HasMarker(stream.MarkerHalt) {
		o.halt(key, result.MarkerPayload(stream.MarkerHalt), logFile)
		return false, true, nil
	}

	status, err := o.storyStatus(ctx, key)
	if err != nil {
		return false, false, err
	}
	return status == sprint.StatusDone, false, nil
}

// runCommit commits the finished story and confirms the commit landed.
// Completion requires both: the commit session reporting success and a
// matching entry in git history.
func (o *Orchestrator) runCommit(ctx context.Context, key, storyID, storyFile string) (storyOutcome, error) {
	o.bus.Notice(key, fmt.Sprintf("--- Committing: Story %s (%s) ---", storyID, key))
	o.bus.Emit(events.NewEvent(events.PhaseStarted, key).WithPhase(string(session.PhaseCommit)))

	result, err := o.runner.Commit(ctx, session.CommitSpec{
		StoryID:   storyID,
		StoryKey:  key,
		StoryFile: storyFile,
	})
	if err != nil {
		return storyIncomplete, err
	}
	o.emitPhaseCompleted(key, result, 0)

	confirmed := o.git.StoryCommitted(ctx, storyID)
	if !result.Success || !confirmed {
		o.bus.Warn(key, fmt.Sprintf(
			"Commit could not be confirmed for %s (session success=%t, found in git log=%t). Not counting as completed.",
			key, result.Success, confirmed))
		return storyIncomplete, nil
	}

	o.bus.Emit(events.NewEvent(events.StoryCompleted, key))
	return storyCompleted, nil
}

// recoverCommitGap commits the first done-but-uncommitted story when the
// working tree is dirty, before the main loop runs. One recovery per run.
func (o *Orchestrator) recoverCommitGap(ctx context.Context) error {
	doc, err := sprint.LoadWithRetry(ctx, o.cfg.StatusPath())
	if err != nil {
		return err
	}

	done := doc.DoneStories()
	if len(done) == 0 || !o.git.IsDirty(ctx) {
		return nil
	}

	for _, key := range done {
		storyID := sprint.StoryID(key)
		if o.git.StoryCommitted(ctx, storyID) {
			continue
		}
		o.bus.Notice(key, fmt.Sprintf("Recovering uncommitted story: %s", key))
		result, err := o.runner.Commit(ctx, session.CommitSpec{
			StoryID:   storyID,
			StoryKey:  key,
			StoryFile: o.cfg.StoryFile(key),
		})
		if err != nil {
			return err
		}
		o.bus.Emit(events.NewEvent(events.StoryRecovered, key).WithPayload(result.Success))
		o.refreshStats()
		break
	}
	return nil
}

// preflight verifies the run can start at all: the CLI binary resolves, the
// prompt templates exist, and the status document is present.
func (o *Orchestrator) preflight() error {
	if _, err := exec.LookPath(o.cfg.ClaudeBinary); err != nil {
		return fmt.Errorf("'%s' command not found: %w", o.cfg.ClaudeBinary, err)
	}

	required := []string{
		o.cfg.PromptPath(PromptCreateStory),
		o.cfg.PromptPath(PromptDevStory),
		o.cfg.PromptPath(PromptCodeReview),
		o.cfg.StatusPath(),
	}
	for _, path := range required {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required file not found: %s", path)
		}
	}

	if err := os.MkdirAll(o.cfg.LogDir(), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	return nil
}

// runPhase wraps a session invocation with its lifecycle events
func (o *Orchestrator) runPhase(ctx context.Context, spec session.PhaseSpec, round int) (session.PhaseResult, error) {
	o.bus.Emit(events.NewEvent(events.PhaseStarted, spec.StoryKey).WithPhase(string(spec.Phase)))
	result, err := o.runner.Run(ctx, spec)
	if err != nil {
		return result, err
	}
	o.emitPhaseCompleted(spec.StoryKey, result, round)
	return result, nil
}

func (o *Orchestrator) emitPhaseCompleted(key string, result session.PhaseResult, round int) {
	o.bus.Emit(events.NewEvent(events.PhaseCompleted, key).
		WithPhase(string(result.Phase)).
		WithPayload(events.PhasePayload{
			Round:    round,
			Turns:    result.NumTurns,
			CostUSD:  result.CostUSD,
			Duration: result.Duration,
			Success:  result.Success,
		}))
}

func (o *Orchestrator) halt(key, reason, logFile string) {
	if reason == "" {
		reason = "no reason given"
	}
	o.bus.Warn(key, fmt.Sprintf("HALT: %s. Check log: %s", reason, logFile))
	o.bus.Emit(events.NewEvent(events.StoryHalted, key).WithPayload(reason))
}

// storyStatus re-reads the status document for one story. The document is
// written by the subprocess that just exited, so it is never cached.
func (o *Orchestrator) storyStatus(ctx context.Context, key string) (sprint.Status, error) {
	doc, err := sprint.LoadWithRetry(ctx, o.cfg.StatusPath())
	if err != nil {
		o.bus.Emit(events.NewEvent(events.RunFailed, key).WithError(err))
		return sprint.StatusUnknown, err
	}
	return doc.StoryStatus(key), nil
}

// refreshStats recomputes sprint counters for the presentation layer.
// Failures are swallowed: the counters are cosmetic.
func (o *Orchestrator) refreshStats() {
	doc, err := sprint.Load(o.cfg.StatusPath())
	if err != nil {
		return
	}
	totalEpics, doneEpics := doc.CountEpics()
	totalStories, doneStories := doc.CountStories()
	o.bus.Emit(events.NewEvent(events.SprintStats, "").WithPayload(events.StatsPayload{
		TotalEpics:  totalEpics,
		DoneEpics:   doneEpics,
		TotalStory:  totalStories,
		DoneStories: doneStories,
	}))
}

// countdown emits one Countdown event per second until the pause elapses,
// then clears the countdown line. Cancellation interrupts it.
func (o *Orchestrator) countdown(ctx context.Context, pause time.Duration, format string) error {
	secs := int(pause / time.Second)
	for s := secs; s >= 1; s-- {
		o.bus.Emit(events.NewEvent(events.Countdown, "").WithPayload(fmt.Sprintf(format, s)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.countdownTick):
		}
	}
	o.bus.Emit(events.NewEvent(events.Countdown, "").WithPayload(""))
	return nil
}

// execTestCmd runs the configured verification command in the project dir
func (o *Orchestrator) execTestCmd(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", o.cfg.TestCmd)
	cmd.Dir = o.cfg.ProjectDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", firstLine(string(out)), err)
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// resumePhase maps a story's persisted status to the phase the loop should
// start from
func resumePhase(status sprint.Status) session.Phase {
	switch status {
	case sprint.StatusInProgress, sprint.StatusReadyForDev:
		return session.PhaseDevelop
	case sprint.StatusReview:
		return session.PhaseReview
	default:
		return session.PhaseCreate
	}
}

// logPath builds a per-invocation log file path. Round 0 omits the round
// suffix (create-story runs once per story).
func (o *Orchestrator) logPath(timestamp, key string, phase session.Phase, round int) string {
	name := fmt.Sprintf("%s_%s_%s.log", timestamp, key, phase.LogSlug())
	if round > 0 {
		name = fmt.Sprintf("%s_%s_%s-r%d.log", timestamp, key, phase.LogSlug(), round)
	}
	return filepath.Join(o.cfg.LogDir(), name)
}
