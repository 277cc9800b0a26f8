package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bmadtools/storyrun/internal/config"
	"github.com/bmadtools/storyrun/internal/events"
	"github.com/bmadtools/storyrun/internal/git"
	"github.com/bmadtools/storyrun/internal/orchestrator"
	"github.com/bmadtools/storyrun/internal/session"
	"github.com/bmadtools/storyrun/internal/tui"
)

// newRunCmd creates the root command, which runs the story loop
func newRunCmd(app *App) *cobra.Command {
	var (
		noTUI bool
		flags struct {
			maxStories      int
			maxTurnsCreate  int
			maxTurnsDevelop int
			maxTurnsReview  int
			maxReviewRounds int
			devModel        string
			reviewModel     string
			dryRun          bool
			showThinking    bool
			timeoutMinutes  int
			testCmd         string
			claudeBinary    string
		}
	)

	cmd := &cobra.Command{
		Use:   "storyrun [project-dir]",
		Short: "Run sprint stories through create, develop, review and commit",
		Long: `storyrun drives the Claude CLI through the story workflow: it picks the
next actionable story from the sprint status document, runs the create-story,
dev-story and code-review phases with a bounded review loop, and commits the
result once the story reaches done. Progress is tracked only in the status
document and git history, so an interrupted run resumes where it left off.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			if len(args) > 0 {
				projectDir, err = filepath.Abs(args[0])
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(projectDir)
			if err != nil {
				return err
			}

			// Flags override the config file only when set explicitly.
			set := cmd.Flags().Changed
			if set("max-stories") {
				cfg.MaxStories = flags.maxStories
			}
			if set("max-turns-create") {
				cfg.MaxTurnsCreate = flags.maxTurnsCreate
			}
			if set("max-turns-develop") {
				cfg.MaxTurnsDevelop = flags.maxTurnsDevelop
			}
			if set("max-turns-review") {
				cfg.MaxTurnsReview = flags.maxTurnsReview
			}
			if set("max-review-rounds") {
				cfg.MaxReviewRounds = flags.maxReviewRounds
			}
			if set("dev-model") {
				cfg.DevModel = flags.devModel
			}
			if set("review-model") {
				cfg.ReviewModel = flags.reviewModel
			}
			if set("show-thinking") {
				cfg.ShowThinking = flags.showThinking
			}
			if set("timeout") {
				cfg.SessionTimeoutMinutes = flags.timeoutMinutes
			}
			if set("test-cmd") {
				cfg.TestCmd = flags.testCmd
			}
			if set("claude-binary") {
				cfg.ClaudeBinary = flags.claudeBinary
			}
			cfg.DryRun = flags.dryRun

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runStories(cmd.Context(), cfg, noTUI)
		},
	}

	cmd.Flags().IntVar(&flags.maxStories, "max-stories", 999, "Maximum stories to process this run")
	cmd.Flags().IntVar(&flags.maxTurnsCreate, "max-turns-create", 100, "Turn ceiling for create-story sessions")
	cmd.Flags().IntVar(&flags.maxTurnsDevelop, "max-turns-develop", 200, "Turn ceiling for dev-story sessions")
	cmd.Flags().IntVar(&flags.maxTurnsReview, "max-turns-review", 150, "Turn ceiling for code-review sessions")
	cmd.Flags().IntVar(&flags.maxReviewRounds, "max-review-rounds", 3, "Maximum dev/review rounds per story")
	cmd.Flags().StringVar(&flags.devModel, "dev-model", "", "Model for create-story and dev-story sessions")
	cmd.Flags().StringVar(&flags.reviewModel, "review-model", "", "Model for code-review sessions")
	cmd.Flags().BoolVarP(&flags.dryRun, "dry-run", "n", false, "Report resume decisions without launching sessions")
	cmd.Flags().BoolVar(&flags.showThinking, "show-thinking", false, "Show thinking blocks in the activity log")
	cmd.Flags().IntVar(&flags.timeoutMinutes, "timeout", 30, "Per-session timeout in minutes")
	cmd.Flags().StringVar(&flags.testCmd, "test-cmd", "", "Verification command run after each dev-story session")
	cmd.Flags().StringVar(&flags.claudeBinary, "claude-binary", "", "Claude CLI binary name or path")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the dashboard (plain log output)")

	return cmd
}

// runStories assembles the run: bus, git, supervisor, orchestrator, and
// either the dashboard or a plain log handler.
func runStories(ctx context.Context, cfg config.Config, noTUI bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := events.NewBus()
	gitClient := git.NewClient(cfg.ProjectDir)
	sup := session.New(session.Options{
		Binary:  cfg.ClaudeBinary,
		WorkDir: cfg.ProjectDir,
		Timeout: cfg.SessionTimeout(),
		Bus:     bus,
		Git:     gitClient,
	})

	handler := NewSignalHandler(cancel)
	handler.OnShutdown(sup.CancelActive)
	handler.OnShutdown(func() {
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
	})
	handler.Start()
	defer handler.Stop()

	orch := orchestrator.New(cfg, bus, gitClient, sup)

	useTUI := !noTUI && !cfg.DryRun && term.IsTerminal(int(os.Stdout.Fd()))

	var result orchestrator.Result
	var runErr error
	if useTUI {
		result, runErr = runWithDashboard(ctx, cancel, orch, bus, sup, cfg.ShowThinking)
	} else {
		bus.Subscribe(events.LogHandler(events.LogConfig{Writer: os.Stdout, Quiet: cfg.DryRun}))
		result, runErr = orch.Run(ctx)
	}

	fmt.Printf("\nRun complete:\n")
	fmt.Printf("  Stories completed: %d\n", result.Completed)
	fmt.Printf("  Run ID:            %s\n", result.RunID)
	fmt.Printf("  Logs:              %s\n", cfg.LogDir())

	// A user-initiated quit is a clean exit, not an error.
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// runWithDashboard runs the orchestrator behind the bubbletea dashboard.
// The loop runs in a goroutine; the dashboard owns the terminal until the
// run finishes or the user quits.
func runWithDashboard(ctx context.Context, cancel context.CancelFunc,
	orch *orchestrator.Orchestrator, bus *events.Bus, sup *session.Supervisor,
	showThinking bool) (orchestrator.Result, error) {

	model := tui.NewModel(showThinking)
	program := tea.NewProgram(model, tea.WithAltScreen())
	bridge := tui.NewBridge(program)
	bus.Subscribe(bridge.Handler())

	type outcome struct {
		result orchestrator.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := orch.Run(ctx)
		done <- outcome{result, err}
		bridge.SendDone()
	}()

	finalModel, tuiErr := program.Run()
	if m, ok := finalModel.(*tui.Model); ok && m.Quitting {
		cancel()
		sup.CancelActive()
	}
	if tuiErr != nil {
		fmt.Fprintf(os.Stderr, "dashboard error: %v\n", tuiErr)
	}

	out := <-done
	return out.result, out.err
}
