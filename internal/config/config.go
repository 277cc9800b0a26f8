// Package config holds the immutable per-run session configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional per-project configuration file,
// looked up in the project directory. CLI flags override its values.
const ConfigFileName = ".storyrun.yaml"

// Config is the session configuration. It is constructed once at startup
// and never mutated afterwards.
type Config struct {
	// ProjectDir is the target project working directory
	ProjectDir string `yaml:"-"`

	// MaxStories bounds how many stories one run may process
	MaxStories int `yaml:"max_stories"`

	// Per-phase turn ceilings passed to the Claude CLI
	MaxTurnsCreate  int `yaml:"max_turns_create"`
	MaxTurnsDevelop int `yaml:"max_turns_develop"`
	MaxTurnsReview  int `yaml:"max_turns_review"`

	// MaxReviewRounds bounds the dev->review retry loop per story
	MaxReviewRounds int `yaml:"max_review_rounds"`

	// DevModel is the model for create-story and dev-story sessions
	// (empty uses the CLI default)
	DevModel string `yaml:"dev_model"`

	// ReviewModel is the model for code-review sessions; typically a
	// different model than DevModel so review is a second opinion
	ReviewModel string `yaml:"review_model"`

	// DryRun reports resume decisions without launching any subprocess
	DryRun bool `yaml:"-"`

	// ShowThinking displays thinking blocks in the activity log
	ShowThinking bool `yaml:"show_thinking"`

	// SessionTimeoutMinutes bounds each subprocess invocation
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`

	// TestCmd, when non-empty, runs after each dev-story session; a
	// failing run sends the story back to development before review
	TestCmd string `yaml:"test_cmd"`

	// ClaudeBinary overrides the external CLI binary name
	ClaudeBinary string `yaml:"claude_binary"`

	// PromptsDir overrides where the phase prompt templates live
	PromptsDir string `yaml:"prompts_dir"`
}

// Default returns the configuration defaults for a project directory
func Default(projectDir string) Config {
	return Config{
		ProjectDir:            projectDir,
		MaxStories:            999,
		MaxTurnsCreate:        100,
		MaxTurnsDevelop:       200,
		MaxTurnsReview:        150,
		MaxReviewRounds:       3,
		SessionTimeoutMinutes: 30,
		ClaudeBinary:          "claude",
	}
}

// Load returns the defaults for projectDir, overlaid with values from
// .storyrun.yaml when that file exists.
func Load(projectDir string) (Config, error) {
	cfg := Default(projectDir)

	path := filepath.Join(projectDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.ProjectDir = projectDir
	return cfg, nil
}

// Validate checks the configuration for usable values
func (c Config) Validate() error {
	if c.ProjectDir == "" {
		return errors.New("project directory must not be empty")
	}
	if c.MaxStories <= 0 {
		return fmt.Errorf("max stories must be greater than 0, got %d", c.MaxStories)
	}
	if c.MaxReviewRounds <= 0 {
		return fmt.Errorf("max review rounds must be greater than 0, got %d", c.MaxReviewRounds)
	}
	if c.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("session timeout must be greater than 0 minutes, got %d", c.SessionTimeoutMinutes)
	}
	for _, turns := range []struct {
		name  string
		value int
	}{
		{"create", c.MaxTurnsCreate},
		{"develop", c.MaxTurnsDevelop},
		{"review", c.MaxTurnsReview},
	} {
		if turns.value <= 0 {
			return fmt.Errorf("max turns for %s must be greater than 0, got %d", turns.name, turns.value)
		}
	}
	if c.ClaudeBinary == "" {
		return errors.New("claude binary must not be empty")
	}
	return nil
}

// SessionTimeout returns the per-session timeout as a duration
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// ArtifactsDir is where the sprint tooling keeps its implementation state
func (c Config) ArtifactsDir() string {
	return filepath.Join(c.ProjectDir, "_bmad-output", "implementation-artifacts")
}

// StatusPath is the sprint status document location
func (c Config) StatusPath() string {
	return filepath.Join(c.ArtifactsDir(), "sprint-status.yaml")
}

// LogDir is where per-session logs are written
func (c Config) LogDir() string {
	return filepath.Join(c.ArtifactsDir(), "logs")
}

// StoryFile is the detail file for a story key
func (c Config) StoryFile(storyKey string) string {
	return filepath.Join(c.ArtifactsDir(), storyKey+".md")
}

// PromptPath resolves a prompt template file name
func (c Config) PromptPath(name string) string {
	dir := c.PromptsDir
	if dir == "" {
		dir = filepath.Join(c.ProjectDir, "_bmad-output", "prompts")
	}
	return filepath.Join(dir, name)
}
