// Package cli wires the command-line surface: flag parsing, configuration
// loading, signal handling, and assembly of the bus, supervisor, TUI and
// orchestrator for one run.
package cli

import (
	"github.com/spf13/cobra"
)

// versionInfo holds build-time version metadata
type versionInfo struct {
	Version string
	Commit  string
	Date    string
}

// App is the CLI application
type App struct {
	rootCmd *cobra.Command
	version versionInfo
}

// New creates the CLI application
func New() *App {
	app := &App{}
	app.rootCmd = newRunCmd(app)
	app.rootCmd.AddCommand(newVersionCmd(app))
	return app
}

// Execute runs the CLI
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion records build-time version metadata for the version command
func (a *App) SetVersion(version, commit, date string) {
	a.version = versionInfo{Version: version, Commit: commit, Date: date}
}
