package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes reported by run and tick.
const (
	exitOK      = 0 // epic completed or command succeeded
	exitHalted  = 1 // run halted on an unrecoverable error
	exitPaused  = 2 // budget threshold reached; compact and re-run
	exitBlocked = 3 // frontier blocked awaiting operator action
)

// exitCode is set by commands that report engine outcomes.
var exitCode int

var stateDir string

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Hierarchical task orchestration engine",
	Long: `Cascade drives a tree of work units (epic, roadmaps, plans, phases,
tasks) through an external worker command, one gated frontier at a time.

State lives on disk as plain documents an operator can inspect and edit
between ticks. Status changes are mirrored to an issue tracker when one
is configured.

Typical flow:
  cascade init "ship the importer" --task "parse input" --task "write output"
  cascade run
  cascade status`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitHalted)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".cascade/state", "Directory holding the persisted tree")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}
