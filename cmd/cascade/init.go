package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ksargent/cascade/internal/store"
)

var (
	initTasks []string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init <epic title>",
	Short: "Create a new work-unit tree",
	Long: `Initialize the state directory with a new epic.

A minimal tree is scaffolded under the epic (one roadmap, one plan, one
phase) with a task per --task flag. Edit the persisted documents to
refine titles, dependencies, and touched files before running.

Examples:
  cascade init "ship the importer"
  cascade init "ship the importer" --task "parse input" --task "write output"`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringArrayVar(&initTasks, "task", nil, "Task title (repeatable)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing tree")
}

func runInit(cmd *cobra.Command, args []string) error {
	st := store.New(stateDir)
	if st.Exists() && !initForce {
		return fmt.Errorf("%s already holds a tree (use --force to overwrite)", stateDir)
	}

	tree, err := store.Scaffold(args[0], initTasks)
	if err != nil {
		return fmt.Errorf("scaffold tree: %w", err)
	}
	if err := st.Save(tree); err != nil {
		return fmt.Errorf("save tree: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s initialized %q with %d units in %s\n",
		green("✓"), args[0], len(tree.Units), stateDir)
	fmt.Println("Next: set worker.command in config, then 'cascade run'.")
	return nil
}
