package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ksargent/cascade/internal/history"
	"github.com/ksargent/cascade/internal/store"
	"github.com/ksargent/cascade/pkg/models"
)

var resetCmd = &cobra.Command{
	Use:   "reset [unit-id]",
	Short: "Return blocked or failed units to the queue",
	Long: `Reset a blocked or failed unit to not_started so the gate can
dispatch it again, clearing its blocker reason and retry count.

With no argument, every blocked and failed unit is reset. This is the
operator's lever after fixing whatever blocked the frontier.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	st := store.New(stateDir)
	tree, err := st.Load()
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}

	var reset []string
	if len(args) == 1 {
		u := tree.Get(args[0])
		if u == nil {
			return fmt.Errorf("no unit %s", args[0])
		}
		if u.Status != models.StatusBlocked && u.Status != models.StatusFailed {
			return fmt.Errorf("unit %s is %s; only blocked or failed units can be reset", u.ID, u.Status)
		}
		resetUnit(u)
		reset = append(reset, u.ID)
	} else {
		tree.Walk(func(u *models.WorkUnit) bool {
			if u.Status == models.StatusBlocked || u.Status == models.StatusFailed {
				resetUnit(u)
				reset = append(reset, u.ID)
			}
			return true
		})
	}

	if len(reset) == 0 {
		fmt.Println("nothing to reset")
		return nil
	}

	if err := st.Save(tree); err != nil {
		return fmt.Errorf("save tree: %w", err)
	}
	auditReset(reset)

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s reset %d unit(s); re-run 'cascade run' to continue\n", green("✓"), len(reset))
	return nil
}

// auditReset records operator resets in the history log, best effort.
func auditReset(unitIDs []string) {
	db, err := history.Open(history.DBPath(stateDir))
	if err != nil {
		return
	}
	defer db.Close()
	now := time.Now()
	for _, id := range unitIDs {
		_ = db.RecordEvent(models.ChangeEvent{Kind: models.EventReset, UnitID: id, Timestamp: now})
	}
}

// resetUnit returns a unit to the dispatch queue.
func resetUnit(u *models.WorkUnit) {
	u.Status = models.StatusNotStarted
	u.BlockerReason = ""
	u.RetryCount = 0
	u.StartedAt = nil
	u.CompletedAt = nil
}
