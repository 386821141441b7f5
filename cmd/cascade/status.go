package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ksargent/cascade/internal/history"
	"github.com/ksargent/cascade/internal/store"
	"github.com/ksargent/cascade/pkg/models"
)

var statusEvents int

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	blockedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tree and its progress",
	Long: `Display the work-unit tree with per-unit status, overall completion,
and (with --events) the most recent recorded transitions.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusEvents, "events", 0, "Also show the N most recent transitions")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st := store.New(stateDir)
	if !st.Exists() {
		fmt.Println("No tree found. Run 'cascade init' to start.")
		return nil
	}

	tree, err := st.Load()
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}

	root := tree.Root()
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s (%.0f%% complete)", root.Title, tree.CompletionPercentage())))

	counts := tree.CountByStatus()
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d completed · %d in progress · %d blocked · %d failed · %d not started",
		counts[models.StatusCompleted], counts[models.StatusInProgress],
		counts[models.StatusBlocked], counts[models.StatusFailed],
		counts[models.StatusNotStarted])))
	fmt.Println()

	printUnit(tree, root, 0)

	if statusEvents > 0 {
		if err := printEvents(statusEvents); err != nil {
			return err
		}
	}
	return nil
}

// printUnit renders a unit line and recurses into its children.
func printUnit(tree *models.Tree, u *models.WorkUnit, depth int) {
	indent := strings.Repeat("  ", depth)

	line := fmt.Sprintf("%s%s %s", indent, statusGlyph(u.Status), u.Title)
	if u.ExternalRef != "" {
		line += dimStyle.Render(fmt.Sprintf(" (#%s)", u.ExternalRef))
	}
	if u.Status == models.StatusBlocked && u.BlockerReason != "" {
		line += blockedStyle.Render(fmt.Sprintf(" — %s", u.BlockerReason))
	}
	if u.RetryCount > 0 {
		line += dimStyle.Render(fmt.Sprintf(" [retries: %d]", u.RetryCount))
	}
	if u.Sync != nil && u.Sync.Status != "" && u.Sync.Status != "ok" {
		line += dimStyle.Render(fmt.Sprintf(" [sync: %s]", u.Sync.Status))
	}
	fmt.Println(line)

	for _, child := range tree.Children(u) {
		printUnit(tree, child, depth+1)
	}
}

// statusGlyph maps a status to its colored marker.
func statusGlyph(s models.Status) string {
	switch s {
	case models.StatusCompleted:
		return completedStyle.Render("✓")
	case models.StatusInProgress:
		return activeStyle.Render("▸")
	case models.StatusBlocked:
		return blockedStyle.Render("✗")
	case models.StatusFailed:
		return blockedStyle.Render("!")
	default:
		return dimStyle.Render("·")
	}
}

// printEvents shows the most recent transitions from the audit log.
func printEvents(limit int) error {
	dbPath := history.DBPath(stateDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("\nNo transitions recorded yet.")
		return nil
	}

	db, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	events, err := db.RecentEvents(limit)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Recent transitions"))
	if len(events) == 0 {
		fmt.Println(dimStyle.Render("  none"))
		return nil
	}
	for _, ev := range events {
		fmt.Printf("  %s  %-18s %s\n",
			dimStyle.Render(ev.OccurredAt.Local().Format("2006-01-02 15:04:05")),
			ev.Kind, ev.UnitID)
	}
	return nil
}
