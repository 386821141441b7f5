package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/ksargent/cascade/internal/exec"
	"github.com/ksargent/cascade/internal/retry"
)

// GHTracker drives GitHub issues through the gh CLI. Every failure is
// reported as transient: the CLI's own exit codes don't distinguish
// network trouble from anything else, and a wrongly retried call is
// idempotent at the comment/label level.
type GHTracker struct {
	runner  exec.CommandRunner
	command string
	repo    string
}

// NewGHTracker creates a tracker client for the given owner/name repo.
// command defaults to "gh" when empty.
func NewGHTracker(runner exec.CommandRunner, command, repo string) *GHTracker {
	if command == "" {
		command = "gh"
	}
	return &GHTracker{
		runner:  runner,
		command: command,
		repo:    repo,
	}
}

// CreateComment posts a progress comment on an issue.
func (g *GHTracker) CreateComment(ctx context.Context, itemID, text string) error {
	return g.run(ctx, "issue", "comment", itemID, "--repo", g.repo, "--body", text)
}

// CloseItem closes an issue with a final comment.
func (g *GHTracker) CloseItem(ctx context.Context, itemID, comment string) error {
	args := []string{"issue", "close", itemID, "--repo", g.repo}
	if comment != "" {
		args = append(args, "--comment", comment)
	}
	return g.run(ctx, args...)
}

// AddLabel attaches a label to an issue.
func (g *GHTracker) AddLabel(ctx context.Context, itemID, label string) error {
	return g.run(ctx, "issue", "edit", itemID, "--repo", g.repo, "--add-label", label)
}

// RemoveLabel detaches a label from an issue.
func (g *GHTracker) RemoveLabel(ctx context.Context, itemID, label string) error {
	return g.run(ctx, "issue", "edit", itemID, "--repo", g.repo, "--remove-label", label)
}

// run executes a gh subcommand, wrapping failures as transient.
func (g *GHTracker) run(ctx context.Context, args ...string) error {
	if g.repo == "" {
		return fmt.Errorf("no tracker repo configured")
	}
	output, err := g.runner.Run(ctx, g.command, args...)
	if err != nil {
		msg := strings.TrimSpace(string(output))
		return retry.Transient(fmt.Errorf("%s %s: %w: %s", g.command, args[0], err, msg))
	}
	return nil
}

// CheckCLI verifies the tracker CLI is installed.
func CheckCLI(command string) error {
	if command == "" {
		command = "gh"
	}
	if !exec.LookPath(command) {
		return fmt.Errorf("%s CLI not found in PATH\n\n"+
			"cascade syncs progress to GitHub issues through the %s CLI.\n"+
			"Install it from https://cli.github.com or disable sync with tracker.enabled: false",
			command, command)
	}
	return nil
}

// Verify GHTracker implements IssueTracker at compile time.
var _ IssueTracker = (*GHTracker)(nil)
