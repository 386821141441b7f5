// Package tracker provides the external issue-tracker client used by
// the reconciler to mirror work-unit transitions.
package tracker

import (
	"context"
)

// IssueTracker is the narrow surface the reconciler consumes. itemID is
// the unit's externalRef (e.g. an issue number).
type IssueTracker interface {
	// CreateComment posts a progress comment on an item.
	CreateComment(ctx context.Context, itemID, text string) error
	// CloseItem closes an item with a final comment.
	CloseItem(ctx context.Context, itemID, comment string) error
	// AddLabel attaches a label to an item.
	AddLabel(ctx context.Context, itemID, label string) error
	// RemoveLabel detaches a label from an item.
	RemoveLabel(ctx context.Context, itemID, label string) error
}
