package store

import (
	"time"

	"github.com/ksargent/cascade/pkg/models"
)

// Diff compares two tree snapshots and returns one ChangeEvent per
// observed status transition, in document order. A unit transitioning
// into completed for the first time yields exactly one completion event
// for its level; transitions into blocked or failed yield their events.
// No-op writes produce nothing, so Diff(x, x) is always empty.
func Diff(old, new *models.Tree) []models.ChangeEvent {
	return diffAt(old, new, time.Now())
}

// diffAt is Diff with an explicit observation time, for tests.
func diffAt(old, new *models.Tree, observedAt time.Time) []models.ChangeEvent {
	var events []models.ChangeEvent

	new.Walk(func(u *models.WorkUnit) bool {
		var prev models.Status = models.StatusNotStarted
		if old != nil {
			if ou := old.Get(u.ID); ou != nil {
				prev = ou.Status
			}
		}
		if prev == u.Status {
			return true
		}

		switch u.Status {
		case models.StatusCompleted:
			ts := observedAt
			if u.CompletedAt != nil {
				ts = *u.CompletedAt
			}
			events = append(events, models.ChangeEvent{
				Kind:      models.CompletionEventKind(u.Kind),
				UnitID:    u.ID,
				Timestamp: ts,
			})
		case models.StatusBlocked:
			events = append(events, models.ChangeEvent{
				Kind:      models.EventBlocked,
				UnitID:    u.ID,
				Timestamp: observedAt,
			})
		case models.StatusFailed:
			events = append(events, models.ChangeEvent{
				Kind:      models.EventFailed,
				UnitID:    u.ID,
				Timestamp: observedAt,
			})
		}
		return true
	})

	return events
}
