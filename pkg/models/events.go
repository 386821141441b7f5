package models

import "time"

// EventKind classifies a status transition detected by a tree diff.
type EventKind string

const (
	// EventTaskCompleted fires when a task first transitions into completed.
	EventTaskCompleted EventKind = "task_completed"
	// EventPhaseCompleted fires when a phase first transitions into completed.
	EventPhaseCompleted EventKind = "phase_completed"
	// EventPlanCompleted fires when a plan first transitions into completed.
	EventPlanCompleted EventKind = "plan_completed"
	// EventRoadmapCompleted fires when a roadmap first transitions into completed.
	EventRoadmapCompleted EventKind = "roadmap_completed"
	// EventEpicCompleted fires when the root epic first transitions into completed.
	EventEpicCompleted EventKind = "epic_completed"
	// EventBlocked fires when a unit transitions into blocked.
	EventBlocked EventKind = "blocked"
	// EventFailed fires when a unit transitions into failed.
	EventFailed EventKind = "failed"
	// EventReset records an operator returning a unit to the queue. Never
	// emitted by a diff; written directly to the audit log.
	EventReset EventKind = "reset"
)

// CompletionEventKind returns the completion event kind for a hierarchy level.
func CompletionEventKind(k Kind) EventKind {
	switch k {
	case KindTask:
		return EventTaskCompleted
	case KindPhase:
		return EventPhaseCompleted
	case KindPlan:
		return EventPlanCompleted
	case KindRoadmap:
		return EventRoadmapCompleted
	case KindEpic:
		return EventEpicCompleted
	default:
		return ""
	}
}

// ClosesExternalItem reports whether this event kind should close the
// unit's external tracker item rather than just comment on it. Plans are
// the externally visible deliverable, so plan completion and everything
// above it closes.
func (k EventKind) ClosesExternalItem() bool {
	switch k {
	case EventPlanCompleted, EventRoadmapCompleted, EventEpicCompleted:
		return true
	default:
		return false
	}
}

// ChangeEvent records a single observed status transition.
type ChangeEvent struct {
	// Kind classifies the transition.
	Kind EventKind `json:"kind"`
	// UnitID is the unit that transitioned.
	UnitID string `json:"unit_id"`
	// Timestamp is when the transition was observed.
	Timestamp time.Time `json:"timestamp"`
}
