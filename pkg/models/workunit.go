// Package models defines the shared types for the cascade work-breakdown tree.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a level of the work-breakdown hierarchy.
type Kind string

const (
	// KindEpic is the top-level container for an initiative.
	KindEpic Kind = "epic"
	// KindRoadmap groups related plans under an epic.
	KindRoadmap Kind = "roadmap"
	// KindPlan is a deliverable slice of a roadmap, persisted as its own document.
	KindPlan Kind = "plan"
	// KindPhase is a sequenced stage within a plan.
	KindPhase Kind = "phase"
	// KindTask is the smallest dispatchable unit; it has no children.
	KindTask Kind = "task"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindEpic, KindRoadmap, KindPlan, KindPhase, KindTask:
		return true
	default:
		return false
	}
}

// ChildKind returns the kind one level below this one.
// Tasks have no children, so ChildKind returns an empty Kind for them.
func (k Kind) ChildKind() Kind {
	switch k {
	case KindEpic:
		return KindRoadmap
	case KindRoadmap:
		return KindPlan
	case KindPlan:
		return KindPhase
	case KindPhase:
		return KindTask
	default:
		return ""
	}
}

// Status represents the current state of a work unit.
type Status string

const (
	// StatusNotStarted indicates the unit has not been dispatched.
	StatusNotStarted Status = "not_started"
	// StatusInProgress indicates the unit has been dispatched at least once.
	StatusInProgress Status = "in_progress"
	// StatusBlocked indicates the unit cannot proceed without operator action.
	StatusBlocked Status = "blocked"
	// StatusFailed indicates the unit's last execution attempt errored.
	StatusFailed Status = "failed"
	// StatusCompleted indicates the unit finished successfully. Terminal.
	StatusCompleted Status = "completed"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusBlocked, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that end an execution attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked || s == StatusFailed
}

// SyncMeta records the outcome of the most recent tracker sync for a unit.
// It is advisory metadata and never participates in gating decisions.
type SyncMeta struct {
	// Status is one of "ok", "pending", "failed", "circuit_open".
	Status string `json:"status" yaml:"status"`
	// LastSyncedAt is when the tracker last acknowledged a sync.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
	// Error holds the last sync error message, if any.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// WorkUnit is a node in the Epic/Roadmap/Plan/Phase/Task hierarchy.
type WorkUnit struct {
	// ID is the stable unique identifier for this unit.
	ID string `json:"id" yaml:"id"`
	// Kind is the hierarchy level of this unit.
	Kind Kind `json:"kind" yaml:"kind"`
	// Title is the short description of the unit.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the unit.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Status is the current state of the unit.
	Status Status `json:"status" yaml:"status"`
	// Children lists child unit IDs in authoritative execution order.
	Children []string `json:"children,omitempty" yaml:"children,omitempty"`
	// DependsOn lists sibling IDs that must be completed before this unit
	// is eligible. Empty means strict ordering by position.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// FilesTouched lists resources this unit is expected to modify.
	// Units sharing an entry are never dispatched in the same batch.
	FilesTouched []string `json:"files_touched,omitempty" yaml:"files_touched,omitempty"`
	// ExternalRef is the external tracker item for this unit. Once set it
	// is immutable; the same item is reused for the life of the unit.
	ExternalRef string `json:"external_ref,omitempty" yaml:"external_ref,omitempty"`
	// StartedAt is when the unit first entered in_progress. Set once.
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	// CompletedAt is when the unit entered completed. Set once.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	// RetryCount is the number of execution attempts beyond the first.
	RetryCount int `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	// BlockerReason explains why the unit is blocked, if it is.
	BlockerReason string `json:"blocker_reason,omitempty" yaml:"blocker_reason,omitempty"`
	// Sync is non-gating tracker-sync metadata owned by the reconciler.
	Sync *SyncMeta `json:"sync,omitempty" yaml:"sync,omitempty"`
}

// NewUnit creates a not_started unit of the given kind with a generated ID.
func NewUnit(kind Kind, title string) *WorkUnit {
	return &WorkUnit{
		ID:     GenerateID(kind),
		Kind:   kind,
		Title:  title,
		Status: StatusNotStarted,
	}
}

// GenerateID returns a kind-prefixed short unique ID, e.g. "task-3f84c1d2".
func GenerateID(kind Kind) string {
	return fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8])
}

// IsLeaf returns true if the unit has no children and is therefore
// dispatchable as-is.
func (u *WorkUnit) IsLeaf() bool {
	return len(u.Children) == 0
}

// Clone returns a deep copy of the unit.
func (u *WorkUnit) Clone() *WorkUnit {
	c := *u
	c.Children = append([]string(nil), u.Children...)
	c.DependsOn = append([]string(nil), u.DependsOn...)
	c.FilesTouched = append([]string(nil), u.FilesTouched...)
	if u.StartedAt != nil {
		t := *u.StartedAt
		c.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		c.CompletedAt = &t
	}
	if u.Sync != nil {
		s := *u.Sync
		if u.Sync.LastSyncedAt != nil {
			t := *u.Sync.LastSyncedAt
			s.LastSyncedAt = &t
		}
		c.Sync = &s
	}
	return &c
}

// TouchesAny returns true if the unit shares any FilesTouched entry with
// the given set of paths.
func (u *WorkUnit) TouchesAny(paths map[string]bool) bool {
	for _, p := range u.FilesTouched {
		if paths[p] {
			return true
		}
	}
	return false
}
