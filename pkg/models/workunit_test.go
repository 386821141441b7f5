package models

import (
	"strings"
	"testing"
	"time"
)

func TestStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"not_started is valid", StatusNotStarted, true},
		{"in_progress is valid", StatusInProgress, true},
		{"blocked is valid", StatusBlocked, true},
		{"failed is valid", StatusFailed, true},
		{"completed is valid", StatusCompleted, true},
		{"empty string is invalid", Status(""), false},
		{"unknown status is invalid", Status("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("Status(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusNotStarted, false},
		{StatusInProgress, false},
		{StatusBlocked, true},
		{StatusFailed, true},
		{StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Status(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestKind_ChildKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want Kind
	}{
		{KindEpic, KindRoadmap},
		{KindRoadmap, KindPlan},
		{KindPlan, KindPhase},
		{KindPhase, KindTask},
		{KindTask, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.ChildKind(); got != tt.want {
				t.Errorf("Kind(%q).ChildKind() = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestGenerateID_Prefix(t *testing.T) {
	id := GenerateID(KindTask)
	if !strings.HasPrefix(id, "task-") {
		t.Errorf("GenerateID(KindTask) = %q, want task- prefix", id)
	}
	if len(id) != len("task-")+8 {
		t.Errorf("GenerateID(KindTask) = %q, want 8-char suffix", id)
	}

	// IDs must be unique across calls.
	if GenerateID(KindTask) == id {
		t.Error("GenerateID returned duplicate IDs")
	}
}

func TestWorkUnit_Clone(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := &WorkUnit{
		ID:           "task-1",
		Kind:         KindTask,
		Title:        "original",
		Status:       StatusInProgress,
		DependsOn:    []string{"task-0"},
		FilesTouched: []string{"a.go"},
		StartedAt:    &started,
		Sync:         &SyncMeta{Status: "ok"},
	}

	clone := orig.Clone()

	// Mutating the clone must not affect the original.
	clone.Title = "mutated"
	clone.DependsOn[0] = "task-9"
	clone.FilesTouched = append(clone.FilesTouched, "b.go")
	*clone.StartedAt = started.Add(time.Hour)
	clone.Sync.Status = "failed"

	if orig.Title != "original" {
		t.Errorf("clone mutation leaked into original title: %q", orig.Title)
	}
	if orig.DependsOn[0] != "task-0" {
		t.Errorf("clone mutation leaked into original DependsOn: %v", orig.DependsOn)
	}
	if len(orig.FilesTouched) != 1 {
		t.Errorf("clone mutation leaked into original FilesTouched: %v", orig.FilesTouched)
	}
	if !orig.StartedAt.Equal(started) {
		t.Errorf("clone mutation leaked into original StartedAt: %v", orig.StartedAt)
	}
	if orig.Sync.Status != "ok" {
		t.Errorf("clone mutation leaked into original Sync: %+v", orig.Sync)
	}
}

func TestWorkUnit_TouchesAny(t *testing.T) {
	u := &WorkUnit{FilesTouched: []string{"src/auth.go", "src/db.go"}}

	tests := []struct {
		name  string
		paths map[string]bool
		want  bool
	}{
		{"overlap on one path", map[string]bool{"src/db.go": true}, true},
		{"no overlap", map[string]bool{"src/api.go": true}, false},
		{"empty set", map[string]bool{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := u.TouchesAny(tt.paths); got != tt.want {
				t.Errorf("TouchesAny(%v) = %v, want %v", tt.paths, got, tt.want)
			}
		})
	}
}

func TestTruncateSummary(t *testing.T) {
	short := "all tests pass"
	if got := TruncateSummary(short); got != short {
		t.Errorf("TruncateSummary(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("x", MaxSummaryLen*2)
	got := TruncateSummary(long)
	if len(got) != MaxSummaryLen {
		t.Errorf("TruncateSummary(long) length = %d, want %d", len(got), MaxSummaryLen)
	}
	if !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("TruncateSummary(long) missing truncation marker: %q", got[len(got)-24:])
	}
}

func TestCompletionEventKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want EventKind
	}{
		{KindTask, EventTaskCompleted},
		{KindPhase, EventPhaseCompleted},
		{KindPlan, EventPlanCompleted},
		{KindRoadmap, EventRoadmapCompleted},
		{KindEpic, EventEpicCompleted},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := CompletionEventKind(tt.kind); got != tt.want {
				t.Errorf("CompletionEventKind(%q) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestEventKind_ClosesExternalItem(t *testing.T) {
	tests := []struct {
		kind EventKind
		want bool
	}{
		{EventTaskCompleted, false},
		{EventPhaseCompleted, false},
		{EventPlanCompleted, true},
		{EventRoadmapCompleted, true},
		{EventEpicCompleted, true},
		{EventBlocked, false},
		{EventFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.ClosesExternalItem(); got != tt.want {
				t.Errorf("EventKind(%q).ClosesExternalItem() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}
