package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ksargent/cascade/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_RecordAndListEvents(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	events := []models.ChangeEvent{
		{Kind: models.EventTaskCompleted, UnitID: "task-1", Timestamp: base},
		{Kind: models.EventPhaseCompleted, UnitID: "phase-1", Timestamp: base.Add(time.Minute)},
		{Kind: models.EventBlocked, UnitID: "task-2", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := db.RecordEvent(ev); err != nil {
			t.Fatalf("RecordEvent(%s): %v", ev.UnitID, err)
		}
	}

	got, err := db.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2 (limit respected)", len(got))
	}
	// Newest first.
	if got[0].UnitID != "task-2" || got[0].Kind != models.EventBlocked {
		t.Errorf("newest event = %+v, want task-2 blocked", got[0])
	}
	if got[1].UnitID != "phase-1" {
		t.Errorf("second event = %+v, want phase-1", got[1])
	}
	if !got[1].OccurredAt.Equal(base.Add(time.Minute)) {
		t.Errorf("OccurredAt = %v, want %v", got[1].OccurredAt, base.Add(time.Minute))
	}
}

func TestDB_RecordAndListSyncs(t *testing.T) {
	db := openTestDB(t)

	records := []SyncRecord{
		{UnitID: "plan-1", ExternalRef: "42", Action: "comment", Status: "ok"},
		{UnitID: "plan-1", ExternalRef: "42", Action: "close", Status: "failed", Error: "exit status 1"},
		{UnitID: "plan-2", ExternalRef: "43", Action: "comment", Status: "circuit_open"},
	}
	for _, rec := range records {
		if err := db.RecordSync(rec); err != nil {
			t.Fatalf("RecordSync: %v", err)
		}
	}

	got, err := db.RecentSyncs(10)
	if err != nil {
		t.Fatalf("RecentSyncs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d syncs, want 3", len(got))
	}
	if got[0].Status != "circuit_open" {
		t.Errorf("newest sync status = %q, want circuit_open", got[0].Status)
	}
	if got[1].Error != "exit status 1" {
		t.Errorf("failed sync error = %q, want preserved", got[1].Error)
	}
	if got[2].Status != "ok" || got[2].Action != "comment" {
		t.Errorf("oldest sync = %+v, want ok comment", got[2])
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open with missing parents: %v", err)
	}
	db.Close()
}
