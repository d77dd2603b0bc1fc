package runners

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "runners.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	r, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestHeartbeatLiveRequiresActiveJob(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Heartbeat("ws1", "r1", StatusLive, "", 60000, nil); err == nil {
		t.Fatal("expected error for live status without active_job_id")
	}
}

func TestExpiredLeaseReportsOffline(t *testing.T) {
	r := newTestRegistry(t)
	r.clock = func() time.Time { return time.Unix(1000, 0) }
	if _, err := r.Heartbeat("ws1", "r1", StatusIdle, "", 1000, nil); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	r.clock = func() time.Time { return time.Unix(1000, 0).Add(2 * time.Second) }
	snap, err := r.StatusSnapshot("ws1", "r1")
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if snap.Status != StatusOffline {
		t.Fatalf("status = %s, want offline", snap.Status)
	}
	if snap.OfflineCount != 1 {
		t.Fatalf("offline_count = %d, want 1", snap.OfflineCount)
	}
}

func TestClearActiveJobSelfHeals(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Heartbeat("ws1", "r1", StatusLive, "JOB-000000001", 60000, nil); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.ClearActiveJob(tx, "ws1", "JOB-000000001"); err != nil {
		t.Fatalf("ClearActiveJob: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := r.StatusSnapshot("ws1", "r1")
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if snap.ActiveJobID != "" {
		t.Fatalf("active_job_id = %s, want empty", snap.ActiveJobID)
	}
	if snap.Status != StatusIdle {
		t.Fatalf("status = %s, want idle", snap.Status)
	}
}
