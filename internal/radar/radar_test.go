package radar

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

func newTestRadar(t *testing.T) (*Radar, *store.Store, *runners.Registry) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewStore(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	reg, err := runners.NewRegistry(s.DB())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	nowMs := func() int64 { return time.Now().UTC().UnixMilli() }
	return New(s, reg, nowMs), s, reg
}

// TestRadarAttentionOrder covers S5: an errored job outranks a job merely
// awaiting the manager, which outranks a plain RUNNING job.
func TestRadarAttentionOrder(t *testing.T) {
	rd, s, _ := newTestRadar(t)

	errJob, _, err := s.Create("ws1", "err job", "p", "code", "MEDIUM", "", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Claim(errJob.ID, "r1", 60000, false); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := s.Append(errJob.ID, store.EventKindError, "boom", nil, nil, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	questionJob, _, err := s.Create("ws1", "question job", "p", "code", "MEDIUM", "", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Claim(questionJob.ID, "r2", 60000, false); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := s.Append(questionJob.ID, store.EventKindQuestion, "which approach?", nil, nil, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	plainJob, _, err := s.Create("ws1", "plain job", "p", "code", "MEDIUM", "", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Claim(plainJob.ID, "r3", 60000, false); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	rows, hasMore, err := rd.Query(Filter{Workspace: "ws1"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if hasMore {
		t.Fatalf("hasMore = true, want false")
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[0].Job.ID != errJob.ID {
		t.Fatalf("rows[0] = %s, want error job %s", rows[0].Job.ID, errJob.ID)
	}
	if !rows[0].Signals.HasError {
		t.Fatalf("rows[0].Signals.HasError = false")
	}
	if rows[1].Job.ID != questionJob.ID {
		t.Fatalf("rows[1] = %s, want question job %s", rows[1].Job.ID, questionJob.ID)
	}
	if !rows[1].Signals.NeedsManager {
		t.Fatalf("rows[1].Signals.NeedsManager = false")
	}
	if rows[2].Job.ID != plainJob.ID {
		t.Fatalf("rows[2] = %s, want plain job %s", rows[2].Job.ID, plainJob.ID)
	}
}

// TestRadarOrderStableAcrossRepeatCalls covers invariant 6: the same input
// state always yields the same total order.
func TestRadarOrderStableAcrossRepeatCalls(t *testing.T) {
	rd, s, _ := newTestRadar(t)
	for i := 0; i < 5; i++ {
		if _, _, err := s.Create("ws1", "job", "p", "code", "MEDIUM", "", "", nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	first, _, err := rd.Query(Filter{Workspace: "ws1"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	second, _, err := rd.Query(Filter{Workspace: "ws1"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("len mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Job.ID != second[i].Job.ID {
			t.Fatalf("order mismatch at %d: %s vs %s", i, first[i].Job.ID, second[i].Job.ID)
		}
	}
}

func TestDiagnoseFlagsLiveWithUnknownActiveJob(t *testing.T) {
	rd, _, reg := newTestRadar(t)
	if _, err := reg.Heartbeat("ws1", "r1", runners.StatusLive, "JOB-001", 60000, nil); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	diags, err := rd.Diagnose("ws1")
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.Kind == DiagActiveJobUnknown && d.RunnerID == "r1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected active_job_unknown diagnostic, got %v", diags)
	}
}
