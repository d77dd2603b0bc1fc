package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateEmitsCreatedEvent(t *testing.T) {
	s := newTestStore(t)
	job, ev, err := s.Create("ws1", "title", "prompt text", "code", "HIGH", "", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("status = %s, want QUEUED", job.Status)
	}
	if job.Priority != PriorityHigh {
		t.Fatalf("priority = %s, want HIGH", job.Priority)
	}
	if ev.Kind != EventKindCreated {
		t.Fatalf("event kind = %s, want created", ev.Kind)
	}
	if job.Revision != 1 {
		t.Fatalf("revision = %d, want 1", job.Revision)
	}
}

func TestPriorityNormalSynonym(t *testing.T) {
	s := newTestStore(t)
	job, _, err := s.Create("ws1", "t", "p", "", "NORMAL", "", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Priority != PriorityMedium {
		t.Fatalf("priority = %s, want MEDIUM", job.Priority)
	}
}

func TestClaimBumpsRevisionAndEmitsClaimed(t *testing.T) {
	s := newTestStore(t)
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)

	res, err := s.Claim(job.ID, "r1", 60000, false)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Job.Status != StatusRunning {
		t.Fatalf("status = %s, want RUNNING", res.Job.Status)
	}
	if res.Job.Revision != job.Revision+1 {
		t.Fatalf("revision = %d, want %d", res.Job.Revision, job.Revision+1)
	}
	if res.Event.Kind != EventKindClaimed {
		t.Fatalf("event kind = %s, want claimed", res.Event.Kind)
	}
	if res.Job.Runner != "r1" {
		t.Fatalf("runner = %s, want r1", res.Job.Runner)
	}
}

func TestDoubleClaimFails(t *testing.T) {
	s := newTestStore(t)
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	if _, err := s.Claim(job.ID, "r1", 60000, false); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := s.Claim(job.ID, "r2", 60000, false); err == nil {
		t.Fatal("second claim should fail")
	}
}

// S3 — stale reclaim.
func TestStaleReclaim(t *testing.T) {
	s := newTestStore(t)
	s.clock = func() time.Time { return time.Unix(1000, 0) }
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	if _, err := s.Claim(job.ID, "r1", 1000, false); err != nil {
		t.Fatalf("claim: %v", err)
	}

	s.clock = func() time.Time { return time.Unix(1000, 0).Add(1200 * time.Millisecond) }
	res, err := s.Claim(job.ID, "r2", 60000, true)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !res.Reclaimed {
		t.Fatal("expected Reclaimed=true")
	}
	if res.PreviousRunner != "r1" {
		t.Fatalf("previous runner = %s, want r1", res.PreviousRunner)
	}
	if res.Event.Kind != EventKindReclaimed {
		t.Fatalf("event kind = %s, want reclaimed", res.Event.Kind)
	}
	var meta struct {
		PreviousRunnerID string `json:"previous_runner_id"`
		Reason           string `json:"reason"`
	}
	if err := json.Unmarshal(res.Event.Meta, &meta); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if meta.PreviousRunnerID != "r1" || meta.Reason != "ttl_expired" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestStaleReclaimRejectedWithoutAllowStale(t *testing.T) {
	s := newTestStore(t)
	s.clock = func() time.Time { return time.Unix(1000, 0) }
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	_, _ = s.Claim(job.ID, "r1", 1000, false)

	s.clock = func() time.Time { return time.Unix(1000, 0).Add(5 * time.Second) }
	if _, err := s.Claim(job.ID, "r2", 60000, false); err == nil {
		t.Fatal("reclaim without allow_stale should fail")
	}
}

// S4 — heartbeat coalesce.
func TestHeartbeatCoalesces(t *testing.T) {
	s := newTestStore(t)
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	claim, _ := s.Claim(job.ID, "r1", 60000, false)

	if _, err := s.Report(job.ID, "r1", claim.Job.Revision, EventKindHeartbeat, "hb1", nil, nil, nil, 60000); err != nil {
		t.Fatalf("report hb1: %v", err)
	}
	if _, err := s.Report(job.ID, "r1", claim.Job.Revision, EventKindHeartbeat, "hb2", nil, nil, nil, 60000); err != nil {
		t.Fatalf("report hb2: %v", err)
	}

	events, _, err := s.GetSince(job.ID, 0, 50)
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	heartbeats := 0
	for _, ev := range events {
		if ev.Kind == EventKindHeartbeat {
			heartbeats++
			if ev.Message != "hb2" {
				t.Fatalf("heartbeat message = %s, want hb2", ev.Message)
			}
		}
	}
	if heartbeats != 1 {
		t.Fatalf("heartbeat count = %d, want 1", heartbeats)
	}
}

func TestCompleteClearsClaimAndStampsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	claim, _ := s.Claim(job.ID, "r1", 60000, false)

	done, ev, err := s.Complete(job.ID, "r1", claim.Job.Revision, StatusDone, "all good", []string{"CMD: go test"}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusDone {
		t.Fatalf("status = %s, want DONE", done.Status)
	}
	if done.ClaimExpiresAtMs != nil {
		t.Fatal("claim_expires_at_ms should be nil on terminal job")
	}
	if done.CompletedAtMs == nil {
		t.Fatal("completed_at_ms should be set")
	}
	if done.Runner != "" {
		t.Fatalf("runner = %s, want empty", done.Runner)
	}
	if ev.Kind != EventKindCompleted {
		t.Fatalf("event kind = %s, want completed", ev.Kind)
	}
}

func TestRequeueOnlyFromTerminal(t *testing.T) {
	s := newTestStore(t)
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	if _, _, err := s.Requeue(job.ID, "retry", nil, nil); err == nil {
		t.Fatal("requeue from QUEUED should fail")
	}

	claim, _ := s.Claim(job.ID, "r1", 60000, false)
	_, _, _ = s.Complete(job.ID, "r1", claim.Job.Revision, StatusFailed, "boom", []string{"CMD: x"}, nil)

	requeued, ev, err := s.Requeue(job.ID, "operator retry", nil, nil)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued.Status != StatusQueued {
		t.Fatalf("status = %s, want QUEUED", requeued.Status)
	}
	if requeued.Runner != "" || requeued.ClaimExpiresAtMs != nil || requeued.Summary != "" {
		t.Fatalf("requeued job not cleared: %+v", requeued)
	}
	if ev.Kind != EventKindRequeued {
		t.Fatalf("event kind = %s, want requeued", ev.Kind)
	}
}

func TestTailReturnsStrictlyIncreasingSeq(t *testing.T) {
	s := newTestStore(t)
	job, _, _ := s.Create("ws1", "t", "p", "", "", "", "", nil)
	claim, _ := s.Claim(job.ID, "r1", 60000, false)
	for i := 0; i < 5; i++ {
		_, _ = s.Report(job.ID, "r1", claim.Job.Revision, EventKindProgress, "step", nil, nil, nil, 60000)
	}

	events, _, err := s.Tail(job.ID, 0, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if !(events[0].Seq < events[1].Seq) {
		t.Fatalf("events not increasing: %+v", events)
	}
}
