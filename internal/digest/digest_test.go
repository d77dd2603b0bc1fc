package digest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cascadehq/cascade/internal/radar"
	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

func TestSchedulerFiresSnapshotOnTick(t *testing.T) {
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
	if _, _, err := s.Create("ws1", "job", "p", "code", "MEDIUM", "", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rd := radar.New(s, reg, func() int64 { return time.Now().UTC().UnixMilli() })

	var mu sync.Mutex
	var got []Snapshot
	sink := func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, snap)
	}

	sched, err := New(rd, sink, map[string]string{"ws1": "* * * * *"}, nil, func() int64 { return time.Now().UTC().UnixMilli() })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx, 20*time.Millisecond)
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("expected at least one digest snapshot")
	}
	if got[0].Workspace != "ws1" {
		t.Fatalf("workspace = %s, want ws1", got[0].Workspace)
	}
	if len(got[0].Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(got[0].Rows))
	}
}
