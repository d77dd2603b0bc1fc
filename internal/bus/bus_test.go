package bus

import (
	"testing"
	"time"
)

func TestPublishAndSubscribe(t *testing.T) {
	b := NewBus(16)
	ch := b.Subscribe("test-1")

	b.Publish(Event{
		Type:     JobCreated,
		JobID:    "JOB-001",
		Workspace: "ws1",
		Summary:  "job created",
	})

	select {
	case evt := <-ch:
		if evt.Type != JobCreated {
			t.Fatalf("expected JobCreated, got %s", evt.Type)
		}
		if evt.JobID != "JOB-001" {
			t.Fatalf("expected JOB-001, got %s", evt.JobID)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("timestamp should be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("test-1")
}

func TestMultipleSubscribers(t *testing.T) {
	b := NewBus(16)
	ch1 := b.Subscribe("s1")
	ch2 := b.Subscribe("s2")

	b.Publish(Event{Type: RunnerOffline, Summary: "test"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != RunnerOffline {
				t.Fatalf("wrong type: %s", evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}

	if b.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.SubscriberCount())
	}

	b.Unsubscribe("s1")
	b.Unsubscribe("s2")

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(1) // tiny buffer
	_ = b.Subscribe("slow")

	// Publish more events than the buffer can hold — should not block.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: JobCompleted, Summary: "test"})
	}
}

func TestEventJSON(t *testing.T) {
	evt := Event{
		Type:      CascadeEscalated,
		JobID:     "JOB-002",
		Summary:   "escalated",
		Timestamp: time.Now(),
	}
	data := evt.JSON()
	if len(data) == 0 {
		t.Fatal("empty JSON")
	}
}
