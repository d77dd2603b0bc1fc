package cascade

import (
	"reflect"
	"testing"
)

// S1 — happy-path cascade.
func TestHappyPathCascade(t *testing.T) {
	s := New("sess-1")
	var actions []string

	r := s.Apply(EventScoutDone, nil)
	actions = append(actions, r.Actions...)
	r = s.Apply(EventPreValidatePass, nil)
	actions = append(actions, r.Actions...)
	r = s.Apply(EventWriterDone, nil)
	actions = append(actions, r.Actions...)
	r = s.Apply(EventApprove, nil)
	actions = append(actions, r.Actions...)

	if s.Phase != PhaseApply {
		t.Fatalf("phase = %s, want Apply", s.Phase)
	}
	if s.TotalLLMCalls != 2 {
		t.Fatalf("total_llm_calls = %d, want 2", s.TotalLLMCalls)
	}
	want := []string{ActionRunPreValidate, ActionDispatchWriter, ActionDispatchValidator, ActionApplyResult}
	if !reflect.DeepEqual(actions, want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
}

// S6 — context-retry budget.
func TestContextRetryBudget(t *testing.T) {
	s := New("sess-2")
	s.ContextRetryCount = 0
	d := s.ResolveContextRequest(2)
	if d.Decision != "rework" || d.FirstAction != "dispatch.scout" || d.ContextLoop.ContextRetryCount != 0 {
		t.Fatalf("got %+v", d)
	}

	s.ContextRetryCount = 2
	d = s.ResolveContextRequest(2)
	if d.Decision != "reject" || d.FirstAction != "dispatch.builder" {
		t.Fatalf("got %+v", d)
	}
	if !contains(d.Reason, "retry budget exhausted") {
		t.Fatalf("reason = %q, want to contain 'retry budget exhausted'", d.Reason)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (s == sub || (len(s) > len(sub) && indexOf(s, sub) >= 0))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Invariant 7: any finite sequence from Scout terminates in Apply or
// Escalated within MAX_TOTAL_LLM_CALLS+1 transitions.
func TestAlwaysTerminates(t *testing.T) {
	s := New("sess-3")
	transitions := 0
	for transitions <= MaxTotalLLMCalls+1 {
		if s.Phase == PhaseApply || s.Phase == PhaseEscalated {
			return
		}
		var event string
		switch s.Phase {
		case PhaseScout:
			event = EventScoutDone
		case PhasePreValidate:
			event = EventPreValidateNeedMore
		case PhaseWriter:
			event = EventWriterDone
		case PhasePostValidate:
			event = EventWriterRetry
		}
		s.Apply(event, nil)
		transitions++
	}
	if s.Phase != PhaseApply && s.Phase != PhaseEscalated {
		t.Fatalf("did not terminate within budget, phase=%s after %d transitions", s.Phase, transitions)
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	s := New("sess-4")
	s.Apply(EventScoutDone, nil)
	s.Apply(EventPreValidatePass, nil)
	s.Lineage.ScoutJobIDs = []string{"JOB-000000001"}

	data, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if !reflect.DeepEqual(s, back) {
		t.Fatalf("round trip mismatch: %+v != %+v", s, back)
	}
}
