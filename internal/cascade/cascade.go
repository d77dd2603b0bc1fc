// Package cascade implements the scout→pre-validate→writer→post-validate→
// apply pipeline state machine: bounded retries, an LLM-call cap, and the
// context-request loop between writer and scout.
package cascade

import "encoding/json"

// Phases.
const (
	PhaseScout       = "Scout"
	PhasePreValidate = "PreValidate"
	PhaseWriter      = "Writer"
	PhasePostValidate = "PostValidate"
	PhaseApply       = "Apply"
	PhaseEscalated   = "Escalated"
)

// Events that drive phase transitions.
const (
	EventScoutDone           = "scout_done"
	EventPreValidatePass     = "pre_validate_pass"
	EventPreValidateNeedMore = "pre_validate_need_more"
	EventPreValidateReject   = "pre_validate_reject"
	EventWriterDone          = "writer_done"
	EventApprove             = "approve"
	EventWriterRetry         = "writer_retry"
	EventScoutRetry          = "scout_retry"
	EventEscalate            = "escalate"
	EventReject              = "reject"
)

// Actions emitted by a transition, consumed by the dispatcher that drives
// the runner side.
const (
	ActionRunPreValidate   = "RunPreValidate"
	ActionDispatchWriter   = "DispatchWriter"
	ActionRetryScout       = "RetryScout"
	ActionDispatchValidator = "DispatchValidator"
	ActionApplyResult      = "ApplyResult"
	ActionRetryWriter      = "RetryWriter"
	ActionRerunScout       = "RerunScout"
	ActionEscalate         = "Escalate"
)

// Counter caps from the data model.
const (
	MaxScoutRetries   = 2
	MaxWriterRetries  = 2
	MaxScoutReruns    = 1
	MaxTotalLLMCalls  = 5
)

// Lineage tracks which job ids each stage spawned.
type Lineage struct {
	ScoutJobIDs     []string `json:"scout_job_ids,omitempty"`
	WriterJobIDs    []string `json:"writer_job_ids,omitempty"`
	ValidatorJobIDs []string `json:"validator_job_ids,omitempty"`
}

// Session is a single agent-pipeline instance.
type Session struct {
	SessionID         string  `json:"session_id"`
	Phase             string  `json:"phase"`
	ScoutRetries      int     `json:"scout_retries"`
	WriterRetries     int     `json:"writer_retries"`
	ScoutReruns       int     `json:"scout_reruns"`
	TotalLLMCalls     int     `json:"total_llm_calls"`
	ContextRetryCount int     `json:"context_retry_count"`
	Lineage           Lineage `json:"lineage"`
}

// New starts a session in the Scout phase.
func New(sessionID string) *Session {
	return &Session{SessionID: sessionID, Phase: PhaseScout}
}

// ToJSON serializes the session for persistence.
func (s *Session) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON restores a session from its persisted form.
func FromJSON(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TransitionResult is the outcome of applying one event to a session.
type TransitionResult struct {
	Actions         []string
	EscalatedReason string
}

// Apply advances the session's phase in response to event, mutating counters
// per the transition table and enforcing the caps from §3. Any transition
// not recognized for the current phase escalates with a reason.
func (s *Session) Apply(event string, payload map[string]any) TransitionResult {
	switch s.Phase {
	case PhaseScout:
		if event == EventScoutDone {
			s.Phase = PhasePreValidate
			return TransitionResult{Actions: []string{ActionRunPreValidate}}
		}
	case PhasePreValidate:
		switch event {
		case EventPreValidatePass:
			s.TotalLLMCalls++
			if s.overBudget() {
				return s.escalate("llm call budget exceeded")
			}
			s.Phase = PhaseWriter
			return TransitionResult{Actions: []string{ActionDispatchWriter}}
		case EventPreValidateNeedMore:
			s.ScoutRetries++
			s.TotalLLMCalls++
			if s.ScoutRetries > MaxScoutRetries || s.overBudget() {
				return s.escalate("scout retry budget exceeded")
			}
			s.Phase = PhaseScout
			return TransitionResult{Actions: []string{ActionRetryScout}}
		case EventPreValidateReject:
			return s.escalate("pre-validate reject")
		}
	case PhaseWriter:
		if event == EventWriterDone {
			s.TotalLLMCalls++
			if s.overBudget() {
				return s.escalate("llm call budget exceeded")
			}
			s.Phase = PhasePostValidate
			return TransitionResult{Actions: []string{ActionDispatchValidator}}
		}
	case PhasePostValidate:
		switch event {
		case EventApprove:
			s.Phase = PhaseApply
			return TransitionResult{Actions: []string{ActionApplyResult}}
		case EventWriterRetry:
			s.WriterRetries++
			if s.WriterRetries > MaxWriterRetries || s.overBudget() {
				return s.escalate("writer retry budget exceeded")
			}
			s.Phase = PhaseWriter
			return TransitionResult{Actions: []string{ActionRetryWriter}}
		case EventScoutRetry:
			s.ScoutReruns++
			if s.ScoutReruns > MaxScoutReruns || s.overBudget() {
				return s.escalate("scout rerun budget exceeded")
			}
			s.Phase = PhaseScout
			return TransitionResult{Actions: []string{ActionRerunScout}}
		case EventEscalate, EventReject:
			return s.escalate(event)
		}
	}
	return s.escalate("unrecognized event " + event + " in phase " + s.Phase)
}

func (s *Session) overBudget() bool {
	return s.TotalLLMCalls > MaxTotalLLMCalls
}

func (s *Session) escalate(reason string) TransitionResult {
	s.Phase = PhaseEscalated
	return TransitionResult{Actions: []string{ActionEscalate}, EscalatedReason: reason}
}

// ContextRequestDecision is the pipeline gate's verdict on a writer's
// context_request.
type ContextRequestDecision struct {
	Decision    string `json:"decision"` // "rework" or "reject"
	FirstAction string `json:"first_action"`
	Reason      string `json:"reason,omitempty"`
	ContextLoop ContextLoopMeta `json:"context_loop"`
}

// ContextLoopMeta is always attached, recording the budget state.
type ContextLoopMeta struct {
	BuilderRequestedContext bool `json:"builder_requested_context"`
	ContextRetryCount       int  `json:"context_retry_count"`
	ContextRetryLimit       int  `json:"context_retry_limit"`
}

// ResolveContextRequest implements the context-request loop: within budget
// it replays scout; once the budget is exhausted it rejects with a reason
// naming the exhausted budget, directing rework back to the builder.
func (s *Session) ResolveContextRequest(contextRetryLimit int) ContextRequestDecision {
	meta := ContextLoopMeta{
		BuilderRequestedContext: true,
		ContextRetryCount:       s.ContextRetryCount,
		ContextRetryLimit:       contextRetryLimit,
	}
	if s.ContextRetryCount+1 <= contextRetryLimit {
		return ContextRequestDecision{Decision: "rework", FirstAction: "dispatch.scout", ContextLoop: meta}
	}
	return ContextRequestDecision{
		Decision:    "reject",
		FirstAction: "dispatch.builder",
		Reason:      "retry budget exhausted",
		ContextLoop: meta,
	}
}
