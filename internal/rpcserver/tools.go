package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cascadehq/cascade/internal/artifact"
	"github.com/cascadehq/cascade/internal/budget"
	"github.com/cascadehq/cascade/internal/bus"
	"github.com/cascadehq/cascade/internal/cascade"
	metrics "github.com/cascadehq/cascade/internal/obsmetrics"
	"github.com/cascadehq/cascade/internal/obstrace"
	"github.com/cascadehq/cascade/internal/proofgate"
	"github.com/cascadehq/cascade/internal/radar"
	"github.com/cascadehq/cascade/internal/routing"
	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_create",
		Description: "Create a new job in a workspace",
	}, s.handleJobsCreate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_list",
		Description: "List jobs in a workspace, newest-updated first",
	}, s.handleJobsList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_get",
		Description: "Fetch one job by id",
	}, s.handleJobsGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_open",
		Description: "Fetch a job plus optional prompt/meta/events disclosure",
	}, s.handleJobsOpen)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_claim",
		Description: "Claim a queued job, or reclaim a stale running one",
	}, s.handleJobsClaim)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_report",
		Description: "Append a progress/heartbeat/checkpoint event and renew the claim lease",
	}, s.handleJobsReport)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_message",
		Description: "Post a manager note on a queued or running job",
	}, s.handleJobsMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_complete",
		Description: "Transition a claimed job to DONE, FAILED or CANCELED",
	}, s.handleJobsComplete)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_cancel",
		Description: "Cancel a job, optionally forcing a running one",
	}, s.handleJobsCancel)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "jobs_requeue",
		Description: "Requeue a terminal job back to QUEUED",
	}, s.handleJobsRequeue)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "runners_heartbeat",
		Description: "Publish a runner's liveness lease",
	}, s.handleRunnersHeartbeat)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "runners_list",
		Description: "List active runner leases in a workspace",
	}, s.handleRunnersList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "radar_query",
		Description: "Attention-ranked view over jobs and runner leases",
	}, s.handleRadarQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "radar_diagnose",
		Description: "Diagnose runner/job lease inconsistencies in a workspace",
	}, s.handleRadarDiagnose)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "routing_select",
		Description: "Select an executor/runner pair satisfying a profile and policy",
	}, s.handleRoutingSelect)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cascade_start",
		Description: "Start a new cascade session in the Scout phase",
	}, s.handleCascadeStart)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cascade_apply_event",
		Description: "Apply a cascade transition event to a session",
	}, s.handleCascadeApplyEvent)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cascade_resolve_context_request",
		Description: "Resolve a writer's context_request against the retry budget",
	}, s.handleCascadeResolveContextRequest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "artifact_prevalidate_scout_pack",
		Description: "Run the deterministic pre-validator over a scout context pack",
	}, s.handlePreValidateScoutPack)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "artifact_validate_writer_pack",
		Description: "Validate a writer patch pack's structural shape",
	}, s.handleValidateWriterPack)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "artifact_validate_report",
		Description: "Validate a validator report's structural shape",
	}, s.handleValidateReport)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "artifact_cross_validate",
		Description: "Check writer.affected_files against scout scope/change_hints",
	}, s.handleCrossValidate)
}

// ---- jobs.* ----

type jobsCreateInput struct {
	Workspace string          `json:"workspace" jsonschema:"workspace id"`
	Title     string          `json:"title" jsonschema:"short job title"`
	Prompt    string          `json:"prompt" jsonschema:"the brief handed to the executor"`
	Kind      string          `json:"kind,omitempty" jsonschema:"free-form executor class tag"`
	Priority  string          `json:"priority,omitempty" jsonschema:"LOW, MEDIUM, HIGH, or NORMAL (synonym for MEDIUM)"`
	TaskID    string          `json:"task_id,omitempty"`
	AnchorID  string          `json:"anchor_id,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty" jsonschema:"opaque JSON object"`
}

func (s *Server) handleJobsCreate(ctx context.Context, _ *mcp.CallToolRequest, in jobsCreateInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Workspace) == "" {
		return fail("jobs.create", fmt.Errorf("%w: workspace required", store.ErrInvalidInput))
	}
	_, span := obstrace.StartJobSpan(ctx, "create", "", in.Workspace)
	defer span.End()

	job, ev, err := s.store.Create(in.Workspace, in.Title, in.Prompt, in.Kind, in.Priority, in.TaskID, in.AnchorID, in.Meta)
	if err != nil {
		return fail("jobs.create", err)
	}
	s.bus.Publish(bus.Event{Type: bus.JobCreated, Workspace: job.Workspace, JobID: job.ID, Summary: job.Title})
	return ok("jobs.create", map[string]any{"job": job, "event": ev})
}

type jobsListInput struct {
	Workspace string `json:"workspace"`
	Status    string `json:"status,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	AnchorID  string `json:"anchor_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	MaxChars  int    `json:"max_chars,omitempty" jsonschema:"optional response size cap; triggers documented truncation order"`
}

func (s *Server) handleJobsList(_ context.Context, _ *mcp.CallToolRequest, in jobsListInput) (*mcp.CallToolResult, any, error) {
	jobs, hasMore, err := s.store.List(store.ListFilter{
		Workspace: in.Workspace, Status: in.Status, TaskID: in.TaskID, AnchorID: in.AnchorID,
	}, in.Limit)
	if err != nil {
		return fail("jobs.list", err)
	}

	result, warnings := applyListBudget(in.MaxChars, jobs, hasMore)
	return ok("jobs.list", result, warnings...)
}

// applyListBudget renders jobs list items and applies the budget enforcer,
// per spec.md §4.10: has_more becomes true whenever truncation happens even
// if the underlying query did not overflow.
func applyListBudget(maxChars int, jobs []store.Job, hasMore bool) (map[string]any, []string) {
	items := make([]string, len(jobs))
	for i, j := range jobs {
		data, _ := json.Marshal(j)
		items[i] = string(data)
	}
	res := budget.Enforce(maxChars, 64, budget.Section{Name: budget.SectionJobs, Items: items})
	if res.Truncated {
		hasMore = true
	}

	var warnings []string
	if res.Truncated {
		if len(res.Sections[budget.SectionJobs]) == 0 {
			warnings = append(warnings, "BUDGET_MINIMAL")
		} else {
			warnings = append(warnings, "BUDGET_TRUNCATED")
		}
	}

	kept := res.Sections[budget.SectionJobs]
	trimmedJobs := make([]store.Job, 0, len(kept))
	for i := range kept {
		trimmedJobs = append(trimmedJobs, jobs[i])
	}

	return map[string]any{
		"jobs":     trimmedJobs,
		"has_more": hasMore,
		"budget":   budget.Info{MaxChars: maxChars, UsedChars: res.UsedChars, Truncated: res.Truncated},
	}, warnings
}

type jobsGetInput struct {
	ID string `json:"id"`
}

func (s *Server) handleJobsGet(_ context.Context, _ *mcp.CallToolRequest, in jobsGetInput) (*mcp.CallToolResult, any, error) {
	job, err := s.store.Get(in.ID)
	if err != nil {
		return fail("jobs.get", err)
	}
	return ok("jobs.get", job)
}

type jobsOpenInput struct {
	ID             string `json:"id"`
	IncludePrompt  bool   `json:"include_prompt,omitempty"`
	IncludeEvents  bool   `json:"include_events,omitempty"`
	IncludeMeta    bool   `json:"include_meta,omitempty"`
	MaxEvents      int    `json:"max_events,omitempty"`
	BeforeSeq      int64  `json:"before_seq,omitempty"`
}

func (s *Server) handleJobsOpen(_ context.Context, _ *mcp.CallToolRequest, in jobsOpenInput) (*mcp.CallToolResult, any, error) {
	res, err := s.store.Open(in.ID, in.IncludePrompt, in.IncludeEvents, in.IncludeMeta, in.MaxEvents, in.BeforeSeq)
	if err != nil {
		return fail("jobs.open", err)
	}
	return ok("jobs.open", res)
}

type jobsClaimInput struct {
	ID         string `json:"id"`
	RunnerID   string `json:"runner_id"`
	LeaseTTLMs int64  `json:"lease_ttl_ms,omitempty"`
	AllowStale bool   `json:"allow_stale,omitempty"`
}

func (s *Server) handleJobsClaim(ctx context.Context, _ *mcp.CallToolRequest, in jobsClaimInput) (*mcp.CallToolResult, any, error) {
	_, span := obstrace.StartJobSpan(ctx, "claim", in.ID, "")
	defer span.End()

	res, err := s.store.Claim(in.ID, in.RunnerID, in.LeaseTTLMs, in.AllowStale)
	if err != nil {
		return fail("jobs.claim", err)
	}
	metrics.RecordClaim(res.Job.Workspace, res.Reclaimed)
	evtType := bus.JobClaimed
	if res.Reclaimed {
		evtType = bus.JobReclaimed
	}
	s.bus.Publish(bus.Event{Type: evtType, Workspace: res.Job.Workspace, JobID: res.Job.ID, RunnerID: in.RunnerID, Summary: res.Job.Title})
	return ok("jobs.claim", res)
}

type jobsReportInput struct {
	ID            string          `json:"id"`
	RunnerID      string          `json:"runner_id"`
	ClaimRevision int64           `json:"claim_revision"`
	Kind          string          `json:"kind"`
	Message       string          `json:"message"`
	Percent       *int            `json:"percent,omitempty"`
	Refs          []string        `json:"refs,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	LeaseTTLMs    int64           `json:"lease_ttl_ms,omitempty"`
}

func (s *Server) handleJobsReport(_ context.Context, _ *mcp.CallToolRequest, in jobsReportInput) (*mcp.CallToolResult, any, error) {
	res, err := s.store.Report(in.ID, in.RunnerID, in.ClaimRevision, in.Kind, in.Message, in.Percent, in.Refs, in.Meta, in.LeaseTTLMs)
	if err != nil {
		return fail("jobs.report", err)
	}
	return ok("jobs.report", res)
}

type jobsMessageInput struct {
	ID      string   `json:"id"`
	Message string   `json:"message"`
	Refs    []string `json:"refs,omitempty"`
}

func (s *Server) handleJobsMessage(_ context.Context, _ *mcp.CallToolRequest, in jobsMessageInput) (*mcp.CallToolResult, any, error) {
	job, ev, err := s.store.Message(in.ID, in.Message, in.Refs)
	if err != nil {
		return fail("jobs.message", err)
	}
	return ok("jobs.message", map[string]any{"job": job, "event": ev})
}

type jobsCompleteInput struct {
	ID            string          `json:"id"`
	RunnerID      string          `json:"runner_id"`
	ClaimRevision int64           `json:"claim_revision"`
	Status        string          `json:"status" jsonschema:"DONE, FAILED or CANCELED"`
	Summary       string          `json:"summary,omitempty"`
	Refs          []string        `json:"refs,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

// handleJobsComplete applies the Proof Gate (spec.md §4.7) ahead of the
// store CAS: a HIGH-priority job completing DONE must carry at least one
// qualifying ref, with free-text salvage applied additively before the
// check so a runner that forgot to tag CMD:/LINK: explicitly isn't
// penalized for prose that already contains them.
func (s *Server) handleJobsComplete(ctx context.Context, _ *mcp.CallToolRequest, in jobsCompleteInput) (*mcp.CallToolResult, any, error) {
	_, span := obstrace.StartJobSpan(ctx, "complete", in.ID, "")
	defer span.End()

	refs := in.Refs
	if in.Status == store.StatusDone {
		job, err := s.store.Get(in.ID)
		if err != nil {
			return fail("jobs.complete", err)
		}
		if job.Priority == store.PriorityHigh {
			salvaged := proofgate.Salvage(in.Summary)
			merged := mergeRefs(refs, salvaged)
			if !proofgate.Passes(job.ID, merged) {
				metrics.RecordProofGateRejection(job.Workspace)
				return fail("jobs.complete", errProofRequired)
			}
			refs = merged
		}
	}

	job, ev, err := s.store.Complete(in.ID, in.RunnerID, in.ClaimRevision, in.Status, in.Summary, refs, in.Meta)
	if err != nil {
		return fail("jobs.complete", err)
	}
	s.bus.Publish(bus.Event{Type: terminalEventType(in.Status), Workspace: job.Workspace, JobID: job.ID, RunnerID: in.RunnerID, Summary: job.Summary})
	return ok("jobs.complete", map[string]any{"job": job, "event": ev})
}

func terminalEventType(status string) bus.EventType {
	switch status {
	case store.StatusFailed:
		return bus.JobFailed
	case store.StatusCanceled:
		return bus.JobCanceled
	default:
		return bus.JobCompleted
	}
}

func mergeRefs(explicit, salvaged []string) []string {
	seen := make(map[string]bool, len(explicit)+len(salvaged))
	out := make([]string, 0, len(explicit)+len(salvaged))
	for _, r := range append(append([]string(nil), explicit...), salvaged...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

type jobsCancelInput struct {
	ID              string          `json:"id"`
	ForceRunning    bool            `json:"force_running,omitempty"`
	ExpectedRevision *int64         `json:"expected_revision,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Refs            []string        `json:"refs,omitempty"`
	Meta            json.RawMessage `json:"meta,omitempty"`
}

func (s *Server) handleJobsCancel(_ context.Context, _ *mcp.CallToolRequest, in jobsCancelInput) (*mcp.CallToolResult, any, error) {
	job, ev, err := s.store.Cancel(in.ID, in.ForceRunning, in.ExpectedRevision, in.Reason, in.Refs, in.Meta)
	if err != nil {
		return fail("jobs.cancel", err)
	}
	s.bus.Publish(bus.Event{Type: bus.JobCanceled, Workspace: job.Workspace, JobID: job.ID, Summary: in.Reason})
	return ok("jobs.cancel", map[string]any{"job": job, "event": ev})
}

type jobsRequeueInput struct {
	ID     string          `json:"id"`
	Reason string          `json:"reason,omitempty"`
	Refs   []string        `json:"refs,omitempty"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

func (s *Server) handleJobsRequeue(_ context.Context, _ *mcp.CallToolRequest, in jobsRequeueInput) (*mcp.CallToolResult, any, error) {
	job, ev, err := s.store.Requeue(in.ID, in.Reason, in.Refs, in.Meta)
	if err != nil {
		return fail("jobs.requeue", err)
	}
	s.bus.Publish(bus.Event{Type: bus.JobRequeued, Workspace: job.Workspace, JobID: job.ID, Summary: in.Reason})
	return ok("jobs.requeue", map[string]any{"job": job, "event": ev})
}

// ---- runners.* ----

type runnersHeartbeatInput struct {
	Workspace   string          `json:"workspace"`
	RunnerID    string          `json:"runner_id"`
	Status      string          `json:"status" jsonschema:"live, idle, or offline"`
	ActiveJobID string          `json:"active_job_id,omitempty"`
	LeaseTTLMs  int64           `json:"lease_ttl_ms,omitempty"`
	Meta        json.RawMessage `json:"meta,omitempty" jsonschema:"executors/profiles/supports_artifacts/max_parallel/sandbox policy"`
}

func (s *Server) handleRunnersHeartbeat(_ context.Context, _ *mcp.CallToolRequest, in runnersHeartbeatInput) (*mcp.CallToolResult, any, error) {
	lease, err := s.runners.Heartbeat(in.Workspace, in.RunnerID, in.Status, in.ActiveJobID, in.LeaseTTLMs, in.Meta)
	if err != nil {
		return fail("runners.heartbeat", fmt.Errorf("%w: %s", store.ErrInvalidInput, err))
	}
	s.bus.Publish(bus.Event{Type: runnerEventType(lease.Status), Workspace: in.Workspace, RunnerID: in.RunnerID, JobID: lease.ActiveJobID})
	return ok("runners.heartbeat", lease)
}

type runnersListInput struct {
	Workspace string `json:"workspace"`
	Limit     int    `json:"limit,omitempty"`
	Offline   bool   `json:"offline,omitempty" jsonschema:"list recently-offline leases instead of active ones"`
}

func (s *Server) handleRunnersList(_ context.Context, _ *mcp.CallToolRequest, in runnersListInput) (*mcp.CallToolResult, any, error) {
	var (
		leases  []runners.Lease
		hasMore bool
		err     error
	)
	if in.Offline {
		leases, hasMore, err = s.runners.ListOfflineRecent(in.Workspace, in.Limit)
	} else {
		leases, hasMore, err = s.runners.ListActive(in.Workspace, in.Limit)
	}
	if err != nil {
		return fail("runners.list", err)
	}
	return ok("runners.list", map[string]any{"runners": leases, "has_more": hasMore})
}

func runnerEventType(status string) bus.EventType {
	switch status {
	case runners.StatusLive:
		return bus.RunnerLive
	case runners.StatusIdle:
		return bus.RunnerIdle
	default:
		return bus.RunnerOffline
	}
}

// ---- radar.* ----

type radarQueryInput struct {
	Workspace string `json:"workspace"`
	Status    string `json:"status,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	AnchorID  string `json:"anchor_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	MaxChars  int    `json:"max_chars,omitempty"`
}

func (s *Server) handleRadarQuery(_ context.Context, _ *mcp.CallToolRequest, in radarQueryInput) (*mcp.CallToolResult, any, error) {
	rows, hasMore, err := s.radar.Query(radar.Filter{
		Workspace: in.Workspace, Status: in.Status, TaskID: in.TaskID, AnchorID: in.AnchorID,
	}, in.Limit)
	if err != nil {
		return fail("radar.query", err)
	}
	metrics.SetRadarAttentionRows(in.Workspace, countAttentionRows(rows))

	items := make([]string, len(rows))
	for i, r := range rows {
		data, _ := json.Marshal(r)
		items[i] = string(data)
	}
	res := budget.Enforce(in.MaxChars, 64, budget.Section{Name: budget.SectionJobs, Items: items})
	if res.Truncated {
		hasMore = true
	}
	kept := res.Sections[budget.SectionJobs]
	trimmed := make([]radar.Row, 0, len(kept))
	for i := range kept {
		trimmed = append(trimmed, rows[i])
	}

	var warnings []string
	if res.Truncated {
		warnings = append(warnings, "BUDGET_TRUNCATED")
	}
	return ok("radar.query", map[string]any{
		"rows":     trimmed,
		"has_more": hasMore,
		"budget":   budget.Info{MaxChars: in.MaxChars, UsedChars: res.UsedChars, Truncated: res.Truncated},
	}, warnings...)
}

func countAttentionRows(rows []radar.Row) int {
	n := 0
	for _, r := range rows {
		if r.Signals.HasError || r.Signals.NeedsManager || r.Signals.NeedsProof || r.Signals.Stale {
			n++
		}
	}
	return n
}

type radarDiagnoseInput struct {
	Workspace string `json:"workspace"`
}

func (s *Server) handleRadarDiagnose(_ context.Context, _ *mcp.CallToolRequest, in radarDiagnoseInput) (*mcp.CallToolResult, any, error) {
	diags, err := s.radar.Diagnose(in.Workspace)
	if err != nil {
		return fail("radar.diagnose", err)
	}
	return ok("radar.diagnose", map[string]any{"diagnostics": diags})
}

// ---- routing.* ----

type routingSelectInput struct {
	Workspace         string   `json:"workspace"`
	RequestedProfile  string   `json:"requested_profile" jsonschema:"fast, deep, or audit"`
	ExpectedArtifacts []string `json:"expected_artifacts,omitempty"`
	Prefer            []string `json:"prefer,omitempty"`
	Forbid            []string `json:"forbid,omitempty"`
	MinProfile        string   `json:"min_profile,omitempty"`
}

func (s *Server) handleRoutingSelect(_ context.Context, _ *mcp.CallToolRequest, in routingSelectInput) (*mcp.CallToolResult, any, error) {
	leases, _, err := s.runners.ListActive(in.Workspace, 200)
	if err != nil {
		return fail("routing.select", err)
	}
	caps := routing.FromLeases(leases, time.Now().UTC().UnixMilli())

	sel, found := routing.Route(caps, in.RequestedProfile, in.ExpectedArtifacts, routing.Policy{
		Prefer: in.Prefer, Forbid: in.Forbid, MinProfile: in.MinProfile,
	})
	if !found {
		return ok("routing.select", map[string]any{"selected": nil})
	}
	return ok("routing.select", map[string]any{"selected": sel})
}

// ---- cascade.* ----

type cascadeStartInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"optional; a uuid is generated when omitted"`
}

func (s *Server) handleCascadeStart(_ context.Context, _ *mcp.CallToolRequest, in cascadeStartInput) (*mcp.CallToolResult, any, error) {
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	sess := cascade.New(id)
	s.putSession(sess)
	return ok("cascade.start", sess)
}

type cascadeApplyEventInput struct {
	SessionID string         `json:"session_id"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleCascadeApplyEvent(_ context.Context, _ *mcp.CallToolRequest, in cascadeApplyEventInput) (*mcp.CallToolResult, any, error) {
	sess, found := s.session(in.SessionID)
	if !found {
		return fail("cascade.apply_event", fmt.Errorf("%w: unknown cascade session %s", store.ErrUnknownID, in.SessionID))
	}
	result := sess.Apply(in.Event, in.Payload)
	if sess.Phase == cascade.PhaseEscalated {
		metrics.RecordEscalation(result.EscalatedReason)
		s.bus.Publish(bus.Event{Type: bus.CascadeEscalated, Summary: result.EscalatedReason, Detail: sess.SessionID})
	}
	s.putSession(sess)
	return ok("cascade.apply_event", map[string]any{"session": sess, "transition": result})
}

type cascadeResolveContextRequestInput struct {
	SessionID         string `json:"session_id"`
	ContextRetryLimit int    `json:"context_retry_limit"`
}

func (s *Server) handleCascadeResolveContextRequest(_ context.Context, _ *mcp.CallToolRequest, in cascadeResolveContextRequestInput) (*mcp.CallToolResult, any, error) {
	sess, found := s.session(in.SessionID)
	if !found {
		return fail("cascade.resolve_context_request", fmt.Errorf("%w: unknown cascade session %s", store.ErrUnknownID, in.SessionID))
	}
	decision := sess.ResolveContextRequest(in.ContextRetryLimit)
	if decision.Decision == "rework" {
		sess.ContextRetryCount++
	}
	s.putSession(sess)
	return ok("cascade.resolve_context_request", map[string]any{"session": sess, "decision": decision})
}

// ---- artifact.* ----

type preValidateScoutPackInput struct {
	Pack artifact.ScoutContextPack `json:"pack"`
}

func (s *Server) handlePreValidateScoutPack(_ context.Context, _ *mcp.CallToolRequest, in preValidateScoutPackInput) (*mcp.CallToolResult, any, error) {
	pack := in.Pack
	res := artifact.PreValidate(&pack)
	return ok("artifact.prevalidate_scout_pack", map[string]any{"result": res, "normalized_pack": pack})
}

type validateWriterPackInput struct {
	Pack artifact.WriterPatchPack `json:"pack"`
}

func (s *Server) handleValidateWriterPack(_ context.Context, _ *mcp.CallToolRequest, in validateWriterPackInput) (*mcp.CallToolResult, any, error) {
	if err := artifact.ValidateWriterPatchPack(&in.Pack); err != nil {
		return fail("artifact.validate_writer_pack", err)
	}
	return ok("artifact.validate_writer_pack", map[string]any{"valid": true})
}

type validateReportInput struct {
	Report artifact.ValidatorReport `json:"report"`
}

func (s *Server) handleValidateReport(_ context.Context, _ *mcp.CallToolRequest, in validateReportInput) (*mcp.CallToolResult, any, error) {
	warnings, err := artifact.ValidateReport(&in.Report)
	if err != nil {
		return fail("artifact.validate_report", err)
	}
	return ok("artifact.validate_report", map[string]any{"valid": true, "v2": in.Report.HasV2Fields()}, warnings...)
}

type crossValidateInput struct {
	Scout         artifact.ScoutContextPack `json:"scout"`
	AffectedFiles []string                  `json:"affected_files"`
}

func (s *Server) handleCrossValidate(_ context.Context, _ *mcp.CallToolRequest, in crossValidateInput) (*mcp.CallToolResult, any, error) {
	violations := artifact.CrossValidateAffectedFiles(&in.Scout, in.AffectedFiles)
	return ok("artifact.cross_validate", map[string]any{"violations": violations, "ok": len(violations) == 0})
}
