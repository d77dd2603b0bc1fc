package radar

import (
	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

// Diagnostic kinds for runner/job consistency checks.
const (
	DiagLiveMissingActiveJob = "live_missing_active_job"
	DiagIdleHasActiveJob     = "idle_has_active_job"
	DiagActiveJobUnknown     = "active_job_unknown"
	DiagActiveJobNotRunning  = "active_job_not_running"
	DiagJobRunnerMismatch    = "job_runner_mismatch"
	DiagJobClaimExpired      = "job_claim_expired"
	DiagDuplicateActiveJob   = "duplicate_active_job"
	DiagJobRunnerOffline     = "job_runner_offline"
)

// Diagnostic is one detected runner/job inconsistency.
type Diagnostic struct {
	Kind     string `json:"kind"`
	RunnerID string `json:"runner_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Diagnose cross-checks runner leases against the running jobs that claim
// them, bounded to maxDiagnostics entries.
func (rd *Radar) Diagnose(workspace string) ([]Diagnostic, error) {
	leases, _, err := rd.registry.ListActive(workspace, maxScanLimit)
	if err != nil {
		return nil, err
	}
	runningJobs, err := rd.store.ListForScan(workspace, []string{store.StatusRunning}, maxScanLimit)
	if err != nil {
		return nil, err
	}

	now := rd.nowMs()
	jobsByRunner := make(map[string][]store.Job, len(runningJobs))
	jobsByID := make(map[string]store.Job, len(runningJobs))
	for _, j := range runningJobs {
		jobsByID[j.ID] = j
		if j.Runner != "" {
			jobsByRunner[j.Runner] = append(jobsByRunner[j.Runner], j)
		}
	}

	var out []Diagnostic
	add := func(d Diagnostic) bool {
		out = append(out, d)
		return len(out) >= maxDiagnostics
	}

	for _, lease := range leases {
		effective := lease.Effective(now)
		switch effective {
		case runners.StatusLive:
			if lease.ActiveJobID == "" {
				if add(Diagnostic{Kind: DiagLiveMissingActiveJob, RunnerID: lease.RunnerID}) {
					return out, nil
				}
				continue
			}
			job, known := jobsByID[lease.ActiveJobID]
			if !known {
				kind := DiagActiveJobUnknown
				if other, err := rd.store.Get(lease.ActiveJobID); err == nil && other.Workspace == workspace && other.Status != store.StatusRunning {
					kind = DiagActiveJobNotRunning
				}
				if add(Diagnostic{Kind: kind, RunnerID: lease.RunnerID, JobID: lease.ActiveJobID}) {
					return out, nil
				}
				continue
			}
			if job.Status != store.StatusRunning {
				if add(Diagnostic{Kind: DiagActiveJobNotRunning, RunnerID: lease.RunnerID, JobID: lease.ActiveJobID}) {
					return out, nil
				}
			}
			if job.Runner != lease.RunnerID {
				if add(Diagnostic{Kind: DiagJobRunnerMismatch, RunnerID: lease.RunnerID, JobID: lease.ActiveJobID}) {
					return out, nil
				}
			}
			if job.ClaimExpiresAtMs != nil && *job.ClaimExpiresAtMs <= now {
				if add(Diagnostic{Kind: DiagJobClaimExpired, RunnerID: lease.RunnerID, JobID: lease.ActiveJobID}) {
					return out, nil
				}
			}
		case runners.StatusIdle:
			if lease.ActiveJobID != "" {
				if add(Diagnostic{Kind: DiagIdleHasActiveJob, RunnerID: lease.RunnerID, JobID: lease.ActiveJobID}) {
					return out, nil
				}
			}
		}
		if jobs := jobsByRunner[lease.RunnerID]; len(jobs) > 1 {
			if add(Diagnostic{Kind: DiagDuplicateActiveJob, RunnerID: lease.RunnerID, Detail: "multiple RUNNING jobs reference this runner"}) {
				return out, nil
			}
		}
		if effective == runners.StatusOffline {
			for _, j := range jobsByRunner[lease.RunnerID] {
				if add(Diagnostic{Kind: DiagJobRunnerOffline, RunnerID: lease.RunnerID, JobID: j.ID}) {
					return out, nil
				}
			}
		}
	}

	for runnerID, jobs := range jobsByRunner {
		if _, known := leaseHasRunner(leases, runnerID); !known {
			for _, j := range jobs {
				if add(Diagnostic{Kind: DiagJobRunnerOffline, RunnerID: runnerID, JobID: j.ID, Detail: "no lease on record"}) {
					return out, nil
				}
			}
		}
	}

	return out, nil
}

func leaseHasRunner(leases []runners.Lease, runnerID string) (runners.Lease, bool) {
	for _, l := range leases {
		if l.RunnerID == runnerID {
			return l, true
		}
	}
	return runners.Lease{}, false
}
