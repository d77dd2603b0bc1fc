// Package radar implements the attention-ranked inbox view over jobs and
// runner leases, plus runner/job consistency diagnostics.
package radar

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

const (
	maxScanLimit      = 200
	scanMultiplier    = 4
	maxDiagnostics    = 20
	eventsPerJobLimit = store.MaxRadarScanEvents
)

// Filter narrows the radar scan.
type Filter struct {
	Workspace string
	Status    string
	TaskID    string
	AnchorID  string
}

// Signals are the per-row attention flags.
type Signals struct {
	NeedsManager bool `json:"needs_manager"`
	NeedsProof   bool `json:"needs_proof"`
	HasError     bool `json:"has_error"`
	Stale        bool `json:"stale"`
}

// Row is one radar result.
type Row struct {
	Job         store.Job `json:"job"`
	Signals     Signals   `json:"signals"`
	RunnerState string    `json:"runner_state,omitempty"`
}

// Radar computes attention-ranked views over the job store and runner
// registry.
type Radar struct {
	store     *store.Store
	registry  *runners.Registry
	nowMs     func() int64
}

// New builds a Radar over the given store and registry.
func New(s *store.Store, r *runners.Registry, nowMs func() int64) *Radar {
	return &Radar{store: s, registry: r, nowMs: nowMs}
}

// Query runs the bounded scan, computes signals via a single windowed event
// query, and returns attention-first ordered rows.
func (rd *Radar) Query(filter Filter, limit int) ([]Row, bool, error) {
	if limit <= 0 || limit > maxScanLimit {
		limit = maxScanLimit
	}
	scanLimit := limit * scanMultiplier
	if scanLimit > maxScanLimit {
		scanLimit = maxScanLimit
	}
	if scanLimit < limit {
		scanLimit = limit
	}

	var statuses []string
	if filter.Status != "" {
		statuses = []string{filter.Status}
	}

	jobs, err := rd.store.ListForScan(filter.Workspace, statuses, scanLimit)
	if err != nil {
		return nil, false, err
	}
	jobs = applyExtraFilters(jobs, filter)

	jobIDs := make([]string, len(jobs))
	for i, j := range jobs {
		jobIDs[i] = j.ID
	}

	var (
		eventsByJob map[string][]store.Event
		leases      []runners.Lease
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		eventsByJob, err = rd.store.RecentEventsForJobs(jobIDs, eventsPerJobLimit)
		return err
	})
	g.Go(func() error {
		var err error
		leases, _, err = rd.registry.ListActive(filter.Workspace, maxScanLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	leaseByRunner := make(map[string]runners.Lease, len(leases))
	for _, l := range leases {
		leaseByRunner[l.RunnerID] = l
	}

	now := rd.nowMs()
	rows := make([]Row, 0, len(jobs))
	for _, job := range jobs {
		events := eventsByJob[job.ID]
		row := Row{Job: job, Signals: computeSignals(job, events, now)}
		if job.Status == store.StatusRunning {
			row.RunnerState = resolveRunnerState(job.Runner, leaseByRunner, now)
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rowLess(rows[i], rows[j]) })

	hasMore := len(jobs) >= scanLimit
	if len(rows) > limit {
		rows = rows[:limit]
		hasMore = true
	}
	return rows, hasMore, nil
}

func applyExtraFilters(jobs []store.Job, filter Filter) []store.Job {
	if filter.TaskID == "" && filter.AnchorID == "" {
		return jobs
	}
	out := jobs[:0:0]
	for _, j := range jobs {
		if filter.TaskID != "" && j.TaskID != filter.TaskID {
			continue
		}
		if filter.AnchorID != "" && j.AnchorID != filter.AnchorID {
			continue
		}
		out = append(out, j)
	}
	return out
}

func computeSignals(job store.Job, events []store.Event, nowMs int64) Signals {
	var s Signals
	var lastQuestion, lastManager, lastProofGate, lastCheckpoint, lastError int64
	for _, ev := range events {
		switch ev.Kind {
		case store.EventKindQuestion:
			if ev.Seq > lastQuestion {
				lastQuestion = ev.Seq
			}
		case store.EventKindManager:
			if ev.Seq > lastManager {
				lastManager = ev.Seq
			}
		case store.EventKindProofGate:
			if ev.Seq > lastProofGate {
				lastProofGate = ev.Seq
			}
		case store.EventKindCheckpoint:
			if ev.Seq > lastCheckpoint {
				lastCheckpoint = ev.Seq
			}
		case store.EventKindError:
			if ev.Seq > lastError {
				lastError = ev.Seq
			}
		}
	}
	s.NeedsManager = lastQuestion > lastManager && lastQuestion > 0
	s.NeedsProof = lastProofGate > lastCheckpoint && lastProofGate > 0
	s.HasError = lastError > lastCheckpoint && lastError > 0
	s.Stale = job.Status == store.StatusRunning && job.ClaimExpiresAtMs != nil && *job.ClaimExpiresAtMs <= nowMs
	return s
}

func resolveRunnerState(runnerID string, leases map[string]runners.Lease, nowMs int64) string {
	lease, ok := leases[runnerID]
	if !ok {
		return runners.StatusOffline
	}
	return lease.Effective(nowMs)
}

// rowLess implements the deterministic attention-first ordering:
// has_error DESC, needs_manager DESC, needs_proof DESC, stale DESC,
// (RUNNING<QUEUED<terminal) ASC, updated_at_ms DESC, id ASC.
func rowLess(a, b Row) bool {
	if a.Signals.HasError != b.Signals.HasError {
		return a.Signals.HasError
	}
	if a.Signals.NeedsManager != b.Signals.NeedsManager {
		return a.Signals.NeedsManager
	}
	if a.Signals.NeedsProof != b.Signals.NeedsProof {
		return a.Signals.NeedsProof
	}
	if a.Signals.Stale != b.Signals.Stale {
		return a.Signals.Stale
	}
	ra, rb := statusRank(a.Job.Status), statusRank(b.Job.Status)
	if ra != rb {
		return ra < rb
	}
	if a.Job.UpdatedAtMs != b.Job.UpdatedAtMs {
		return a.Job.UpdatedAtMs > b.Job.UpdatedAtMs
	}
	return a.Job.ID < b.Job.ID
}

func statusRank(status string) int {
	switch status {
	case store.StatusRunning:
		return 0
	case store.StatusQueued:
		return 1
	default:
		return 2
	}
}
