package store

import (
	"fmt"
	"strings"
)

// ListForScan returns up to scanLimit jobs for a workspace, optionally
// restricted to statuses, ordered updated_at_ms DESC, id ASC — the Radar
// component's candidate scan. When statuses is empty the default RUNNING,
// QUEUED filter is applied.
func (s *Store) ListForScan(workspace string, statuses []string, scanLimit int) ([]Job, error) {
	if len(statuses) == 0 {
		statuses = []string{StatusRunning, StatusQueued}
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+2)
	args = append(args, workspace)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, st)
	}
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE workspace = ? AND status IN (%s) ORDER BY updated_at_ms DESC, id ASC LIMIT ?`,
		jobColumns, strings.Join(placeholders, ","))
	args = append(args, scanLimit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Job, 0, scanLimit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// RecentEventsForJobs fetches up to perJob most-recent events for each job
// id in a single windowed query, avoiding an N+1 per-job round trip.
func (s *Store) RecentEventsForJobs(jobIDs []string, perJob int) (map[string][]Event, error) {
	out := make(map[string][]Event, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(jobIDs))
	args := make([]any, 0, len(jobIDs)+1)
	for i, id := range jobIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, perJob)

	query := fmt.Sprintf(`
		SELECT job_id, seq, ts_ms, kind, message, percent, refs, meta FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY job_id ORDER BY seq DESC) AS rn
			FROM job_events WHERE job_id IN (%s)
		) WHERE rn <= ?
		ORDER BY job_id, seq DESC`, strings.Join(placeholders, ","))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out[ev.JobID] = append(out[ev.JobID], *ev)
	}
	return out, rows.Err()
}
