package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Claim attempts a fresh claim (job QUEUED) or, when allowStale is true, a
// reclaim of a RUNNING job whose claim has expired. Both paths CAS on the
// row's current (status, revision) and, on success, bump revision, set the
// new runner and claim_expires_at_ms, and emit claimed/reclaimed.
func (s *Store) Claim(id, runnerID string, leaseTTLMs int64, allowStale bool) (*ClaimResult, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, err
	}
	runnerID, err = normalizeRunnerID(runnerID)
	if err != nil {
		return nil, err
	}
	ttl := clampTTLMs(leaseTTLMs)
	now := s.nowMs()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status       string
		revision     int64
		curRunner    sql.NullString
		claimExpires sql.NullInt64
	)
	if err := tx.QueryRow(`SELECT status, revision, runner, claim_expires_at_ms FROM jobs WHERE id = ?`, id).
		Scan(&status, &revision, &curRunner, &claimExpires); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
		return nil, err
	}

	var (
		res        sql.Result
		reclaiming bool
		prevRunner string
	)
	switch {
	case status == StatusQueued:
		res, err = tx.Exec(`UPDATE jobs SET status=?, runner=?, claim_expires_at_ms=?, claim_revision=revision, revision=revision+1, updated_at_ms=?, completed_at_ms=NULL
			WHERE id=? AND revision=? AND status=?`,
			StatusRunning, runnerID, now+ttl, now, id, revision, StatusQueued)
	case status == StatusRunning && allowStale && (!claimExpires.Valid || claimExpires.Int64 <= now):
		reclaiming = true
		if curRunner.Valid {
			prevRunner = curRunner.String
		}
		res, err = tx.Exec(`UPDATE jobs SET status=?, runner=?, claim_expires_at_ms=?, claim_revision=revision, revision=revision+1, updated_at_ms=?, completed_at_ms=NULL
			WHERE id=? AND revision=? AND status=? AND (claim_expires_at_ms IS NULL OR claim_expires_at_ms <= ?)`,
			StatusRunning, runnerID, now+ttl, now, id, revision, StatusRunning, now)
	default:
		return nil, fmt.Errorf("%w: %s", ErrJobNotClaimable, id)
	}
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected != 1 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotClaimable, id)
	}

	kind := EventKindClaimed
	message := "claimed"
	var meta json.RawMessage
	if reclaiming {
		kind = EventKindReclaimed
		message = "reclaimed"
		meta, _ = json.Marshal(map[string]string{"previous_runner_id": prevRunner, "reason": "ttl_expired"})
	}
	ev, err := appendEventTx(tx, now, id, kind, message, nil, nil, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{Job: *job, Event: *ev, Claimed: !reclaiming, Reclaimed: reclaiming, PreviousRunner: prevRunner}, nil
}

// Report appends a progress/heartbeat/etc event for a job the caller holds,
// CAS-checked on (status=RUNNING, revision=claimRevision, runner=runnerID),
// and renews the claim lease.
func (s *Store) Report(id, runnerID string, claimRevision int64, kind, message string, percent *int, refs []string, meta json.RawMessage, leaseTTLMs int64) (*ReportResult, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, err
	}
	ttl := clampTTLMs(leaseTTLMs)
	now := s.nowMs()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status    string
		curRunner sql.NullString
	)
	if err := tx.QueryRow(`SELECT status, runner FROM jobs WHERE id = ? AND revision = ?`, id, claimRevision).
		Scan(&status, &curRunner); err != nil {
		if err == sql.ErrNoRows {
			// Either unknown id or a stale revision; distinguish by re-reading.
			var exists int
			_ = tx.QueryRow(`SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
			if exists == 0 {
				return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
			}
			return nil, fmt.Errorf("%w: %s", ErrJobClaimMismatch, id)
		}
		return nil, err
	}
	if status != StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrJobNotRunning, id)
	}
	if !curRunner.Valid || curRunner.String != runnerID {
		return nil, fmt.Errorf("%w: %s", ErrJobClaimMismatch, id)
	}

	res, err := tx.Exec(`UPDATE jobs SET claim_expires_at_ms=?, updated_at_ms=? WHERE id=? AND revision=? AND status=? AND runner=?`,
		now+ttl, now, id, claimRevision, StatusRunning, runnerID)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return nil, fmt.Errorf("%w: %s", ErrJobClaimMismatch, id)
	}

	ev, err := appendEventTx(tx, now, id, kind, message, percent, refs, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &ReportResult{Job: *job, Event: *ev}, nil
}

// Message posts a manager note on a QUEUED or RUNNING job. It does not bump
// revision: it changes no CAS-relevant field, only appends to the log.
func (s *Store) Message(id, message string, refs []string) (*Job, *Event, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, nil, err
	}
	now := s.nowMs()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
		return nil, nil, err
	}
	if status != StatusQueued && status != StatusRunning {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotMessageable, id)
	}

	if _, err := tx.Exec(`UPDATE jobs SET updated_at_ms=? WHERE id=?`, now, id); err != nil {
		return nil, nil, err
	}
	ev, err := appendEventTx(tx, now, id, EventKindManager, message, nil, refs, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	job, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return job, ev, nil
}

// Complete transitions a claimed job to a terminal status, clearing the
// claim lease and self-healing any runner lease that still references this
// job, all inside one transaction.
func (s *Store) Complete(id, runnerID string, claimRevision int64, status, summary string, refs []string, meta json.RawMessage) (*Job, *Event, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, nil, err
	}
	switch status {
	case StatusDone, StatusFailed, StatusCanceled:
	default:
		return nil, nil, fmt.Errorf("%w: status must be DONE, FAILED or CANCELED", ErrInvalidInput)
	}
	summary = clamp(summary, MaxJobSummaryLen)
	now := s.nowMs()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var curStatus string
	var curRunner sql.NullString
	if err := tx.QueryRow(`SELECT status, runner FROM jobs WHERE id = ? AND revision = ?`, id, claimRevision).Scan(&curStatus, &curRunner); err != nil {
		if err == sql.ErrNoRows {
			var exists int
			_ = tx.QueryRow(`SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
			if exists == 0 {
				return nil, nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
			}
			return nil, nil, fmt.Errorf("%w: %s", ErrJobClaimMismatch, id)
		}
		return nil, nil, err
	}
	if curStatus != StatusRunning {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotRunning, id)
	}
	if !curRunner.Valid || curRunner.String != runnerID {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobClaimMismatch, id)
	}

	res, err := tx.Exec(`UPDATE jobs SET status=?, runner=NULL, claim_expires_at_ms=NULL, summary=?, revision=revision+1, updated_at_ms=?, completed_at_ms=?
		WHERE id=? AND revision=? AND status=? AND runner=?`,
		status, summary, now, now, id, claimRevision, StatusRunning, runnerID)
	if err != nil {
		return nil, nil, err
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobClaimMismatch, id)
	}

	if s.selfHeal != nil {
		var workspace string
		if err := tx.QueryRow(`SELECT workspace FROM jobs WHERE id = ?`, id).Scan(&workspace); err != nil {
			return nil, nil, err
		}
		if err := s.selfHeal.ClearActiveJob(tx, workspace, id); err != nil {
			return nil, nil, err
		}
	}

	kind := terminalEventKind(status)
	ev, err := appendEventTx(tx, now, id, kind, summary, nil, refs, meta)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	job, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return job, ev, nil
}

func terminalEventKind(status string) string {
	switch status {
	case StatusDone:
		return EventKindCompleted
	case StatusFailed:
		return EventKindFailed
	default:
		return EventKindCanceled
	}
}

// Cancel force-refuses a RUNNING job unless forceRunning is set, optionally
// enforcing expectedRevision, and self-heals the same way Complete does.
func (s *Store) Cancel(id string, forceRunning bool, expectedRevision *int64, reason string, refs []string, meta json.RawMessage) (*Job, *Event, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, nil, err
	}
	now := s.nowMs()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var revision int64
	if err := tx.QueryRow(`SELECT status, revision FROM jobs WHERE id = ?`, id).Scan(&status, &revision); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
		return nil, nil, err
	}
	if isTerminal(status) {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobAlreadyTerminal, id)
	}
	if status == StatusRunning && !forceRunning {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotCancelable, id)
	}
	if expectedRevision != nil && *expectedRevision != revision {
		return nil, nil, fmt.Errorf("%w: %s", ErrRevisionMismatch, id)
	}

	res, err := tx.Exec(`UPDATE jobs SET status=?, runner=NULL, claim_expires_at_ms=NULL, revision=revision+1, updated_at_ms=?, completed_at_ms=?
		WHERE id=? AND revision=?`,
		StatusCanceled, now, now, id, revision)
	if err != nil {
		return nil, nil, err
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return nil, nil, fmt.Errorf("%w: %s", ErrRevisionMismatch, id)
	}

	if s.selfHeal != nil {
		var workspace string
		if err := tx.QueryRow(`SELECT workspace FROM jobs WHERE id = ?`, id).Scan(&workspace); err != nil {
			return nil, nil, err
		}
		if err := s.selfHeal.ClearActiveJob(tx, workspace, id); err != nil {
			return nil, nil, err
		}
	}

	ev, err := appendEventTx(tx, now, id, EventKindCanceled, reason, nil, refs, meta)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	job, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return job, ev, nil
}

// Requeue transitions a terminal job back to QUEUED, clearing runner,
// claim_expires_at_ms and summary.
func (s *Store) Requeue(id, reason string, refs []string, meta json.RawMessage) (*Job, *Event, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, nil, err
	}
	now := s.nowMs()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var revision int64
	if err := tx.QueryRow(`SELECT status, revision FROM jobs WHERE id = ?`, id).Scan(&status, &revision); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
		return nil, nil, err
	}
	if !isTerminal(status) {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotRequeueable, id)
	}

	res, err := tx.Exec(`UPDATE jobs SET status=?, runner=NULL, claim_expires_at_ms=NULL, summary='', completed_at_ms=NULL, revision=revision+1, updated_at_ms=?
		WHERE id=? AND revision=?`,
		StatusQueued, now, id, revision)
	if err != nil {
		return nil, nil, err
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return nil, nil, fmt.Errorf("%w: %s", ErrRevisionMismatch, id)
	}

	ev, err := appendEventTx(tx, now, id, EventKindRequeued, reason, nil, refs, meta)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	job, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return job, ev, nil
}
