package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Append adds one event to a job's log, applying the heartbeat coalescing
// rule: a heartbeat immediately following another heartbeat updates that row
// in place instead of allocating a new seq.
func (s *Store) Append(jobID, kind, message string, percent *int, refs []string, meta json.RawMessage) (*Event, error) {
	jobID, err := normalizeJobID(jobID)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ev, err := appendEventTx(tx, s.nowMs(), jobID, kind, message, percent, refs, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

func appendEventTx(tx *sql.Tx, nowMs int64, jobID, kind, message string, percent *int, refs []string, meta json.RawMessage) (*Event, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" || len(kind) > MaxEventKindLen {
		return nil, fmt.Errorf("%w: event kind must be 1..%d bytes", ErrInvalidInput, MaxEventKindLen)
	}
	message = clamp(strings.TrimSpace(message), MaxEventMessageLen)
	refs = dedupeRefs(refs)
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, err
	}
	var metaStr sql.NullString
	if len(meta) > 0 {
		metaStr = sql.NullString{String: string(meta), Valid: true}
	}

	if kind == EventKindHeartbeat {
		var lastSeq int64
		var lastKind string
		err := tx.QueryRow(`SELECT seq, kind FROM job_events WHERE job_id = ? ORDER BY seq DESC LIMIT 1`, jobID).Scan(&lastSeq, &lastKind)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		if err == nil && lastKind == EventKindHeartbeat {
			if _, err := tx.Exec(`UPDATE job_events SET ts_ms=?, message=?, percent=?, refs=?, meta=? WHERE seq=?`,
				nowMs, message, nullableInt(percent), string(refsJSON), metaStr, lastSeq); err != nil {
				return nil, err
			}
			return &Event{JobID: jobID, Seq: lastSeq, TsMs: nowMs, Kind: kind, Message: message, Percent: percent, Refs: refs, Meta: meta}, nil
		}
	}

	res, err := tx.Exec(`INSERT INTO job_events (job_id, ts_ms, kind, message, percent, refs, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, nowMs, kind, message, nullableInt(percent), string(refsJSON), metaStr)
	if err != nil {
		return nil, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Event{JobID: jobID, Seq: seq, TsMs: nowMs, Kind: kind, Message: message, Percent: percent, Refs: refs, Meta: meta}, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// Tail returns events strictly after afterSeq, ascending, bounded by limit.
func (s *Store) Tail(jobID string, afterSeq int64, limit int) ([]Event, bool, error) {
	jobID, err := normalizeJobID(jobID)
	if err != nil {
		return nil, false, err
	}
	limit = clampLimit(limit, MaxTailEvents)

	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM job_events WHERE job_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		jobID, afterSeq, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	events, err := scanEvents(rows, limit)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

// GetSince returns events strictly before beforeSeq (or all, if beforeSeq<=0),
// descending by seq, bounded by limit. Used for paginated backward scans.
func (s *Store) GetSince(jobID string, beforeSeq int64, limit int) ([]Event, bool, error) {
	jobID, err := normalizeJobID(jobID)
	if err != nil {
		return nil, false, err
	}
	limit = clampLimit(limit, MaxOpenEvents)

	query := `SELECT ` + eventColumns + ` FROM job_events WHERE job_id = ?`
	args := []any{jobID}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	events, err := scanEvents(rows, limit)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

const eventColumns = `job_id, seq, ts_ms, kind, message, percent, refs, meta`

func scanEvents(rows *sql.Rows, capHint int) ([]Event, error) {
	out := make([]Event, 0, capHint)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		ev       Event
		percent  sql.NullInt64
		refsRaw  string
		metaRaw  sql.NullString
	)
	if err := sc.Scan(&ev.JobID, &ev.Seq, &ev.TsMs, &ev.Kind, &ev.Message, &percent, &refsRaw, &metaRaw); err != nil {
		return nil, err
	}
	if percent.Valid {
		v := int(percent.Int64)
		ev.Percent = &v
	}
	if refsRaw != "" {
		_ = json.Unmarshal([]byte(refsRaw), &ev.Refs)
	}
	if metaRaw.Valid {
		ev.Meta = json.RawMessage(metaRaw.String)
	}
	return &ev, nil
}

// LastMeaningful implements the manager-inbox ranking over a job's log:
// an outstanding question beats an outstanding proof gate beats an
// outstanding error beats the newest non-heartbeat, non-runner-internal
// event, falling back progressively.
func (s *Store) LastMeaningful(jobID string) (*Event, error) {
	jobID, err := normalizeJobID(jobID)
	if err != nil {
		return nil, err
	}

	lastOf := func(kind string) (int64, error) {
		var seq sql.NullInt64
		err := s.db.QueryRow(`SELECT MAX(seq) FROM job_events WHERE job_id = ? AND kind = ?`, jobID, kind).Scan(&seq)
		if err != nil {
			return 0, err
		}
		if !seq.Valid {
			return 0, nil
		}
		return seq.Int64, nil
	}

	lastQuestion, err := lastOf(EventKindQuestion)
	if err != nil {
		return nil, err
	}
	lastManager, err := lastOf(EventKindManager)
	if err != nil {
		return nil, err
	}
	lastCheckpoint, err := lastOf(EventKindCheckpoint)
	if err != nil {
		return nil, err
	}
	lastProofGate, err := lastOf(EventKindProofGate)
	if err != nil {
		return nil, err
	}
	lastError, err := lastOf(EventKindError)
	if err != nil {
		return nil, err
	}
	// last_manager_with_refs_seq: newest manager event that carries refs.
	var lastManagerWithRefs int64
	rows, err := s.db.Query(`SELECT seq, refs FROM job_events WHERE job_id = ? AND kind = ? ORDER BY seq DESC LIMIT 20`, jobID, EventKindManager)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		var refsRaw string
		if err := rows.Scan(&seq, &refsRaw); err != nil {
			rows.Close()
			return nil, err
		}
		var refs []string
		_ = json.Unmarshal([]byte(refsRaw), &refs)
		if len(refs) > 0 {
			lastManagerWithRefs = seq
			break
		}
	}
	rows.Close()

	switch {
	case lastQuestion > lastManager && lastQuestion > 0:
		return s.getEventBySeq(jobID, lastQuestion)
	case lastProofGate > maxInt64(lastCheckpoint, lastManagerWithRefs) && lastProofGate > 0:
		return s.getEventBySeq(jobID, lastProofGate)
	case lastError > lastCheckpoint && lastError > 0:
		return s.getEventBySeq(jobID, lastError)
	}

	// Newest non-heartbeat, non-runner-internal event.
	rows, err = s.db.Query(`SELECT `+eventColumns+` FROM job_events WHERE job_id = ? AND kind != ? ORDER BY seq DESC LIMIT 50`, jobID, EventKindHeartbeat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fallbackAny *Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if fallbackAny == nil {
			fallbackAny = ev
		}
		if !isRunnerInternal(ev.Message) {
			return ev, nil
		}
	}
	if fallbackAny != nil {
		return fallbackAny, nil
	}

	// Finally, the newest event of any kind.
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM job_events WHERE job_id = ? ORDER BY seq DESC LIMIT 1`, jobID)
	return scanEvent(row)
}

func (s *Store) getEventBySeq(jobID string, seq int64) (*Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM job_events WHERE job_id = ? AND seq = ?`, jobID, seq)
	return scanEvent(row)
}

func isRunnerInternal(message string) bool {
	return len(message) >= 7 && strings.EqualFold(message[:7], "runner:")
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
