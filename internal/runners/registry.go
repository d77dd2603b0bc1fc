// Package runners implements the Runner Registry (liveness leases) and the
// TTL/self-heal half of the Lease Manager. The claim/reclaim CAS itself
// lives on the job row in internal/store; this package owns the independent
// runner_leases table and clears it when a job it references goes terminal.
package runners

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	StatusLive    = "live"
	StatusIdle    = "idle"
	StatusOffline = "offline"

	minLeaseTTLMs = 1000
	maxLeaseTTLMs = 300000
)

// Lease is a runner's liveness row.
type Lease struct {
	Workspace        string          `json:"workspace"`
	RunnerID         string          `json:"runner_id"`
	Status           string          `json:"status"`
	ActiveJobID      string          `json:"active_job_id,omitempty"`
	LeaseExpiresAtMs int64           `json:"lease_expires_at_ms"`
	Meta             json.RawMessage `json:"meta,omitempty"`
	UpdatedAtMs      int64           `json:"updated_at_ms"`
}

// Effective reports the lease status as seen by readers: an expired lease is
// always offline regardless of what was last written.
func (l Lease) Effective(nowMs int64) string {
	if l.LeaseExpiresAtMs <= nowMs {
		return StatusOffline
	}
	return l.Status
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger injects a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// Registry persists runner leases. It shares its *sql.DB with the job
// store so that terminal-transition self-heal and claim CAS serialize
// through the same single connection.
type Registry struct {
	db    *sql.DB
	log   *zap.Logger
	clock func() time.Time
}

// NewRegistry wires the runner_leases table onto an existing job-store
// connection.
func NewRegistry(db *sql.DB, opts ...Option) (*Registry, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runner_leases (
		workspace           TEXT NOT NULL,
		runner_id           TEXT NOT NULL,
		status              TEXT NOT NULL,
		active_job_id       TEXT,
		lease_expires_at_ms INTEGER NOT NULL,
		meta                TEXT,
		updated_at_ms       INTEGER NOT NULL,
		PRIMARY KEY (workspace, runner_id)
	)`); err != nil {
		return nil, fmt.Errorf("create runner_leases table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runner_leases_active_job ON runner_leases(active_job_id)`)

	r := &Registry{db: db, log: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) nowMs() int64 { return r.clock().UTC().UnixMilli() }

// Heartbeat upserts a runner's liveness lease.
func (r *Registry) Heartbeat(workspace, runnerID, status, activeJobID string, leaseTTLMs int64, meta json.RawMessage) (*Lease, error) {
	runnerID = strings.TrimSpace(runnerID)
	if runnerID == "" {
		return nil, fmt.Errorf("runner id required")
	}
	switch status {
	case StatusLive, StatusIdle, StatusOffline:
	default:
		return nil, fmt.Errorf("invalid runner status: %s", status)
	}
	if status == StatusLive && strings.TrimSpace(activeJobID) == "" {
		return nil, fmt.Errorf("live status requires active_job_id")
	}
	if status == StatusIdle {
		activeJobID = ""
	}
	ttl := clampTTL(leaseTTLMs)
	now := r.nowMs()
	expires := now + ttl

	var activeJob sql.NullString
	if activeJobID != "" {
		activeJob = sql.NullString{String: activeJobID, Valid: true}
	}
	var metaStr sql.NullString
	if len(meta) > 0 {
		metaStr = sql.NullString{String: string(meta), Valid: true}
	}

	_, err := r.db.Exec(`INSERT INTO runner_leases (workspace, runner_id, status, active_job_id, lease_expires_at_ms, meta, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace, runner_id) DO UPDATE SET
			status=excluded.status, active_job_id=excluded.active_job_id,
			lease_expires_at_ms=excluded.lease_expires_at_ms, meta=excluded.meta, updated_at_ms=excluded.updated_at_ms`,
		workspace, runnerID, status, activeJob, expires, metaStr, now)
	if err != nil {
		return nil, fmt.Errorf("upsert runner lease: %w", err)
	}

	return &Lease{Workspace: workspace, RunnerID: runnerID, Status: status, ActiveJobID: activeJobID, LeaseExpiresAtMs: expires, Meta: meta, UpdatedAtMs: now}, nil
}

func clampTTL(ttlMs int64) int64 {
	if ttlMs < minLeaseTTLMs {
		return minLeaseTTLMs
	}
	if ttlMs > maxLeaseTTLMs {
		return maxLeaseTTLMs
	}
	return ttlMs
}

// Snapshot summarizes runner liveness for a workspace.
type Snapshot struct {
	LiveCount    int    `json:"live_count"`
	IdleCount    int    `json:"idle_count"`
	OfflineCount int    `json:"offline_count"`
	RunnerID     string `json:"runner_id,omitempty"`
	Status       string `json:"status,omitempty"`
	ActiveJobID  string `json:"active_job_id,omitempty"`
}

// StatusSnapshot aggregates lease counts; if runnerID is non-empty it also
// reports that runner's effective status.
func (r *Registry) StatusSnapshot(workspace, runnerID string) (*Snapshot, error) {
	now := r.nowMs()
	rows, err := r.db.Query(`SELECT runner_id, status, active_job_id, lease_expires_at_ms FROM runner_leases WHERE workspace = ?`, workspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &Snapshot{}
	for rows.Next() {
		var (
			id          string
			status      string
			activeJob   sql.NullString
			expiresAtMs int64
		)
		if err := rows.Scan(&id, &status, &activeJob, &expiresAtMs); err != nil {
			return nil, err
		}
		effective := status
		if expiresAtMs <= now {
			effective = StatusOffline
		}
		switch effective {
		case StatusLive:
			snap.LiveCount++
		case StatusIdle:
			snap.IdleCount++
		default:
			snap.OfflineCount++
		}
		if runnerID != "" && id == runnerID {
			snap.RunnerID = id
			snap.Status = effective
			if activeJob.Valid {
				snap.ActiveJobID = activeJob.String
			}
		}
	}
	return snap, rows.Err()
}

// ListActive returns non-expired leases, bounded by limit, with has_more.
func (r *Registry) ListActive(workspace string, limit int) ([]Lease, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	now := r.nowMs()
	rows, err := r.db.Query(`SELECT workspace, runner_id, status, active_job_id, lease_expires_at_ms, meta, updated_at_ms
		FROM runner_leases WHERE workspace = ? AND lease_expires_at_ms > ? ORDER BY runner_id ASC LIMIT ?`,
		workspace, now, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	return scanLeases(rows, limit)
}

// ListOfflineRecent returns expired leases ordered by most-recent activity.
func (r *Registry) ListOfflineRecent(workspace string, limit int) ([]Lease, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	now := r.nowMs()
	rows, err := r.db.Query(`SELECT workspace, runner_id, status, active_job_id, lease_expires_at_ms, meta, updated_at_ms
		FROM runner_leases WHERE workspace = ? AND lease_expires_at_ms <= ? ORDER BY updated_at_ms DESC LIMIT ?`,
		workspace, now, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	return scanLeases(rows, limit)
}

func scanLeases(rows *sql.Rows, limit int) ([]Lease, bool, error) {
	out := make([]Lease, 0, limit)
	for rows.Next() {
		var (
			l         Lease
			activeJob sql.NullString
			metaStr   sql.NullString
		)
		if err := rows.Scan(&l.Workspace, &l.RunnerID, &l.Status, &activeJob, &l.LeaseExpiresAtMs, &metaStr, &l.UpdatedAtMs); err != nil {
			return nil, false, err
		}
		if activeJob.Valid {
			l.ActiveJobID = activeJob.String
		}
		if metaStr.Valid {
			l.Meta = json.RawMessage(metaStr.String)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// ClearActiveJob implements store.SelfHealer: it clears active_job_id on any
// lease still referencing jobID, inside the caller's transaction.
func (r *Registry) ClearActiveJob(tx *sql.Tx, workspace, jobID string) error {
	_, err := tx.Exec(`UPDATE runner_leases SET active_job_id=NULL, status=CASE WHEN status=? THEN ? ELSE status END
		WHERE workspace = ? AND active_job_id = ?`, StatusLive, StatusIdle, workspace, jobID)
	return err
}
