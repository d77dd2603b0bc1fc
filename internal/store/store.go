package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	migration "github.com/cascadehq/cascade/internal/dbmigrate"
)

// schemaVersion is bumped whenever NewStore's table/column bootstrap adds a
// new column or table. dbmigrate.CheckVersion refuses to open a database a
// newer binary already wrote to with an older one.
const schemaVersion = 2

// SelfHealer clears a runner lease's active_job_id inside the same
// transaction as a job's terminal transition. internal/runners implements
// this; the store only depends on the interface so the two packages stay
// decoupled while sharing one commit.
type SelfHealer interface {
	ClearActiveJob(tx *sql.Tx, workspace, jobID string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger injects a structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithSelfHealer wires the runner registry's lease-clearing hook.
func WithSelfHealer(h SelfHealer) Option {
	return func(s *Store) { s.selfHeal = h }
}

// SetSelfHealer wires the self-healer after construction, for callers whose
// SelfHealer implementation (internal/runners.Registry) needs the store's
// own *sql.DB to build itself.
func (s *Store) SetSelfHealer(h SelfHealer) {
	s.selfHeal = h
}

// Store persists jobs and their event logs in SQLite.
type Store struct {
	db       *sql.DB
	log      *zap.Logger
	selfHeal SelfHealer
	clock    func() time.Time
}

// NewStore opens (or creates) the job ledger database.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open job store db: %w", err)
	}

	// A single pooled connection keeps CAS semantics deterministic: every
	// state-changing job mutation runs inside one transaction on one
	// connection, so no two writers can interleave at the SQLite level.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
		id                   TEXT NOT NULL DEFAULT '',
		workspace            TEXT NOT NULL,
		title                TEXT NOT NULL,
		prompt               TEXT NOT NULL,
		kind                 TEXT NOT NULL DEFAULT '',
		priority             TEXT NOT NULL DEFAULT 'MEDIUM',
		task_id              TEXT NOT NULL DEFAULT '',
		anchor_id            TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL DEFAULT 'QUEUED',
		runner               TEXT,
		claim_expires_at_ms  INTEGER,
		summary              TEXT NOT NULL DEFAULT '',
		meta                 TEXT NOT NULL DEFAULT '{}',
		created_at_ms        INTEGER NOT NULL,
		updated_at_ms        INTEGER NOT NULL,
		completed_at_ms      INTEGER,
		revision             INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS job_events (
		seq      INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id   TEXT NOT NULL,
		ts_ms    INTEGER NOT NULL,
		kind     TEXT NOT NULL,
		message  TEXT NOT NULL DEFAULT '',
		percent  INTEGER,
		refs     TEXT NOT NULL DEFAULT '[]',
		meta     TEXT,
		FOREIGN KEY(job_id) REFERENCES jobs(id) ON DELETE CASCADE
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create job_events table: %w", err)
	}

	if err := ensureColumn(db, "jobs", "claim_revision", "claim_revision INTEGER NOT NULL DEFAULT 0"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("add jobs.claim_revision: %w", err)
	}

	_, _ = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_id ON jobs(id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_workspace_status ON jobs(workspace, status)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at_ms DESC)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_job_events_job_seq ON job_events(job_id, seq)`)

	if err := migration.CheckVersion(db, schemaVersion); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migration.EnsureVersion(db, schemaVersion); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record schema version: %w", err)
	}

	s := &Store{db: db, log: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) nowMs() int64 {
	return s.clock().UTC().UnixMilli()
}

// DB exposes the underlying connection so sibling packages (runners,
// digest) can share it and participate in the same transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := hasColumn(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, definition))
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			name     string
			typeName string
			notNull  int
			defaultV sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &typeName, &notNull, &defaultV, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Create inserts a new job and emits its `created` event in the same
// transaction, returning both.
func (s *Store) Create(workspace, title, prompt, kind, priority, taskID, anchorID string, meta json.RawMessage) (*Job, *Event, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, nil, fmt.Errorf("%w: prompt required", ErrInvalidInput)
	}
	title = clamp(title, MaxJobTitleLen)
	prompt = clamp(prompt, MaxJobPromptLen)
	kind = clamp(strings.TrimSpace(kind), MaxJobKindLen)
	priority = normalizePriority(priority)
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	now := s.nowMs()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`INSERT INTO jobs (workspace, title, prompt, kind, priority, task_id, anchor_id, status, summary, meta, created_at_ms, updated_at_ms, revision, claim_revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, 1, 0)`,
		workspace, title, prompt, kind, priority, taskID, anchorID, StatusQueued, string(meta), now, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert job: %w", err)
	}
	rowSeq, err := res.LastInsertId()
	if err != nil {
		return nil, nil, err
	}
	id := formatJobID(rowSeq)
	if _, err := tx.Exec(`UPDATE jobs SET id = ? WHERE seq = ?`, id, rowSeq); err != nil {
		return nil, nil, fmt.Errorf("stamp job id: %w", err)
	}

	ev, err := appendEventTx(tx, now, id, EventKindCreated, "job created", nil, nil, nil)
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

// List returns jobs matching filter, newest-updated first, with has_more
// determined by overfetching one extra row.
func (s *Store) List(filter ListFilter, limit int) ([]Job, bool, error) {
	limit = clampLimit(limit, MaxListLimit)

	clauses := []string{"workspace = ?"}
	args := []any{filter.Workspace}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, strings.ToUpper(filter.Status))
	}
	if filter.TaskID != "" {
		clauses = append(clauses, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.AnchorID != "" {
		clauses = append(clauses, "anchor_id = ?")
		args = append(args, filter.AnchorID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY updated_at_ms DESC, id ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, *job)
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

// Get returns one job by id.
func (s *Store) Get(id string) (*Job, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return job, err
}

// OpenResult is the payload of the `open` operation: a job plus bounded
// prompt/meta/event disclosure.
type OpenResult struct {
	Job           Job
	Prompt        string
	Meta          json.RawMessage
	Events        []Event
	HasMoreEvents bool
}

// Open returns a job along with optionally-included prompt/meta/events,
// bounding the event slice to MaxOpenEvents.
func (s *Store) Open(id string, includePrompt, includeEvents, includeMeta bool, maxEvents int, beforeSeq int64) (*OpenResult, error) {
	job, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	out := &OpenResult{Job: *job}
	if includePrompt {
		out.Prompt = job.Prompt
	}
	if includeMeta {
		out.Meta = job.Meta
	}
	if includeEvents {
		maxEvents = clampLimit(maxEvents, MaxOpenEvents)
		events, hasMore, err := s.GetSince(job.ID, beforeSeq, maxEvents)
		if err != nil {
			return nil, err
		}
		out.Events = events
		out.HasMoreEvents = hasMore
	}
	return out, nil
}

const jobColumns = `id, workspace, title, prompt, kind, priority, task_id, anchor_id, status, runner, claim_expires_at_ms, claim_revision, summary, meta, created_at_ms, updated_at_ms, completed_at_ms, revision`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j                Job
		runner           sql.NullString
		claimExpires     sql.NullInt64
		completedAt      sql.NullInt64
		metaRaw          string
	)
	if err := sc.Scan(
		&j.ID, &j.Workspace, &j.Title, &j.Prompt, &j.Kind, &j.Priority,
		&j.TaskID, &j.AnchorID, &j.Status, &runner, &claimExpires, &j.ClaimRevision,
		&j.Summary, &metaRaw, &j.CreatedAtMs, &j.UpdatedAtMs, &completedAt, &j.Revision,
	); err != nil {
		return nil, err
	}
	if runner.Valid {
		j.Runner = runner.String
	}
	if claimExpires.Valid {
		v := claimExpires.Int64
		j.ClaimExpiresAtMs = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		j.CompletedAtMs = &v
	}
	if metaRaw != "" {
		j.Meta = json.RawMessage(metaRaw)
	}
	return &j, nil
}

// IsNotFound reports whether err indicates the id does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrUnknownID)
}
