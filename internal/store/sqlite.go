package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	schedule   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	target     TEXT NOT NULL DEFAULT '',
	enabled    INTEGER NOT NULL DEFAULT 0,
	approved   INTEGER NOT NULL DEFAULT 0,
	origin     TEXT NOT NULL,
	next_run   TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_enabled ON jobs(enabled, next_run);

CREATE TABLE IF NOT EXISTS memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL,
	weight     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind, created_at DESC);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps the lock contention story simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const jobColumns = "id, name, schedule, kind, prompt, target, enabled, approved, origin, next_run, created_at, updated_at"

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var next sql.NullTime
	err := row.Scan(&j.ID, &j.Name, &j.Schedule, &j.Kind, &j.Prompt, &j.Target,
		&j.Enabled, &j.Approved, &j.Origin, &next, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	if next.Valid {
		j.NextRun = next.Time
	}
	return j, nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, where string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListEnabledJobs returns jobs the poller should consider: enabled and,
// for agent-originated jobs, approved.
func (s *SQLiteStore) ListEnabledJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE enabled = 1 AND (origin != ? OR approved = 1) ORDER BY next_run", OriginAgent)
}

// ListJobs returns all jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "ORDER BY created_at DESC")
}

// GetJob returns the job with the given ID or ErrNotFound.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// InsertJob persists a new job, or replaces an existing one with the same ID
// (file sync re-upserts by ID).
func (s *SQLiteStore) InsertJob(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	var next any
	if !job.NextRun.IsZero() {
		next = job.NextRun
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, schedule=excluded.schedule, kind=excluded.kind,
			prompt=excluded.prompt, target=excluded.target, enabled=excluded.enabled,
			next_run=excluded.next_run, updated_at=excluded.updated_at`,
		job.ID, job.Name, job.Schedule, job.Kind, job.Prompt, job.Target,
		job.Enabled, job.Approved, job.Origin, next, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) updateJob(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveJobNextRun records the recomputed due time for a job.
func (s *SQLiteStore) SaveJobNextRun(ctx context.Context, id string, next time.Time) error {
	return s.updateJob(ctx, "UPDATE jobs SET next_run = ?, updated_at = ? WHERE id = ?",
		next, time.Now().UTC(), id)
}

// DisableJob permanently disables a job (one-shot completion, operator action).
func (s *SQLiteStore) DisableJob(ctx context.Context, id string) error {
	return s.updateJob(ctx, "UPDATE jobs SET enabled = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
}

// ApproveJob marks an agent-originated job approved and enables it.
func (s *SQLiteStore) ApproveJob(ctx context.Context, id string) error {
	return s.updateJob(ctx, "UPDATE jobs SET approved = 1, enabled = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
}

// InsertMemory stores a new memory record and returns its ID.
func (s *SQLiteStore) InsertMemory(ctx context.Context, kind MemoryKind, text string, weight int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO memories (kind, text, weight, created_at) VALUES (?,?,?,?)",
		kind, text, weight, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	return res.LastInsertId()
}

// DeleteMemory removes the record with the given ID.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMemoryCandidates returns records whose text contains search,
// case-insensitively.
func (s *SQLiteStore) FindMemoryCandidates(ctx context.Context, search string) ([]Memory, error) {
	pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, text, weight, created_at FROM memories
		 WHERE lower(text) LIKE ? ESCAPE '\' ORDER BY created_at`, pattern)
	if err != nil {
		return nil, fmt.Errorf("find memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListMemories returns the most recent records of a kind.
func (s *SQLiteStore) ListMemories(ctx context.Context, kind MemoryKind, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, text, weight, created_at FROM memories
		 WHERE kind = ? ORDER BY created_at DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Kind, &m.Text, &m.Weight, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RecordEvent appends an entry to the interaction/audit log.
func (s *SQLiteStore) RecordEvent(ctx context.Context, kind, payload string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (kind, payload, created_at) VALUES (?,?,?)",
		kind, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, most recent first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, payload, created_at FROM events ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSnapshot stores a new personality snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshots (text, created_at) VALUES (?,?)", text, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent personality snapshot, or nil when
// none exists yet.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, text, created_at FROM snapshots ORDER BY id DESC LIMIT 1")
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.Text, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}
