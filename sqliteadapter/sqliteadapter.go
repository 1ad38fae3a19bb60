// Package sqliteadapter implements jobq.Adapter over a single SQLite
// file, grounded on the claim-by-UPDATE-RETURNING technique in
// Pranav1703-FlamAssignment's internal/database/worker.go, generalized
// from a single-row FindAndLock to jobq's batch ClaimConcurrentJobs and
// from a fixed command-runner schema to jobq's full Job model.
package sqliteadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jobq-go/jobq"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	payload TEXT,
	metadata TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	time_interval_ms INTEGER NOT NULL DEFAULT 0,
	ttl_ms INTEGER NOT NULL DEFAULT 0,
	online_only INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 0,
	timeout_ms INTEGER NOT NULL DEFAULT 25000,
	created_at DATETIME NOT NULL,
	failed_at DATETIME,
	worker_name TEXT
);
CREATE TABLE IF NOT EXISTS dead_letters (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	payload TEXT,
	metadata TEXT,
	attempts INTEGER NOT NULL,
	failed_at DATETIME,
	moved_at DATETIME NOT NULL
);
`

// Adapter is a jobq.Adapter, jobq.Recoverer, and jobq.DeadLetterer
// backed by one SQLite database, intended for a single-process
// deployment (spec's one-process-per-namespace Non-goal).
type Adapter struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at dsn in WAL mode
// and ensures the schema exists.
func Open(dsn string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // single-writer guarantee spec §9 allows in lieu of a transactional lock per call

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqliteadapter: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqliteadapter: migrate: %w", err)
	}
	return &Adapter{db: db}, nil
}

func (a *Adapter) Close() error { return a.db.Close() }

func (a *Adapter) AddJob(ctx context.Context, job *jobq.Job) error {
	payload, metadata, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, payload, metadata, priority, attempts, max_attempts,
			time_interval_ms, ttl_ms, online_only, active, timeout_ms, created_at, failed_at, worker_name)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, payload=excluded.payload, metadata=excluded.metadata,
			priority=excluded.priority, attempts=excluded.attempts, max_attempts=excluded.max_attempts,
			time_interval_ms=excluded.time_interval_ms, ttl_ms=excluded.ttl_ms, online_only=excluded.online_only,
			active=excluded.active, timeout_ms=excluded.timeout_ms, created_at=excluded.created_at,
			failed_at=excluded.failed_at, worker_name=excluded.worker_name`,
		job.ID, job.Name, payload, metadata, job.Priority, job.Attempts, job.MaxAttempts,
		job.TimeInterval.Milliseconds(), job.TTL.Milliseconds(), boolToInt(job.OnlineOnly), boolToInt(job.Active),
		job.Timeout.Milliseconds(), job.Created, nullTime(job.Failed), job.WorkerName,
	)
	return err
}

func (a *Adapter) UpdateJob(ctx context.Context, job *jobq.Job) error {
	payload, metadata, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		UPDATE jobs SET name=?, payload=?, metadata=?, priority=?, attempts=?, max_attempts=?,
			time_interval_ms=?, ttl_ms=?, online_only=?, active=?, timeout_ms=?, failed_at=?, worker_name=?
		WHERE id=?`,
		job.Name, payload, metadata, job.Priority, job.Attempts, job.MaxAttempts,
		job.TimeInterval.Milliseconds(), job.TTL.Milliseconds(), boolToInt(job.OnlineOnly), boolToInt(job.Active),
		job.Timeout.Milliseconds(), nullTime(job.Failed), job.WorkerName, job.ID,
	)
	return err
}

func (a *Adapter) RemoveJob(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	return err
}

func (a *Adapter) GetJob(ctx context.Context, id string) (*jobq.Job, bool, error) {
	row := a.db.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id=?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (a *Adapter) GetJobs(ctx context.Context) ([]*jobq.Job, error) {
	rows, err := a.db.QueryContext(ctx, selectColumns+` FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*jobq.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (a *Adapter) DeleteAll(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM jobs`)
	return err
}

// ClaimConcurrentJobs selects up to limit eligible rows by priority
// desc/created asc and marks them active in one statement using the
// subquery-in-UPDATE pattern Pranav1703-FlamAssignment uses for
// FindAndLock, widened from LIMIT 1 to LIMIT ?.
func (a *Adapter) ClaimConcurrentJobs(ctx context.Context, limit int) ([]*jobq.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE jobs SET active = 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE active = 0 AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC
			LIMIT ?
		)
		RETURNING `+claimReturningColumns, limit)
	if err != nil {
		return nil, err
	}

	var out []*jobq.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Recover resets every active record at process start, per spec §4.1.
func (a *Adapter) Recover(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `UPDATE jobs SET active = 0 WHERE active = 1`)
	return err
}

// MoveToDLQ relocates a terminal job into the dead_letters table.
func (a *Adapter) MoveToDLQ(ctx context.Context, job *jobq.Job) error {
	payload, metadata, err := marshalJob(job)
	if err != nil {
		return err
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, name, payload, metadata, attempts, failed_at, moved_at)
		VALUES (?,?,?,?,?,?,?)`,
		job.ID, job.Name, payload, metadata, job.Attempts, nullTime(job.Failed), time.Now(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, job.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDeadLetters satisfies adminapi.DeadLetterLister.
func (a *Adapter) ListDeadLetters(ctx context.Context) ([]*jobq.Job, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, name, payload, metadata, attempts, failed_at FROM dead_letters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*jobq.Job
	for rows.Next() {
		var (
			id, name           string
			payloadStr, metaStr sql.NullString
			attempts           int
			failedAt           sql.NullTime
		)
		if err := rows.Scan(&id, &name, &payloadStr, &metaStr, &attempts, &failedAt); err != nil {
			return nil, err
		}
		job := &jobq.Job{ID: id, Name: name, Attempts: attempts}
		if payloadStr.Valid {
			json.Unmarshal([]byte(payloadStr.String), &job.Payload)
		}
		if metaStr.Valid {
			json.Unmarshal([]byte(metaStr.String), &job.MetaData)
		}
		if failedAt.Valid {
			t := failedAt.Time
			job.Failed = &t
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// RetryDeadLetter moves a dead-letter record back into jobs with
// attempts reset to 0, satisfying adminapi.DeadLetterLister.
func (a *Adapter) RetryDeadLetter(ctx context.Context, id string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name string
	var payloadStr, metaStr sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT name, payload, metadata FROM dead_letters WHERE id=?`, id)
	if err := row.Scan(&name, &payloadStr, &metaStr); err != nil {
		return err
	}

	job := jobq.Job{
		ID: id, Name: name, MaxAttempts: 1, TTL: jobq.DefaultTTL, Timeout: jobq.DefaultTimeout, Created: time.Now(),
	}
	if payloadStr.Valid {
		json.Unmarshal([]byte(payloadStr.String), &job.Payload)
	}
	if metaStr.Valid {
		json.Unmarshal([]byte(metaStr.String), &job.MetaData)
	}

	payload, metadata, err := marshalJob(&job)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (id, name, payload, metadata, priority, attempts, max_attempts,
			time_interval_ms, ttl_ms, online_only, active, timeout_ms, created_at, failed_at, worker_name)
		VALUES (?,?,?,?,0,0,1,0,?,0,0,?,?,NULL,?)`,
		job.ID, job.Name, payload, metadata, job.TTL.Milliseconds(), job.Timeout.Milliseconds(), job.Created, job.WorkerName,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

const selectColumns = `SELECT id, name, payload, metadata, priority, attempts, max_attempts,
	time_interval_ms, ttl_ms, online_only, active, timeout_ms, created_at, failed_at, worker_name`

const claimReturningColumns = `id, name, payload, metadata, priority, attempts, max_attempts,
	time_interval_ms, ttl_ms, online_only, active, timeout_ms, created_at, failed_at, worker_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobq.Job, error) {
	var (
		id, name            string
		payloadStr, metaStr sql.NullString
		priority, attempts, maxAttempts int
		timeIntervalMs, ttlMs, timeoutMs int64
		onlineOnly, active  int
		created             time.Time
		failedAt            sql.NullTime
		workerName          sql.NullString
	)

	if err := row.Scan(&id, &name, &payloadStr, &metaStr, &priority, &attempts, &maxAttempts,
		&timeIntervalMs, &ttlMs, &onlineOnly, &active, &timeoutMs, &created, &failedAt, &workerName); err != nil {
		return nil, err
	}

	job := &jobq.Job{
		ID:           id,
		Name:         name,
		Priority:     priority,
		Attempts:     attempts,
		MaxAttempts:  maxAttempts,
		TimeInterval: time.Duration(timeIntervalMs) * time.Millisecond,
		TTL:          time.Duration(ttlMs) * time.Millisecond,
		OnlineOnly:   onlineOnly != 0,
		Active:       active != 0,
		Timeout:      time.Duration(timeoutMs) * time.Millisecond,
		Created:      created,
		WorkerName:   workerName.String,
		MetaData:     map[string]any{},
	}
	if payloadStr.Valid {
		json.Unmarshal([]byte(payloadStr.String), &job.Payload)
	}
	if metaStr.Valid {
		json.Unmarshal([]byte(metaStr.String), &job.MetaData)
	}
	if failedAt.Valid {
		t := failedAt.Time
		job.Failed = &t
	}
	return job, nil
}

func marshalJob(job *jobq.Job) (payload, metadata string, err error) {
	p, err := json.Marshal(job.Payload)
	if err != nil {
		return "", "", fmt.Errorf("sqliteadapter: marshal payload: %w", err)
	}
	m, err := json.Marshal(job.MetaData)
	if err != nil {
		return "", "", fmt.Errorf("sqliteadapter: marshal metadata: %w", err)
	}
	return string(p), string(m), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
