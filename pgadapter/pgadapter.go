// Package pgadapter implements jobq.Adapter over PostgreSQL using
// sqlx and lib/pq, grounded on the teacher's shared/postgresql.Client
// connection-pool setup and internal/worker/storage.Storage's
// UPDATE...RETURNING claim pattern, generalized from a fixed-schema
// optimistic-lock claim to jobq's batched ClaimConcurrentJobs using
// FOR UPDATE SKIP LOCKED for true multi-writer atomicity. Migrations
// are goose-managed, in pgadapter/migrations.
package pgadapter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	goose "github.com/pressly/goose/v3"

	"github.com/jobq-go/jobq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds connection-pool settings, mirroring the teacher's
// shared/postgresql.Config.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Adapter is a jobq.Adapter, jobq.Recoverer, and jobq.DeadLetterer
// backed by PostgreSQL.
type Adapter struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Connect dials PostgreSQL, applies connection-pool settings, and runs
// pending goose migrations embedded in this package.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Adapter, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgadapter: connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgadapter: ping: %w", err)
	}

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgadapter: migrate: %w", err)
	}

	return &Adapter{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, payload=EXCLUDED.payload, metadata=EXCLUDED.metadata,
			priority=EXCLUDED.priority, attempts=EXCLUDED.attempts, max_attempts=EXCLUDED.max_attempts,
			time_interval_ms=EXCLUDED.time_interval_ms, ttl_ms=EXCLUDED.ttl_ms, online_only=EXCLUDED.online_only,
			active=EXCLUDED.active, timeout_ms=EXCLUDED.timeout_ms, created_at=EXCLUDED.created_at,
			failed_at=EXCLUDED.failed_at, worker_name=EXCLUDED.worker_name`,
		job.ID, job.Name, payload, metadata, job.Priority, job.Attempts, job.MaxAttempts,
		job.TimeInterval.Milliseconds(), job.TTL.Milliseconds(), job.OnlineOnly, job.Active,
		job.Timeout.Milliseconds(), job.Created, job.Failed, job.WorkerName,
	)
	if err != nil {
		a.logger.Error("pgadapter: add job failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	return err
}

func (a *Adapter) UpdateJob(ctx context.Context, job *jobq.Job) error {
	payload, metadata, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		UPDATE jobs SET name=$1, payload=$2, metadata=$3, priority=$4, attempts=$5, max_attempts=$6,
			time_interval_ms=$7, ttl_ms=$8, online_only=$9, active=$10, timeout_ms=$11, failed_at=$12, worker_name=$13
		WHERE id=$14`,
		job.Name, payload, metadata, job.Priority, job.Attempts, job.MaxAttempts,
		job.TimeInterval.Milliseconds(), job.TTL.Milliseconds(), job.OnlineOnly, job.Active,
		job.Timeout.Milliseconds(), job.Failed, job.WorkerName, job.ID,
	)
	return err
}

func (a *Adapter) RemoveJob(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	return err
}

func (a *Adapter) GetJob(ctx context.Context, id string) (*jobq.Job, bool, error) {
	row := a.db.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id=$1`, id)
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

// ClaimConcurrentJobs uses FOR UPDATE SKIP LOCKED inside a CTE so
// concurrent callers never block each other or double-claim a row,
// satisfying spec §4.1's mutual-exclusion-on-claim contract under real
// multi-writer concurrency (unlike sqliteadapter's single-writer
// guarantee).
func (a *Adapter) ClaimConcurrentJobs(ctx context.Context, limit int) ([]*jobq.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := a.db.QueryContext(ctx, `
		WITH candidates AS (
			SELECT id FROM jobs
			WHERE active = false AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs SET active = true
		WHERE id IN (SELECT id FROM candidates)
		RETURNING `+claimReturningColumns, limit)
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

// Recover resets every active record at process start.
func (a *Adapter) Recover(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `UPDATE jobs SET active = false WHERE active = true`)
	return err
}

// MoveToDLQ relocates a terminal job into dead_letters.
func (a *Adapter) MoveToDLQ(ctx context.Context, job *jobq.Job) error {
	payload, metadata, err := marshalJob(job)
	if err != nil {
		return err
	}
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, name, payload, metadata, attempts, failed_at, moved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		job.ID, job.Name, payload, metadata, job.Attempts, job.Failed, time.Now(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id=$1`, job.ID); err != nil {
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
			id, name   string
			payload    []byte
			metadata   []byte
			attempts   int
			failedAt   sql.NullTime
		)
		if err := rows.Scan(&id, &name, &payload, &metadata, &attempts, &failedAt); err != nil {
			return nil, err
		}
		job := &jobq.Job{ID: id, Name: name, Attempts: attempts, MetaData: map[string]any{}}
		json.Unmarshal(payload, &job.Payload)
		json.Unmarshal(metadata, &job.MetaData)
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
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name string
	var payload, metadata []byte
	if err := tx.QueryRowContext(ctx, `SELECT name, payload, metadata FROM dead_letters WHERE id=$1`, id).
		Scan(&name, &payload, &metadata); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (id, name, payload, metadata, priority, attempts, max_attempts,
			time_interval_ms, ttl_ms, online_only, active, timeout_ms, created_at, failed_at, worker_name)
		VALUES ($1,$2,$3,$4,0,0,1,0,$5,false,false,$6,$7,NULL,'')`,
		id, name, payload, metadata, jobq.DefaultTTL.Milliseconds(), jobq.DefaultTimeout.Milliseconds(), time.Now(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id=$1`, id); err != nil {
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
		id, name                         string
		payload, metadata                []byte
		priority, attempts, maxAttempts  int
		timeIntervalMs, ttlMs, timeoutMs int64
		onlineOnly, active               bool
		created                          time.Time
		failedAt                         sql.NullTime
		workerName                       sql.NullString
	)

	if err := row.Scan(&id, &name, &payload, &metadata, &priority, &attempts, &maxAttempts,
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
		OnlineOnly:   onlineOnly,
		Active:       active,
		Timeout:      time.Duration(timeoutMs) * time.Millisecond,
		Created:      created,
		WorkerName:   workerName.String,
		MetaData:     map[string]any{},
	}
	json.Unmarshal(payload, &job.Payload)
	json.Unmarshal(metadata, &job.MetaData)
	if failedAt.Valid {
		t := failedAt.Time
		job.Failed = &t
	}
	return job, nil
}

func marshalJob(job *jobq.Job) (payload, metadata []byte, err error) {
	payload, err = json.Marshal(job.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("pgadapter: marshal payload: %w", err)
	}
	metadata, err = json.Marshal(job.MetaData)
	if err != nil {
		return nil, nil, fmt.Errorf("pgadapter: marshal metadata: %w", err)
	}
	return payload, metadata, nil
}
