package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/fetchd/internal/domain"
)

// SQLiteJobRepository implements JobRepository on SQLite so the queue
// survives restarts. Jobs found processing at startup are re-queued and
// resume from their transfer checkpoints.
type SQLiteJobRepository struct {
	db *sql.DB
}

// OpenSQLiteJobRepository opens (and migrates) the job database.
func OpenSQLiteJobRepository(dbPath string) (*SQLiteJobRepository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	repo := &SQLiteJobRepository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return repo, nil
}

// Close closes the database connection.
func (r *SQLiteJobRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteJobRepository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			destination_path TEXT NOT NULL,
			media_type_hint TEXT NOT NULL DEFAULT '',
			declared_size INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			bytes_written INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_destination ON jobs(destination_path)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const jobColumns = `id, source_url, destination_path, media_type_hint, declared_size,
	status, attempts, bytes_written, last_error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*domain.Job, error) {
	var job domain.Job
	var id, status string
	err := row.Scan(&id, &job.SourceURL, &job.DestinationPath, &job.MediaTypeHint,
		&job.DeclaredSize, &status, &job.Attempts, &job.BytesWritten, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.ID = domain.JobID(id)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

// Enqueue adds a job to the queue.
func (r *SQLiteJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.SourceURL, job.DestinationPath, job.MediaTypeHint,
		job.DeclaredSize, string(job.Status), job.Attempts, job.BytesWritten,
		job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue atomically claims the oldest pending job, marking it processing
// so concurrent workers never pick the same job.
func (r *SQLiteJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (?, ?)
		 ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		string(domain.JobStatusQueued), string(domain.JobStatusRetrying))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJobs
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	job.MarkProcessing()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), job.UpdatedAt, job.ID.String()); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}
	return job, nil
}

// Update modifies job state.
func (r *SQLiteJobRepository) Update(ctx context.Context, job *domain.Job) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, bytes_written = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Attempts, job.BytesWritten, job.LastError,
		job.UpdatedAt, job.ID.String())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Get retrieves a job by ID.
func (r *SQLiteJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetActiveByDestination finds an active job targeting the destination.
func (r *SQLiteJobRepository) GetActiveByDestination(ctx context.Context, destinationPath string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE destination_path = ? AND status IN (?, ?, ?) LIMIT 1`,
		destinationPath,
		string(domain.JobStatusQueued), string(domain.JobStatusProcessing),
		string(domain.JobStatusRetrying))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

// List returns jobs, optionally filtered by status, newest first.
func (r *SQLiteJobRepository) List(ctx context.Context, status *domain.JobStatus, limit, offset int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ?
			 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			string(*status), limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
			 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// RequeueInterrupted re-queues jobs left processing by an earlier run.
func (r *SQLiteJobRepository) RequeueInterrupted(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		string(domain.JobStatusRetrying), time.Now(), string(domain.JobStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	return int(affected), nil
}

// Stats returns queue statistics.
func (r *SQLiteJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusQueued:
			stats.Queued = count
		case domain.JobStatusProcessing:
			stats.Processing = count
		case domain.JobStatusCompleted:
			stats.Completed = count
		case domain.JobStatusFailed:
			stats.Failed = count
		case domain.JobStatusRetrying:
			stats.Retrying = count
		}
	}
	return stats, rows.Err()
}
