package repository

import (
	"context"

	"github.com/iconidentify/fetchd/internal/domain"
)

// JobRepository manages the download job queue.
type JobRepository interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue retrieves the next pending job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Update modifies job state.
	Update(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// GetActiveByDestination finds a queued, processing, or retrying job
	// that already targets the destination path.
	GetActiveByDestination(ctx context.Context, destinationPath string) (*domain.Job, error)

	// List returns jobs, optionally filtered by status, newest first.
	List(ctx context.Context, status *domain.JobStatus, limit, offset int) ([]*domain.Job, error)

	// RequeueInterrupted re-queues jobs left processing by an earlier run.
	// Returns how many jobs were re-queued.
	RequeueInterrupted(ctx context.Context) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Retrying   int `json:"retrying"`
}
