package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iconidentify/fetchd/internal/domain"
)

// InMemoryJobRepository implements JobRepository using in-memory storage.
// Used in tests and for ephemeral deployments without a database path.
type InMemoryJobRepository struct {
	mu            sync.RWMutex
	jobs          map[domain.JobID]*domain.Job
	byDestination map[string]domain.JobID
	queue         []domain.JobID // FIFO queue of pending job IDs
}

// NewInMemoryJobRepository creates a new in-memory job repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:          make(map[domain.JobID]*domain.Job),
		byDestination: make(map[string]domain.JobID),
		queue:         make([]domain.JobID, 0),
	}
}

// Enqueue adds a job to the queue.
func (r *InMemoryJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	r.byDestination[job.DestinationPath] = job.ID
	r.queue = append(r.queue, job.ID)

	return nil
}

// Dequeue retrieves the next pending job (FIFO).
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, jobID := range r.queue {
		job, ok := r.jobs[jobID]
		if !ok {
			continue
		}

		if job.Status == domain.JobStatusQueued || job.Status == domain.JobStatusRetrying {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return job, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Update modifies job state.
func (r *InMemoryJobRepository) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}

	r.jobs[job.ID] = job

	// A retrying job goes back on the queue.
	if job.Status == domain.JobStatusRetrying {
		r.queue = append(r.queue, job.ID)
	}

	return nil
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// GetActiveByDestination finds an active job targeting the destination.
func (r *InMemoryJobRepository) GetActiveByDestination(ctx context.Context, destinationPath string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobID, ok := r.byDestination[destinationPath]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job, ok := r.jobs[jobID]
	if !ok || !job.IsActive() {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// List returns jobs, optionally filtered by status, newest first.
func (r *InMemoryJobRepository) List(ctx context.Context, status *domain.JobStatus, limit, offset int) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Job
	for _, job := range r.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		result = append(result, job)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}

	return result, nil
}

// RequeueInterrupted re-queues jobs left processing by an earlier run.
func (r *InMemoryJobRepository) RequeueInterrupted(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing {
			job.MarkRetrying()
			r.queue = append(r.queue, job.ID)
			count++
		}
	}

	return count, nil
}

// Stats returns queue statistics.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &QueueStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusRetrying:
			stats.Retrying++
		}
	}

	return stats, nil
}
