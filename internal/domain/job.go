package domain

import (
	"time"
)

// JobID is a unique identifier for a download job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	// JobStatusRetrying marks a job found in-flight after a restart. It is
	// re-queued and picks up from its resume checkpoint.
	JobStatusRetrying JobStatus = "retrying"
)

// Job represents a download job in the queue.
type Job struct {
	ID              JobID
	SourceURL       string
	DestinationPath string
	MediaTypeHint   string
	DeclaredSize    int64
	Status          JobStatus
	Attempts        int
	BytesWritten    int64
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewJob creates a queued job for a download.
func NewJob(id JobID, sourceURL, destinationPath, mediaTypeHint string, declaredSize int64) *Job {
	now := time.Now()
	return &Job{
		ID:              id,
		SourceURL:       sourceURL,
		DestinationPath: destinationPath,
		MediaTypeHint:   mediaTypeHint,
		DeclaredSize:    declaredSize,
		Status:          JobStatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Task builds the immutable per-call task for this job.
func (j *Job) Task(maxBytes int64) DownloadTask {
	return DownloadTask{
		SourceURL:       j.SourceURL,
		DestinationPath: j.DestinationPath,
		DeclaredSize:    j.DeclaredSize,
		MaxBytes:        maxBytes,
		MediaTypeHint:   j.MediaTypeHint,
	}
}

// IsActive reports whether the job still occupies the queue or a worker.
func (j *Job) IsActive() bool {
	switch j.Status {
	case JobStatusQueued, JobStatusProcessing, JobStatusRetrying:
		return true
	}
	return false
}

// MarkProcessing updates the job status to processing.
func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
}

// MarkCompleted records a successful download.
func (j *Job) MarkCompleted(bytesWritten int64, attempts int) {
	j.Status = JobStatusCompleted
	j.BytesWritten = bytesWritten
	j.Attempts = attempts
	j.LastError = ""
	j.UpdatedAt = time.Now()
}

// MarkFailed records a permanent failure.
func (j *Job) MarkFailed(errMsg string, bytesWritten int64, attempts int) {
	j.Status = JobStatusFailed
	j.BytesWritten = bytesWritten
	j.Attempts = attempts
	j.LastError = errMsg
	j.UpdatedAt = time.Now()
}

// MarkRetrying re-queues an interrupted job.
func (j *Job) MarkRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
