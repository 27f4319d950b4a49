package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/fetchd/internal/config"
	"github.com/iconidentify/fetchd/internal/domain"
	"github.com/iconidentify/fetchd/internal/fetch"
	"github.com/iconidentify/fetchd/internal/repository"
)

// DownloadService orchestrates the download workflow: accept requests,
// queue jobs, run them through the pipeline, and expose status.
type DownloadService struct {
	jobRepo     repository.JobRepository
	pipeline    *fetch.Pipeline
	storageCfg  config.StorageConfig
	downloadCfg config.DownloadConfig
	logger      *slog.Logger

	mu       sync.RWMutex
	cancels  map[domain.JobID]context.CancelFunc
	byDest   map[string]domain.JobID
	progress map[domain.JobID]domain.TransferProgress
}

// NewDownloadService creates a new download service and wires it into the
// pipeline's progress feed.
func NewDownloadService(
	jobRepo repository.JobRepository,
	pipeline *fetch.Pipeline,
	storageCfg config.StorageConfig,
	downloadCfg config.DownloadConfig,
	logger *slog.Logger,
) *DownloadService {
	s := &DownloadService{
		jobRepo:     jobRepo,
		pipeline:    pipeline,
		storageCfg:  storageCfg,
		downloadCfg: downloadCfg,
		logger:      logger,
		cancels:     make(map[domain.JobID]context.CancelFunc),
		byDest:      make(map[string]domain.JobID),
		progress:    make(map[domain.JobID]domain.TransferProgress),
	}
	pipeline.Subscribe(s.onProgress)
	return s
}

func (s *DownloadService) onProgress(task domain.DownloadTask, progress domain.TransferProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byDest[task.DestinationPath]; ok {
		s.progress[id] = progress
	}
}

// SubmitRequest represents a download submission.
type SubmitRequest struct {
	SourceURL     string
	Filename      string // stored under the configured base path; derived from the URL when empty
	MediaTypeHint string
	DeclaredSize  int64
}

// SubmitResponse is returned after submitting a download.
type SubmitResponse struct {
	JobID           domain.JobID
	Status          domain.JobStatus
	DestinationPath string
}

// StatusResponse contains the current status of a download job.
type StatusResponse struct {
	JobID           domain.JobID
	Status          domain.JobStatus
	SourceURL       string // query-stripped
	DestinationPath string
	DeclaredSize    int64
	BytesWritten    int64
	Percent         float64
	Rate            float64
	Attempts        int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Submit accepts a new download request and queues a job for it.
func (s *DownloadService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	dest, err := s.resolveDestination(req.Filename, req.SourceURL)
	if err != nil {
		return nil, err
	}

	task := domain.DownloadTask{
		SourceURL:       req.SourceURL,
		DestinationPath: dest,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.jobRepo.GetActiveByDestination(ctx, dest); err == nil {
		return nil, domain.ErrDuplicateJob
	}

	jobID := domain.JobID("job_" + uuid.New().String()[:8])
	job := domain.NewJob(jobID, req.SourceURL, dest, req.MediaTypeHint, req.DeclaredSize)

	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("download submitted",
		"job_id", jobID,
		"url", domain.SanitizeURL(req.SourceURL),
		"destination", dest,
	)

	return &SubmitResponse{
		JobID:           jobID,
		Status:          job.Status,
		DestinationPath: dest,
	}, nil
}

// resolveDestination builds the absolute destination path under the base
// path. Any directory components in the requested filename are discarded,
// so a request can never escape the storage root.
func (s *DownloadService) resolveDestination(filename, sourceURL string) (string, error) {
	if filename == "" {
		if u, err := url.Parse(sourceURL); err == nil {
			filename = path.Base(u.Path)
		}
	}
	filename = filepath.Base(filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return "", domain.ErrInvalidDestination
	}
	return filepath.Join(s.storageCfg.BasePath, filename), nil
}

// Process runs a dequeued job through the pipeline and records the
// outcome. It is called by pool workers; ctx is the pool's lifetime.
func (s *DownloadService) Process(ctx context.Context, job *domain.Job) error {
	job.MarkProcessing()
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.byDest[job.DestinationPath] = job.ID
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, job.ID)
		delete(s.byDest, job.DestinationPath)
		delete(s.progress, job.ID)
		s.mu.Unlock()
	}()

	result := s.pipeline.Download(jobCtx, job.Task(s.downloadCfg.MaxResponseSize))

	if !result.Success {
		job.MarkFailed(result.Err.Error(), result.BytesWritten, result.Attempts)
		if err := s.jobRepo.Update(context.WithoutCancel(ctx), job); err != nil {
			s.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
		}
		return result.Err
	}

	job.MarkCompleted(result.BytesWritten, result.Attempts)
	if err := s.jobRepo.Update(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to record job completion", "job_id", job.ID, "error", err)
	}
	return nil
}

// Get returns the status of one job, including live transfer progress
// while it is processing.
func (s *DownloadService) Get(ctx context.Context, id domain.JobID) (*StatusResponse, error) {
	job, err := s.jobRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.status(job), nil
}

// List returns job statuses, optionally filtered by status.
func (s *DownloadService) List(ctx context.Context, status *domain.JobStatus, limit, offset int) ([]*StatusResponse, error) {
	jobs, err := s.jobRepo.List(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	result := make([]*StatusResponse, 0, len(jobs))
	for _, job := range jobs {
		result = append(result, s.status(job))
	}
	return result, nil
}

func (s *DownloadService) status(job *domain.Job) *StatusResponse {
	resp := &StatusResponse{
		JobID:           job.ID,
		Status:          job.Status,
		SourceURL:       domain.SanitizeURL(job.SourceURL),
		DestinationPath: job.DestinationPath,
		DeclaredSize:    job.DeclaredSize,
		BytesWritten:    job.BytesWritten,
		Attempts:        job.Attempts,
		LastError:       job.LastError,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}

	s.mu.RLock()
	progress, ok := s.progress[job.ID]
	s.mu.RUnlock()
	if ok {
		resp.BytesWritten = progress.BytesTransferred
		resp.Percent = progress.Percent()
		resp.Rate = progress.Rate
	}
	return resp
}

// Cancel stops a job. An in-flight download is interrupted and keeps its
// resume checkpoint; a waiting job is failed before it starts.
func (s *DownloadService) Cancel(ctx context.Context, id domain.JobID) error {
	s.mu.RLock()
	cancel, inFlight := s.cancels[id]
	s.mu.RUnlock()

	if inFlight {
		cancel()
		s.logger.Info("download cancelled", "job_id", id)
		return nil
	}

	job, err := s.jobRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsActive() {
		return domain.ErrJobNotFound
	}

	job.MarkFailed("cancelled before start", job.BytesWritten, job.Attempts)
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("cancel queued job: %w", err)
	}
	s.logger.Info("queued download cancelled", "job_id", id)
	return nil
}

// Probe checks source URL accessibility without downloading.
func (s *DownloadService) Probe(ctx context.Context, rawURL string) (*fetch.ProbeResult, error) {
	return s.pipeline.Probe(ctx, rawURL)
}

// Stats returns queue statistics.
func (s *DownloadService) Stats(ctx context.Context) (*repository.QueueStats, error) {
	return s.jobRepo.Stats(ctx)
}

// RequeueInterrupted re-queues jobs a previous run left processing. They
// resume from their transfer checkpoints.
func (s *DownloadService) RequeueInterrupted(ctx context.Context) error {
	count, err := s.jobRepo.RequeueInterrupted(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("re-queued interrupted downloads", "count", count)
	}
	return nil
}
