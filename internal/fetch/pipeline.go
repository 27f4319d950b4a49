package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/iconidentify/fetchd/internal/config"
	"github.com/iconidentify/fetchd/internal/domain"
)

// PipelineConfig holds the per-pipeline knobs assembled from the
// transport and download configuration.
type PipelineConfig struct {
	MaxRedirects         int
	AllowedRedirectHosts []string
	MaxResponseSize      int64
	TotalTimeout         time.Duration
	Transfer             TransferConfig
	Retry                RetryConfig
}

// NewPipelineConfig assembles the pipeline configuration.
func NewPipelineConfig(t config.TransportConfig, d config.DownloadConfig) PipelineConfig {
	return PipelineConfig{
		MaxRedirects:         t.MaxRedirects,
		AllowedRedirectHosts: t.AllowedRedirectHosts,
		MaxResponseSize:      d.MaxResponseSize,
		TotalTimeout:         t.TotalTimeout,
		Transfer: TransferConfig{
			MemoryThreshold:    d.MemoryThreshold,
			ChunkSize:          d.ChunkSize,
			SpeedLimit:         d.SpeedLimit,
			CheckpointInterval: d.CheckpointInterval,
		},
		Retry: RetryConfig{
			MaxAttempts:   d.MaxAttempts,
			BaseDelay:     d.BaseDelay,
			MaxDelay:      d.MaxDelay,
			BackoffFactor: d.BackoffFactor,
		},
	}
}

// Subscriber receives coalesced progress updates for any task the
// pipeline runs.
type Subscriber func(task domain.DownloadTask, progress domain.TransferProgress)

// Pipeline orchestrates one download: consult the resume store, issue the
// request through the hardened session, validate every redirect hop and
// every byte against the size budget while streaming, and wrap the whole
// attempt in bounded retries.
type Pipeline struct {
	session *Session
	resume  *ResumeStore
	cfg     PipelineConfig
	logger  *slog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewPipeline creates a download pipeline. The session is owned by the
// caller and shared across downloads.
func NewPipeline(session *Session, resume *ResumeStore, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		session: session,
		resume:  resume,
		cfg:     cfg,
		logger:  logger,
	}
}

// Subscribe registers a progress subscriber for all tasks.
func (p *Pipeline) Subscribe(fn Subscriber) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.mu.Unlock()
}

func (p *Pipeline) notify(task domain.DownloadTask, progress domain.TransferProgress) {
	p.mu.RLock()
	subs := p.subscribers
	p.mu.RUnlock()
	for _, fn := range subs {
		fn(task, progress)
	}
}

// Download runs the full pipeline for one task. On failure the returned
// result carries the most specific error with sanitized context, and any
// resume checkpoint written during the attempt stays on disk.
func (p *Pipeline) Download(ctx context.Context, task domain.DownloadTask) *domain.DownloadResult {
	result := &domain.DownloadResult{FinalPath: task.DestinationPath}

	if err := task.Validate(); err != nil {
		result.Err = err
		return result
	}

	maxBytes := task.MaxBytes
	if maxBytes <= 0 {
		maxBytes = p.cfg.MaxResponseSize
	}

	stats := &RetryStats{}
	total, err := Retry(ctx, p.cfg.Retry, stats, func() (int64, error) {
		return p.attempt(ctx, task, maxBytes)
	})
	result.Attempts = stats.Attempts

	if err != nil {
		result.Err = err
		if cp := p.resume.Load(task.DestinationPath); cp != nil {
			result.BytesWritten = cp.BytesOnDisk
		}
		p.logger.Warn("download failed",
			"url", domain.SanitizeURL(task.SourceURL),
			"destination", task.DestinationPath,
			"attempts", stats.Attempts,
			"error", err,
		)
		return result
	}

	result.Success = true
	result.BytesWritten = total
	p.logger.Info("download completed",
		"url", domain.SanitizeURL(task.SourceURL),
		"destination", task.DestinationPath,
		"bytes", total,
		"attempts", stats.Attempts,
	)
	return result
}

// attempt runs one full pipeline pass under the per-attempt total
// timeout. Timeout expiry is retryable; a caller cancellation is
// terminal but leaves the checkpoint for a future resume.
func (p *Pipeline) attempt(parent context.Context, task domain.DownloadTask, maxBytes int64) (int64, error) {
	ctx := parent
	cancel := context.CancelFunc(func() {})
	if p.cfg.TotalTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, p.cfg.TotalTimeout)
	}
	defer cancel()

	total, err := p.run(ctx, task, maxBytes)
	if err != nil {
		if parent.Err() != nil {
			return total, domain.NewCancelledError(parent.Err())
		}
		var de *domain.DownloadError
		if !errors.As(err, &de) && ctx.Err() != nil {
			return total, domain.NewTransportError(task.SourceURL,
				fmt.Errorf("attempt aborted: %w", ctx.Err()))
		}
	}
	return total, err
}

func (p *Pipeline) run(ctx context.Context, task domain.DownloadTask, maxBytes int64) (int64, error) {
	srcURL, _ := url.Parse(task.SourceURL) // already validated
	guard := NewRedirectGuard(srcURL, p.cfg.MaxRedirects, p.cfg.AllowedRedirectHosts)
	sizeGuard := NewSizeGuard(maxBytes, task.SourceURL)

	// Resume bookkeeping: the checkpoint is verified against the live
	// file, never assumed.
	var offset int64
	if cp := p.resume.Load(task.DestinationPath); cp != nil {
		offset = p.resume.ResumeOffset(cp)
		if offset == 0 {
			if err := p.resume.Delete(task.DestinationPath); err != nil {
				return 0, err
			}
		} else {
			p.logger.Info("resuming partial download",
				"url", domain.SanitizeURL(task.SourceURL),
				"destination", task.DestinationPath,
				"offset", offset,
			)
		}
	}

	headers := map[string]string{}
	if offset > 0 {
		headers["Range"] = fmt.Sprintf("bytes=%d-", offset)
	}

	resp, err := p.session.Execute(ctx, http.MethodGet, task.SourceURL, headers)
	if err != nil {
		return offset, err
	}

	currentURL := srcURL
	for isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		resp.Body.Close()

		if location == "" {
			return offset, domain.NewUnsafeRedirectError(currentURL.String(), domain.ErrMissingLocation)
		}

		next, aerr := guard.Approve(currentURL, location)
		if aerr != nil {
			return offset, aerr
		}

		resp, err = p.session.Execute(ctx, http.MethodGet, next.String(), headers)
		if err != nil {
			return offset, err
		}
		currentURL = next
	}
	finalURL := currentURL.String()

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			// Server ignored the Range request; restart fully.
			p.logger.Info("server ignored range request, restarting",
				"url", domain.SanitizeURL(finalURL))
			offset = 0
			if err := p.resume.Delete(task.DestinationPath); err != nil {
				resp.Body.Close()
				return 0, err
			}
		}
	case http.StatusPartialContent:
		if offset == 0 {
			resp.Body.Close()
			return 0, domain.NewHTTPStatusError(finalURL, resp.StatusCode)
		}
	default:
		resp.Body.Close()
		return offset, domain.NewHTTPStatusError(finalURL, resp.StatusCode)
	}
	defer resp.Body.Close()

	// Content-Length is advisory only; for a 206 it counts the remaining
	// bytes. The running check still bounds the actual stream.
	var declaredTotal int64
	if resp.ContentLength >= 0 {
		declaredTotal = offset + resp.ContentLength
		if err := sizeGuard.CheckDeclared(declaredTotal); err != nil {
			return offset, err
		}
	} else if task.DeclaredSize > 0 {
		declaredTotal = task.DeclaredSize
	}

	transfer := NewTransfer(p.cfg.Transfer, sizeGuard, p.logger)
	save := func(bytesOnDisk int64) error {
		return p.resume.Save(&Checkpoint{
			DestinationPath: task.DestinationPath,
			BytesOnDisk:     bytesOnDisk,
			DeclaredTotal:   declaredTotal,
			SourceURL:       task.SourceURL,
		})
	}
	onProgress := func(progress domain.TransferProgress) {
		p.notify(task, progress)
	}

	body := p.session.Body(finalURL, resp.Body)
	total, err := transfer.Run(ctx, body, finalURL, task.DestinationPath, offset, declaredTotal, save, onProgress)
	if err != nil {
		return total, err
	}

	// A successfully completed task leaves no checkpoint behind.
	if err := p.resume.Delete(task.DestinationPath); err != nil {
		return total, err
	}
	return total, nil
}

// ProbeResult contains pre-flight information about a source URL.
type ProbeResult struct {
	ContentType   string
	ContentLength int64
	Accessible    bool
	Error         string
}

// Probe checks URL accessibility with a HEAD request through the same
// hardened session, without downloading content.
func (p *Pipeline) Probe(ctx context.Context, rawURL string) (*ProbeResult, error) {
	resp, err := p.session.Execute(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return &ProbeResult{Accessible: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	result := &ProbeResult{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Accessible:    resp.StatusCode == http.StatusOK,
	}
	if !result.Accessible {
		result.Error = fmt.Sprintf("status code %d", resp.StatusCode)
	}
	return result, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
