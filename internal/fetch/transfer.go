package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/iconidentify/fetchd/internal/domain"
)

// progressInterval coalesces progress callbacks so subscribers see at
// most one update per ~100ms.
const progressInterval = 100 * time.Millisecond

// ProgressFunc receives coalesced transfer progress snapshots.
type ProgressFunc func(domain.TransferProgress)

// CheckpointFunc persists the durably-written byte count.
type CheckpointFunc func(bytesOnDisk int64) error

// TransferConfig holds streaming transfer configuration.
type TransferConfig struct {
	MemoryThreshold    int64
	ChunkSize          int
	SpeedLimit         int64 // bytes/sec, 0 = unlimited
	CheckpointInterval time.Duration
}

// Transfer writes a validated response body to disk. Small (or
// unknown-size) bodies are read once and written in a single operation;
// everything else streams in fixed-size chunks with the size guard run
// after every chunk.
type Transfer struct {
	cfg     TransferConfig
	guard   SizeGuard
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewTransfer creates a transfer for one attempt. The throttle, when
// configured, delays only this transfer.
func NewTransfer(cfg TransferConfig, guard SizeGuard, logger *slog.Logger) *Transfer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8192
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.SpeedLimit > 0 {
		// Burst must cover a full chunk: WaitN rejects any n over the
		// burst outright, regardless of how long it would wait.
		limiter = rate.NewLimiter(rate.Limit(cfg.SpeedLimit), cfg.ChunkSize)
	}

	return &Transfer{
		cfg:     cfg,
		guard:   guard,
		limiter: limiter,
		logger:  logger,
	}
}

// Run streams body into destination starting at offset and returns the
// total bytes on disk. declaredTotal is advisory and only feeds progress
// reporting; the size guard bounds the actual stream. save is invoked
// after the first write and then periodically, so a checkpoint survives
// any failure that happens after data hit the disk.
func (t *Transfer) Run(
	ctx context.Context,
	body io.Reader,
	sourceURL string,
	destination string,
	offset int64,
	declaredTotal int64,
	save CheckpointFunc,
	onProgress ProgressFunc,
) (int64, error) {
	if offset == 0 && declaredTotal <= t.cfg.MemoryThreshold {
		return t.buffered(body, sourceURL, destination, declaredTotal, save, onProgress)
	}
	return t.chunked(ctx, body, sourceURL, destination, offset, declaredTotal, save, onProgress)
}

// buffered reads the whole body once and writes it in a single operation.
// Used when the declared size fits the memory threshold or is unknown.
func (t *Transfer) buffered(
	body io.Reader,
	sourceURL string,
	destination string,
	declaredTotal int64,
	save CheckpointFunc,
	onProgress ProgressFunc,
) (int64, error) {
	start := time.Now()

	// One extra byte so an over-budget body is detected, not truncated.
	budget := t.guard.Remaining(0)
	data, err := io.ReadAll(io.LimitReader(body, budget+1))
	if err != nil {
		return 0, wrapReadError(sourceURL, err)
	}
	if err := t.guard.CheckRunning(0, len(data)); err != nil {
		return 0, err
	}

	if err := os.WriteFile(destination, data, 0o644); err != nil {
		return 0, domain.NewFileError(destination, err)
	}
	total := int64(len(data))

	if save != nil {
		if err := save(total); err != nil {
			return total, err
		}
	}

	if onProgress != nil {
		onProgress(t.snapshot(total, declaredTotal, total, start))
	}
	return total, nil
}

// chunked streams the body in fixed-size chunks, appending each chunk
// immediately so additional peak memory stays within a small multiple of
// the chunk size.
func (t *Transfer) chunked(
	ctx context.Context,
	body io.Reader,
	sourceURL string,
	destination string,
	offset int64,
	declaredTotal int64,
	save CheckpointFunc,
	onProgress ProgressFunc,
) (int64, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(destination, flags, 0o644)
	if err != nil {
		return offset, domain.NewFileError(destination, err)
	}
	defer file.Close()

	total := offset
	buf := make([]byte, t.cfg.ChunkSize)

	checkpointed := false
	lastCheckpoint := time.Now()
	lastProgress := time.Time{}
	windowStart := time.Now()
	windowBytes := total

	for {
		n, readErr := body.Read(buf)

		if n > 0 {
			if err := t.guard.CheckRunning(total, n); err != nil {
				return total, err
			}

			// Throttle delays only this transfer.
			if t.limiter != nil {
				if werr := t.limiter.WaitN(ctx, n); werr != nil {
					if ctx.Err() != nil {
						return total, ctx.Err()
					}
					return total, domain.NewTransportError(sourceURL, werr)
				}
			}

			if _, werr := file.Write(buf[:n]); werr != nil {
				return total, domain.NewFileError(destination, werr)
			}
			total += int64(n)

			if save != nil && (!checkpointed || time.Since(lastCheckpoint) >= t.cfg.CheckpointInterval) {
				if err := save(total); err != nil {
					return total, err
				}
				checkpointed = true
				lastCheckpoint = time.Now()
			}

			if onProgress != nil && time.Since(lastProgress) >= progressInterval {
				onProgress(t.snapshot(total, declaredTotal, total-windowBytes, windowStart))
				lastProgress = time.Now()
				windowStart = lastProgress
				windowBytes = total
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, wrapReadError(sourceURL, readErr)
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}

	if cerr := file.Close(); cerr != nil {
		return total, domain.NewFileError(destination, cerr)
	}

	if onProgress != nil {
		onProgress(t.snapshot(total, declaredTotal, total-windowBytes, windowStart))
	}
	return total, nil
}

func (t *Transfer) snapshot(total, declaredTotal, windowBytes int64, windowStart time.Time) domain.TransferProgress {
	elapsed := time.Since(windowStart).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(windowBytes) / elapsed
	}
	return domain.TransferProgress{
		BytesTransferred: total,
		DeclaredTotal:    declaredTotal,
		Rate:             speed,
		Timestamp:        time.Now(),
	}
}

// wrapReadError forwards transport read failures as retryable unless the
// stall reader already classified them.
func wrapReadError(sourceURL string, err error) error {
	var de *domain.DownloadError
	if errors.As(err, &de) {
		return err
	}
	return domain.NewTransportError(sourceURL, err)
}
