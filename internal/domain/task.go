package domain

import (
	"net/url"
	"path/filepath"
	"time"
)

// DownloadTask describes one download. It is created per call, owned by
// the pipeline for that call's lifetime, and never mutated.
type DownloadTask struct {
	// SourceURL is the pre-validated media URL supplied by the resolver.
	SourceURL string

	// DestinationPath is the pre-validated absolute target path.
	DestinationPath string

	// DeclaredSize is the size hint from the resolver. Untrusted; 0 means
	// unknown.
	DeclaredSize int64

	// MaxBytes is the trusted byte budget from configuration.
	MaxBytes int64

	// MediaTypeHint is the resolver's content-type hint, informational only.
	MediaTypeHint string
}

// Validate checks the task invariants the pipeline relies on. Path safety
// beyond absoluteness is the path-safety collaborator's responsibility.
func (t *DownloadTask) Validate() error {
	u, err := url.Parse(t.SourceURL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidSourceURL
	}
	if !filepath.IsAbs(t.DestinationPath) {
		return ErrInvalidDestination
	}
	return nil
}

// TransferProgress is a point-in-time snapshot of one transfer. It is
// produced only by the streaming transfer and never shared across tasks.
type TransferProgress struct {
	BytesTransferred int64
	DeclaredTotal    int64
	Rate             float64 // bytes/sec, instantaneous
	Timestamp        time.Time
}

// Percent returns completion as 0-100, or 0 when the total is unknown.
func (p TransferProgress) Percent() float64 {
	if p.DeclaredTotal <= 0 {
		return 0
	}
	return float64(p.BytesTransferred) / float64(p.DeclaredTotal) * 100
}

// DownloadResult is the outcome of one Download call.
type DownloadResult struct {
	Success      bool
	BytesWritten int64
	FinalPath    string
	Attempts     int
	Err          error
}
