package fetch

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/iconidentify/fetchd/internal/domain"
)

// checkpointSuffix names the sidecar file deterministically from the
// destination path. Its absence means "no resume state".
const checkpointSuffix = ".resume.json"

// Checkpoint records how much of a destination file is durably written,
// enabling resume across retries and process restarts.
type Checkpoint struct {
	DestinationPath string    `json:"destination_path"`
	BytesOnDisk     int64     `json:"bytes_on_disk"`
	DeclaredTotal   int64     `json:"declared_total"`
	SourceURL       string    `json:"source_url"`
	SavedAt         time.Time `json:"saved_at"`
}

// ResumeStore persists transfer checkpoints as sidecar files next to
// the destination. Checkpoint files are touched only by the task that
// owns the destination path.
type ResumeStore struct {
	logger *slog.Logger
}

// NewResumeStore creates a resume store.
func NewResumeStore(logger *slog.Logger) *ResumeStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeStore{logger: logger}
}

// Path returns the sidecar path for a destination.
func (s *ResumeStore) Path(destination string) string {
	return destination + checkpointSuffix
}

// Load reads the checkpoint for a destination. A missing or unreadable
// sidecar means no resume state.
func (s *ResumeStore) Load(destination string) *Checkpoint {
	data, err := os.ReadFile(s.Path(destination))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("unreadable resume checkpoint, ignoring",
				"path", s.Path(destination), "error", err)
		}
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("corrupt resume checkpoint, ignoring",
			"path", s.Path(destination), "error", err)
		return nil
	}
	return &cp
}

// Save writes the checkpoint. Save failures are terminal file errors:
// continuing without durable resume state would silently lose the
// recovery guarantee.
func (s *ResumeStore) Save(cp *Checkpoint) error {
	cp.SavedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return domain.NewFileError(s.Path(cp.DestinationPath), err)
	}
	if err := os.WriteFile(s.Path(cp.DestinationPath), data, 0o644); err != nil {
		return domain.NewFileError(s.Path(cp.DestinationPath), err)
	}
	return nil
}

// Delete removes the checkpoint for a destination. Absence is not an error.
func (s *ResumeStore) Delete(destination string) error {
	err := os.Remove(s.Path(destination))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewFileError(s.Path(destination), err)
	}
	return nil
}

// ResumeOffset decides where to restart a transfer. The checkpoint's
// recorded size is never trusted on its own; it is verified against the
// live file:
//
//	live == recorded  => resume at that offset
//	live  > recorded  => a different file; restart from zero
//	live  < recorded  => resume from the live size
//	no live file      => restart from zero
func (s *ResumeStore) ResumeOffset(cp *Checkpoint) int64 {
	fi, err := os.Stat(cp.DestinationPath)
	if err != nil {
		return 0
	}
	size := fi.Size()

	switch {
	case size == cp.BytesOnDisk:
		return size
	case size > cp.BytesOnDisk:
		return 0
	default:
		return size
	}
}
