package domain

import (
	"errors"
	"testing"
)

func TestDownloadTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    DownloadTask
		wantErr error
	}{
		{
			name:    "valid https",
			task:    DownloadTask{SourceURL: "https://example.com/a.m4a", DestinationPath: "/data/a.m4a"},
			wantErr: nil,
		},
		{
			name:    "valid http",
			task:    DownloadTask{SourceURL: "http://example.com/a.m4a", DestinationPath: "/data/a.m4a"},
			wantErr: nil,
		},
		{
			name:    "ftp scheme",
			task:    DownloadTask{SourceURL: "ftp://example.com/a", DestinationPath: "/data/a"},
			wantErr: ErrInvalidSourceURL,
		},
		{
			name:    "no host",
			task:    DownloadTask{SourceURL: "https:///path", DestinationPath: "/data/a"},
			wantErr: ErrInvalidSourceURL,
		},
		{
			name:    "empty URL",
			task:    DownloadTask{SourceURL: "", DestinationPath: "/data/a"},
			wantErr: ErrInvalidSourceURL,
		},
		{
			name:    "relative destination",
			task:    DownloadTask{SourceURL: "https://example.com/a", DestinationPath: "downloads/a"},
			wantErr: ErrInvalidDestination,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransferProgress_Percent(t *testing.T) {
	tests := []struct {
		name     string
		progress TransferProgress
		want     float64
	}{
		{"half done", TransferProgress{BytesTransferred: 50, DeclaredTotal: 100}, 50},
		{"complete", TransferProgress{BytesTransferred: 100, DeclaredTotal: 100}, 100},
		{"unknown total", TransferProgress{BytesTransferred: 50, DeclaredTotal: 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.progress.Percent(); got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_Transitions(t *testing.T) {
	job := NewJob("job-1", "https://example.com/a.m4a", "/data/a.m4a", "audio/mp4", 1024)

	if job.Status != JobStatusQueued {
		t.Errorf("new job status = %q, want %q", job.Status, JobStatusQueued)
	}
	if !job.IsActive() {
		t.Error("queued job should be active")
	}

	job.MarkProcessing()
	if job.Status != JobStatusProcessing {
		t.Errorf("status = %q, want %q", job.Status, JobStatusProcessing)
	}
	if !job.IsActive() {
		t.Error("processing job should be active")
	}

	job.MarkCompleted(1024, 2)
	if job.Status != JobStatusCompleted {
		t.Errorf("status = %q, want %q", job.Status, JobStatusCompleted)
	}
	if job.BytesWritten != 1024 {
		t.Errorf("BytesWritten = %d, want 1024", job.BytesWritten)
	}
	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", job.Attempts)
	}
	if job.IsActive() {
		t.Error("completed job should not be active")
	}

	job.MarkFailed("size limit exceeded", 512, 1)
	if job.Status != JobStatusFailed {
		t.Errorf("status = %q, want %q", job.Status, JobStatusFailed)
	}
	if job.LastError != "size limit exceeded" {
		t.Errorf("LastError = %q", job.LastError)
	}

	job.MarkRetrying()
	if job.Status != JobStatusRetrying {
		t.Errorf("status = %q, want %q", job.Status, JobStatusRetrying)
	}
	if !job.IsActive() {
		t.Error("retrying job should be active")
	}
}

func TestJob_Task(t *testing.T) {
	job := NewJob("job-1", "https://example.com/a.m4a", "/data/a.m4a", "audio/mp4", 2048)
	task := job.Task(500)

	if task.SourceURL != job.SourceURL {
		t.Errorf("SourceURL = %q, want %q", task.SourceURL, job.SourceURL)
	}
	if task.MaxBytes != 500 {
		t.Errorf("MaxBytes = %d, want 500", task.MaxBytes)
	}
	if task.DeclaredSize != 2048 {
		t.Errorf("DeclaredSize = %d, want 2048", task.DeclaredSize)
	}
}
