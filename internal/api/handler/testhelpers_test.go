package handler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/iconidentify/fetchd/internal/config"
	"github.com/iconidentify/fetchd/internal/fetch"
	"github.com/iconidentify/fetchd/internal/repository"
	"github.com/iconidentify/fetchd/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandlers builds handlers backed by an in-memory queue and a real
// pipeline, the same wiring the server uses.
func newTestHandlers(t *testing.T) (*DownloadHandler, *HealthHandler, *service.DownloadService, repository.JobRepository) {
	t.Helper()

	transportCfg := config.TransportConfig{
		ConnectTimeout:     time.Second,
		ReadTimeout:        time.Second,
		TotalTimeout:       5 * time.Second,
		ConnectionPoolSize: 2,
		UserAgent:          "test-agent",
		MaxRedirects:       3,
	}
	downloadCfg := config.DownloadConfig{
		MaxResponseSize: 1 << 20,
		MemoryThreshold: 1024,
		ChunkSize:       512,
		MaxAttempts:     2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		BackoffFactor:   2.0,
	}

	session := fetch.NewSession(transportCfg)
	t.Cleanup(session.Close)
	pipeline := fetch.NewPipeline(session, fetch.NewResumeStore(testLogger()),
		fetch.NewPipelineConfig(transportCfg, downloadCfg), testLogger())

	repo := repository.NewInMemoryJobRepository()
	svc := service.NewDownloadService(repo, pipeline,
		config.StorageConfig{BasePath: t.TempDir()}, downloadCfg, testLogger())

	return NewDownloadHandler(svc, testLogger()), NewHealthHandler(repo), svc, repo
}
