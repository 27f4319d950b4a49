package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iconidentify/fetchd/internal/domain"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetry_RetryableExhaustsAttempts(t *testing.T) {
	calls := 0
	stats := &RetryStats{}
	wantErr := domain.NewTransportError("https://example.com/a", errors.New("connection reset"))

	_, err := Retry(context.Background(), testRetryConfig(), stats, func() (int64, error) {
		calls++
		return 0, wantErr
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if stats.Attempts != 3 {
		t.Errorf("stats.Attempts = %d, want 3", stats.Attempts)
	}
	if stats.Failures != 3 {
		t.Errorf("stats.Failures = %d, want 3", stats.Failures)
	}
	var de *domain.DownloadError
	if !errors.As(err, &de) || de.Kind != domain.KindTransport {
		t.Errorf("final error = %v, want the original transport error", err)
	}
}

func TestRetry_TerminalStopsImmediately(t *testing.T) {
	calls := 0
	stats := &RetryStats{}

	_, err := Retry(context.Background(), testRetryConfig(), stats, func() (string, error) {
		calls++
		return "", domain.NewHTTPStatusError("https://example.com/a", 404)
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a terminal error", calls)
	}
	var de *domain.DownloadError
	if !errors.As(err, &de) || de.Status != 404 {
		t.Errorf("error = %v, want the 404 status error", err)
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	stats := &RetryStats{}

	result, err := Retry(context.Background(), testRetryConfig(), stats, func() (string, error) {
		calls++
		if calls < 3 {
			return "", domain.NewHTTPStatusError("https://example.com/a", 503)
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %q, want %q", result, "done")
	}
	if stats.Attempts != 3 {
		t.Errorf("stats.Attempts = %d, want 3", stats.Attempts)
	}
	if stats.Failures != 2 {
		t.Errorf("stats.Failures = %d, want 2", stats.Failures)
	}
}

func TestRetry_SingleAttempt(t *testing.T) {
	cfg := testRetryConfig()
	cfg.MaxAttempts = 1
	calls := 0
	stats := &RetryStats{}

	_, err := Retry(context.Background(), cfg, stats, func() (int, error) {
		calls++
		return 0, domain.NewTransportError("https://example.com/a", errors.New("reset"))
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err == nil {
		t.Error("expected the failure to propagate")
	}
}

func TestRetry_ContextCancelledDuringDelay(t *testing.T) {
	cfg := testRetryConfig()
	cfg.BaseDelay = 5 * time.Second
	cfg.MaxDelay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	stats := &RetryStats{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, cfg, stats, func() (int, error) {
		return 0, domain.NewTransportError("https://example.com/a", errors.New("reset"))
	})

	var de *domain.DownloadError
	if !errors.As(err, &de) || de.Kind != domain.KindCancelled {
		t.Errorf("error = %v, want cancelled", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:     time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},  // capped
		{20, 60 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	// Non-decreasing across attempts.
	prev := time.Duration(0)
	for attempt := 0; attempt < 30; attempt++ {
		d := backoffDelay(cfg, attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}
