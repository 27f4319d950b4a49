package fetch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iconidentify/fetchd/internal/domain"
)

func testTransferConfig() TransferConfig {
	return TransferConfig{
		MemoryThreshold:    1024,
		ChunkSize:          512,
		CheckpointInterval: time.Millisecond,
	}
}

func TestTransfer_BufferedSmallBody(t *testing.T) {
	content := []byte("small body under the memory threshold")
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(10_000, "https://example.com/a")

	var progress []domain.TransferProgress
	tr := NewTransfer(testTransferConfig(), guard, nil)
	total, err := tr.Run(context.Background(), bytes.NewReader(content), "https://example.com/a", dest,
		0, int64(len(content)), nil, func(p domain.TransferProgress) {
			progress = append(progress, p)
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total != int64(len(content)) {
		t.Errorf("total = %d, want %d", total, len(content))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("written content does not match body")
	}
	if len(progress) == 0 {
		t.Error("expected at least one progress snapshot")
	}
	if last := progress[len(progress)-1]; last.BytesTransferred != total {
		t.Errorf("final progress = %d, want %d", last.BytesTransferred, total)
	}
}

func TestTransfer_ChunkedLargeBody(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 8192) // 64KB, over the 1KB threshold
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(1<<20, "https://example.com/a")

	saves := 0
	tr := NewTransfer(testTransferConfig(), guard, nil)
	total, err := tr.Run(context.Background(), bytes.NewReader(content), "https://example.com/a", dest,
		0, int64(len(content)), func(bytesOnDisk int64) error {
			saves++
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total != int64(len(content)) {
		t.Errorf("total = %d, want %d", total, len(content))
	}
	if saves == 0 {
		t.Error("expected checkpoint saves during the transfer")
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("written content does not match body")
	}
}

func TestTransfer_ThrottledDeliversFully(t *testing.T) {
	content := bytes.Repeat([]byte("abcd"), 1024) // 4KB, over the 1KB threshold
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(1<<20, "https://example.com/a")

	cfg := testTransferConfig()
	cfg.SpeedLimit = 1 << 20 // high enough that the test stays fast

	tr := NewTransfer(cfg, guard, nil)
	total, err := tr.Run(context.Background(), bytes.NewReader(content), "https://example.com/a", dest,
		0, int64(len(content)), nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total != int64(len(content)) {
		t.Errorf("total = %d, want %d", total, len(content))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("written content does not match body")
	}
}

func TestTransfer_SpeedLimitBelowChunkSize(t *testing.T) {
	// A limit below the chunk size must still deliver the whole body: the
	// limiter's burst covers a full chunk, so a single read is never
	// rejected outright.
	content := make([]byte, 600)
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(1<<20, "https://example.com/a")

	cfg := testTransferConfig()
	cfg.ChunkSize = 8192
	cfg.SpeedLimit = 100
	cfg.MemoryThreshold = 0 // force the chunked path

	tr := NewTransfer(cfg, guard, nil)
	total, err := tr.Run(context.Background(), bytes.NewReader(content), "https://example.com/a", dest,
		0, int64(len(content)), nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total != int64(len(content)) {
		t.Fatalf("total = %d, want %d", total, len(content))
	}

	fi, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != int64(len(content)) {
		t.Errorf("bytes on disk = %d, want %d", fi.Size(), len(content))
	}
}

func TestTransfer_StreamedOverBudgetAborts(t *testing.T) {
	// Body claims a size over the threshold (forcing the chunked path) but
	// streams past the byte budget.
	content := make([]byte, 5000)
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(2000, "https://example.com/a")

	tr := NewTransfer(testTransferConfig(), guard, nil)
	_, err := tr.Run(context.Background(), bytes.NewReader(content), "https://example.com/a", dest,
		0, 5000, nil, nil)
	if err == nil {
		t.Fatal("expected size limit error")
	}
	var de *domain.DownloadError
	if !errors.As(err, &de) || de.Kind != domain.KindSizeLimit {
		t.Errorf("error kind = %v, want size_limit", err)
	}

	// The overrun is bounded: at most the budget is on disk, never the
	// chunk that would have exceeded it.
	fi, statErr := os.Stat(dest)
	if statErr == nil && fi.Size() > 2000 {
		t.Errorf("bytes on disk = %d, exceeds the 2000 byte budget", fi.Size())
	}
}

func TestTransfer_BufferedOverBudgetAborts(t *testing.T) {
	// Unknown declared size takes the buffered path; the budget still holds.
	content := make([]byte, 5000)
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(2000, "https://example.com/a")

	tr := NewTransfer(testTransferConfig(), guard, nil)
	_, err := tr.Run(context.Background(), bytes.NewReader(content), "https://example.com/a", dest,
		0, 0, nil, nil)
	if err == nil {
		t.Fatal("expected size limit error")
	}
	var de *domain.DownloadError
	if !errors.As(err, &de) || de.Kind != domain.KindSizeLimit {
		t.Errorf("error kind = %v, want size_limit", err)
	}
	if _, statErr := os.Stat(dest); statErr == nil {
		t.Error("nothing should be written when the buffered body is over budget")
	}
}

func TestTransfer_ResumeAppends(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard := NewSizeGuard(10_000, "https://example.com/a")

	tr := NewTransfer(testTransferConfig(), guard, nil)
	total, err := tr.Run(context.Background(), bytes.NewReader([]byte(" world")), "https://example.com/a", dest,
		5, 11, nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total != 11 {
		t.Errorf("total = %d, want 11", total)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("content = %q, want %q", got, "hello world")
	}
}

func TestTransfer_ContextCancelled(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(1<<20, "https://example.com/a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := make([]byte, 64*1024)
	tr := NewTransfer(testTransferConfig(), guard, nil)
	_, err := tr.Run(ctx, bytes.NewReader(content), "https://example.com/a", dest,
		0, int64(len(content)), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestTransfer_CheckpointSurvivesMidStreamFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	guard := NewSizeGuard(1<<20, "https://example.com/a")

	var lastSaved int64
	body := &failingReader{data: bytes.Repeat([]byte("x"), 4096), failAfter: 2048}

	tr := NewTransfer(testTransferConfig(), guard, nil)
	total, err := tr.Run(context.Background(), body, "https://example.com/a", dest,
		0, 1<<20, func(bytesOnDisk int64) error {
			lastSaved = bytesOnDisk
			return nil
		}, nil)
	if err == nil {
		t.Fatal("expected mid-stream failure")
	}
	if !domain.Retryable(err) {
		t.Errorf("mid-stream read failure should be retryable: %v", err)
	}
	if lastSaved == 0 {
		t.Error("a checkpoint should have been saved before the failure")
	}
	if lastSaved > total {
		t.Errorf("checkpoint %d claims more than the %d bytes written", lastSaved, total)
	}
}

// failingReader serves data then fails with a connection-style error.
type failingReader struct {
	data      []byte
	failAfter int
	served    int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.served >= r.failAfter {
		return 0, errors.New("connection reset by peer")
	}
	n := copy(p, r.data[r.served:])
	if r.served+n > r.failAfter {
		n = r.failAfter - r.served
	}
	r.served += n
	return n, nil
}
