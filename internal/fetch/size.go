package fetch

import (
	"fmt"

	"github.com/iconidentify/fetchd/internal/domain"
)

// SizeGuard enforces the byte budget against both the advisory
// Content-Length header and the actually streamed size. Either check
// failing is terminal; retrying would not change the server's behavior.
type SizeGuard struct {
	maxBytes int64
	url      string
}

// NewSizeGuard creates a guard for one request. url is used for error
// context only and is sanitized by the error constructors.
func NewSizeGuard(maxBytes int64, url string) SizeGuard {
	return SizeGuard{maxBytes: maxBytes, url: url}
}

// CheckDeclared validates the advisory Content-Length. A negative value
// (unknown length) passes; the running check still bounds the stream.
func (g SizeGuard) CheckDeclared(contentLength int64) error {
	if contentLength > g.maxBytes {
		return domain.NewSizeLimitError(g.url,
			fmt.Errorf("declared size %d exceeds limit %d", contentLength, g.maxBytes))
	}
	return nil
}

// CheckRunning validates the running total after a chunk. It runs on
// every chunk regardless of what the header declared.
func (g SizeGuard) CheckRunning(totalSoFar int64, chunkLen int) error {
	if totalSoFar+int64(chunkLen) > g.maxBytes {
		return domain.NewSizeLimitError(g.url,
			fmt.Errorf("streamed size %d exceeds limit %d", totalSoFar+int64(chunkLen), g.maxBytes))
	}
	return nil
}

// Remaining returns how many bytes of budget are left after totalSoFar.
func (g SizeGuard) Remaining(totalSoFar int64) int64 {
	if totalSoFar >= g.maxBytes {
		return 0
	}
	return g.maxBytes - totalSoFar
}
