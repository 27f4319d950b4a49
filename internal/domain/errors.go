package domain

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrJobNotFound indicates the requested download job does not exist.
	ErrJobNotFound = errors.New("download job not found")

	// ErrNoJobs indicates no jobs are available in the queue.
	ErrNoJobs = errors.New("no jobs available")

	// ErrDuplicateJob indicates an active job already targets this destination.
	ErrDuplicateJob = errors.New("active job already targets this destination")

	// ErrInvalidSourceURL indicates the source URL is not an absolute http(s) URL.
	ErrInvalidSourceURL = errors.New("invalid source URL")

	// ErrInvalidDestination indicates the destination path is not absolute.
	ErrInvalidDestination = errors.New("destination path must be absolute")

	// ErrMissingLocation indicates a redirect response without a Location header.
	ErrMissingLocation = errors.New("redirect response missing Location header")

	// ErrRedirectLimit indicates the redirect hop budget was exhausted.
	ErrRedirectLimit = errors.New("redirect limit exceeded")
)

// ErrorKind classifies a download failure. The retry executor decides
// retryability from the kind (and HTTP status) alone, never from the
// identity of the wrapped error.
type ErrorKind string

const (
	KindTransport      ErrorKind = "transport"
	KindHTTPStatus     ErrorKind = "http_status"
	KindUnsafeRedirect ErrorKind = "unsafe_redirect"
	KindSizeLimit      ErrorKind = "size_limit"
	KindFile           ErrorKind = "file"
	KindCancelled      ErrorKind = "cancelled"
)

// DownloadError is the normalized failure description produced by the
// download pipeline. URL is always query-stripped before it is stored here.
type DownloadError struct {
	Kind   ErrorKind
	URL    string
	Path   string
	Status int // HTTP status, set when Kind is KindHTTPStatus
	Err    error
}

func (e *DownloadError) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Kind, e.Err)
	} else if e.Status != 0 {
		msg = fmt.Sprintf("%s: unexpected status %d", e.Kind, e.Status)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s (url=%s)", msg, e.URL)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	return msg
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps a connection-level failure (refused, reset, DNS,
// handshake, stalled read). Always retryable.
func NewTransportError(rawURL string, err error) *DownloadError {
	return &DownloadError{Kind: KindTransport, URL: SanitizeURL(rawURL), Err: err}
}

// NewHTTPStatusError records a non-success HTTP status.
func NewHTTPStatusError(rawURL string, status int) *DownloadError {
	return &DownloadError{Kind: KindHTTPStatus, URL: SanitizeURL(rawURL), Status: status}
}

// NewUnsafeRedirectError records a rejected redirect hop. Terminal.
func NewUnsafeRedirectError(rawURL string, err error) *DownloadError {
	return &DownloadError{Kind: KindUnsafeRedirect, URL: SanitizeURL(rawURL), Err: err}
}

// NewSizeLimitError records a declared or streamed size exceeding the
// byte budget. Terminal.
func NewSizeLimitError(rawURL string, err error) *DownloadError {
	return &DownloadError{Kind: KindSizeLimit, URL: SanitizeURL(rawURL), Err: err}
}

// NewFileError records a destination file operation failure. Terminal.
func NewFileError(path string, err error) *DownloadError {
	return &DownloadError{Kind: KindFile, Path: path, Err: err}
}

// NewCancelledError records a caller-initiated cancellation or deadline.
// Terminal for the caller; the resume checkpoint stays on disk.
func NewCancelledError(err error) *DownloadError {
	return &DownloadError{Kind: KindCancelled, Err: err}
}

// Retryable reports whether err warrants another pipeline attempt.
// Transport failures and HTTP 429/502/503/504 are retryable; everything
// else, including errors this package did not produce, is terminal.
func Retryable(err error) bool {
	var de *DownloadError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Kind {
	case KindTransport:
		return true
	case KindHTTPStatus:
		switch de.Status {
		case 429, 502, 503, 504:
			return true
		}
		return false
	default:
		return false
	}
}

// SanitizeURL strips the query and fragment from a URL so logs and error
// messages never leak signed URL parameters.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[url]"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
