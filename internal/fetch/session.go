package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/iconidentify/fetchd/internal/config"
	"github.com/iconidentify/fetchd/internal/domain"
)

// Session is the one hardened way to issue an HTTP request. It owns a
// pooled transport shared across downloads and never follows redirects
// itself; the pipeline re-issues each approved hop explicitly.
type Session struct {
	client    *http.Client
	transport *http.Transport
	cfg       config.TransportConfig
}

// NewSession creates a pooled, TLS-hardened session. Callers own its
// lifetime and pass it into the pipeline explicitly.
func NewSession(cfg config.TransportConfig) *Session {
	dialer := &net.Dialer{
		Timeout: cfg.ConnectTimeout,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			},
		},
		MaxIdleConns:          cfg.ConnectionPoolSize,
		MaxIdleConnsPerHost:   cfg.ConnectionPoolSize,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &Session{
		client: &http.Client{
			Transport: transport,
			// Redirects are validated hop by hop by the redirect guard;
			// the client must surface them untouched.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			// No overall client timeout: the pipeline applies the total
			// timeout per attempt via context, and reads are stall-guarded.
		},
		transport: transport,
		cfg:       cfg,
	}
}

// Execute issues a single request with the fixed safety header set plus
// any extra headers. Connection-level failures (refused, reset, DNS,
// handshake) surface as retryable transport errors.
func (s *Session) Execute(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, domain.NewTransportError(url, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.NewTransportError(url, err)
	}
	return resp, nil
}

// Body wraps a response body with stall detection: a body that produces
// no data for the configured read timeout fails the current attempt as a
// retryable transport error.
func (s *Session) Body(url string, rc io.ReadCloser) io.ReadCloser {
	return &stallReader{
		reader:      rc,
		url:         url,
		readTimeout: s.cfg.ReadTimeout,
		lastRead:    time.Now(),
	}
}

// Close releases pooled connections.
func (s *Session) Close() {
	s.transport.CloseIdleConnections()
}

// stallReader detects stalled downloads: no data for readTimeout fails
// the read.
type stallReader struct {
	reader      io.ReadCloser
	url         string
	readTimeout time.Duration
	lastRead    time.Time
}

func (r *stallReader) Read(buf []byte) (int, error) {
	n, err := r.reader.Read(buf)

	if n > 0 {
		r.lastRead = time.Now()
	}

	if err == nil && r.readTimeout > 0 && time.Since(r.lastRead) > r.readTimeout {
		return n, domain.NewTransportError(r.url,
			fmt.Errorf("download stalled: no data received for %v", r.readTimeout))
	}

	return n, err
}

func (r *stallReader) Close() error {
	return r.reader.Close()
}
