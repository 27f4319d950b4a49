package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_KEY", "test-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9848 {
		t.Errorf("Port = %d, want 9848", cfg.Server.Port)
	}
	if cfg.Transport.MaxRedirects != 3 {
		t.Errorf("MaxRedirects = %d, want 3", cfg.Transport.MaxRedirects)
	}
	if cfg.Transport.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.Transport.ConnectTimeout)
	}
	if cfg.Download.MaxResponseSize != 524288000 {
		t.Errorf("MaxResponseSize = %d, want 500MB", cfg.Download.MaxResponseSize)
	}
	if cfg.Download.MemoryThreshold != 10485760 {
		t.Errorf("MemoryThreshold = %d, want 10MB", cfg.Download.MemoryThreshold)
	}
	if cfg.Download.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Download.MaxAttempts)
	}
	if cfg.Worker.Count != 3 {
		t.Errorf("Worker.Count = %d, want 3", cfg.Worker.Count)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Load should fail without an API key")
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv("API_KEY", "test-key")

	yaml := `
server:
  port: 8080
transport:
  max_redirects: 5
  allowed_redirect_hosts:
    - cdn.example.net
download:
  max_response_size: 1048576
  speed_limit: 65536
worker:
  count: 5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Transport.MaxRedirects != 5 {
		t.Errorf("MaxRedirects = %d, want 5", cfg.Transport.MaxRedirects)
	}
	if len(cfg.Transport.AllowedRedirectHosts) != 1 || cfg.Transport.AllowedRedirectHosts[0] != "cdn.example.net" {
		t.Errorf("AllowedRedirectHosts = %v", cfg.Transport.AllowedRedirectHosts)
	}
	if cfg.Download.MaxResponseSize != 1048576 {
		t.Errorf("MaxResponseSize = %d, want 1MB", cfg.Download.MaxResponseSize)
	}
	if cfg.Download.SpeedLimit != 65536 {
		t.Errorf("SpeedLimit = %d, want 64KB/s", cfg.Download.SpeedLimit)
	}
	if cfg.Worker.Count != 5 {
		t.Errorf("Worker.Count = %d, want 5", cfg.Worker.Count)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("SERVER_PORT", "7001")

	yaml := "server:\n  port: 8080\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("Port = %d, environment should override the file", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{APIKey: "k"},
			Storage: StorageConfig{BasePath: "/data"},
			Download: DownloadConfig{
				MaxResponseSize: 1024,
				ChunkSize:       512,
				MaxAttempts:     3,
				BackoffFactor:   2.0,
			},
			Worker: WorkerConfig{Count: 1},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing api key", func(c *Config) { c.Server.APIKey = "" }},
		{"missing base path", func(c *Config) { c.Storage.BasePath = "" }},
		{"negative redirects", func(c *Config) { c.Transport.MaxRedirects = -1 }},
		{"zero response size", func(c *Config) { c.Download.MaxResponseSize = 0 }},
		{"zero chunk size", func(c *Config) { c.Download.ChunkSize = 0 }},
		{"zero attempts", func(c *Config) { c.Download.MaxAttempts = 0 }},
		{"backoff under one", func(c *Config) { c.Download.BackoffFactor = 0.5 }},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9848}
	if got := cfg.Address(); got != "127.0.0.1:9848" {
		t.Errorf("Address() = %q", got)
	}
}
