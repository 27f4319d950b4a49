package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Transport TransportConfig `yaml:"transport"`
	Download  DownloadConfig  `yaml:"download"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9848"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"5m"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	BasePath string `yaml:"base_path" envconfig:"STORAGE_PATH" default:"/data/downloads"`
	DBPath   string `yaml:"db_path" envconfig:"STORAGE_DB_PATH" default:"/data/fetchd.db"`
}

// TransportConfig holds the hardened HTTP session configuration.
type TransportConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout" envconfig:"TRANSPORT_CONNECT_TIMEOUT" default:"10s"`
	ReadTimeout          time.Duration `yaml:"read_timeout" envconfig:"TRANSPORT_READ_TIMEOUT" default:"30s"`
	TotalTimeout         time.Duration `yaml:"total_timeout" envconfig:"TRANSPORT_TOTAL_TIMEOUT" default:"30m"`
	ConnectionPoolSize   int           `yaml:"connection_pool_size" envconfig:"TRANSPORT_POOL_SIZE" default:"10"`
	UserAgent            string        `yaml:"user_agent" envconfig:"TRANSPORT_USER_AGENT" default:"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	MaxRedirects         int           `yaml:"max_redirects" envconfig:"TRANSPORT_MAX_REDIRECTS" default:"3"`
	AllowedRedirectHosts []string      `yaml:"allowed_redirect_hosts" envconfig:"TRANSPORT_ALLOWED_REDIRECT_HOSTS"`
}

// DownloadConfig holds transfer, size-budget, and retry configuration.
type DownloadConfig struct {
	MaxResponseSize    int64         `yaml:"max_response_size" envconfig:"DOWNLOAD_MAX_RESPONSE_SIZE" default:"524288000"` // 500MB
	MemoryThreshold    int64         `yaml:"memory_threshold" envconfig:"DOWNLOAD_MEMORY_THRESHOLD" default:"10485760"`    // 10MB
	ChunkSize          int           `yaml:"chunk_size" envconfig:"DOWNLOAD_CHUNK_SIZE" default:"8192"`
	SpeedLimit         int64         `yaml:"speed_limit" envconfig:"DOWNLOAD_SPEED_LIMIT" default:"0"` // bytes/sec, 0 = unlimited
	MaxAttempts        int           `yaml:"max_attempts" envconfig:"DOWNLOAD_MAX_ATTEMPTS" default:"3"`
	BaseDelay          time.Duration `yaml:"base_delay" envconfig:"DOWNLOAD_BASE_DELAY" default:"1s"`
	MaxDelay           time.Duration `yaml:"max_delay" envconfig:"DOWNLOAD_MAX_DELAY" default:"60s"`
	BackoffFactor      float64       `yaml:"backoff_factor" envconfig:"DOWNLOAD_BACKOFF_FACTOR" default:"2.0"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" envconfig:"DOWNLOAD_CHECKPOINT_INTERVAL" default:"1s"`
}

// WorkerConfig holds worker pool configuration. Count is the hard cap on
// concurrently in-flight downloads; excess jobs queue FIFO.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT" default:"3"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and sane.
func (c *Config) Validate() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Storage.BasePath == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.Transport.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects cannot be negative")
	}
	if c.Download.MaxResponseSize <= 0 {
		return fmt.Errorf("max_response_size must be positive")
	}
	if c.Download.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.Download.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.Download.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be at least 1")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
