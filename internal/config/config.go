package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Frazo server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Blob     BlobConfig
	GhostCut GhostCutConfig
	SyncSo   SyncSoConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// BlobConfig configures the S3-compatible object store used for durable
// artifacts (uploaded inputs, relocated vendor results).
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the externally fetchable prefix for stored objects.
	// Vendors must be able to download from it.
	PublicBaseURL string
}

// GhostCutConfig configures the Zhaoli/GhostCut text-removal vendor.
type GhostCutConfig struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Timeout   time.Duration
}

// SyncSoConfig configures the Sync.so lip-sync vendor.
type SyncSoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// WorkerConfig tunes the orchestration workers and the reconciler.
type WorkerConfig struct {
	Count             int
	QueueSize         int
	PollInterval      time.Duration
	PollMaxInterval   time.Duration
	SubmitRetries     int
	JobTimeout        time.Duration
	ReconcileInterval time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("FRAZO_PORT", 8080),
			Env:  envString("FRAZO_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Blob: BlobConfig{
			Endpoint:      os.Getenv("BLOB_ENDPOINT"),
			AccessKey:     os.Getenv("BLOB_ACCESS_KEY"),
			SecretKey:     os.Getenv("BLOB_SECRET_KEY"),
			Bucket:        envString("BLOB_BUCKET", "frazo-artifacts"),
			UseSSL:        envBool("BLOB_USE_SSL", true),
			PublicBaseURL: os.Getenv("BLOB_PUBLIC_BASE_URL"),
		},
		GhostCut: GhostCutConfig{
			BaseURL:   envString("GHOSTCUT_BASE_URL", "https://api.zhaoli.com"),
			AppKey:    os.Getenv("GHOSTCUT_APP_KEY"),
			AppSecret: os.Getenv("GHOSTCUT_APP_SECRET"),
			Timeout:   envDuration("GHOSTCUT_TIMEOUT", 30*time.Second),
		},
		SyncSo: SyncSoConfig{
			BaseURL: envString("SYNCSO_BASE_URL", "https://api.sync.so"),
			APIKey:  os.Getenv("SYNCSO_API_KEY"),
			Timeout: envDuration("SYNCSO_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Count:             envInt("WORKER_COUNT", 4),
			QueueSize:         envInt("WORKER_QUEUE_SIZE", 100),
			PollInterval:      envDuration("WORKER_POLL_INTERVAL", 3*time.Second),
			PollMaxInterval:   envDuration("WORKER_POLL_MAX_INTERVAL", time.Minute),
			SubmitRetries:     envInt("WORKER_SUBMIT_RETRIES", 3),
			JobTimeout:        envDuration("WORKER_JOB_TIMEOUT", 2*time.Hour),
			ReconcileInterval: envDuration("WORKER_RECONCILE_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Blob.Endpoint == "" {
		return fmt.Errorf("BLOB_ENDPOINT is required")
	}
	if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
		return fmt.Errorf("BLOB_ACCESS_KEY and BLOB_SECRET_KEY are required")
	}
	if c.Blob.PublicBaseURL == "" {
		return fmt.Errorf("BLOB_PUBLIC_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Blob.PublicBaseURL, "http://") && !strings.HasPrefix(c.Blob.PublicBaseURL, "https://") {
		return fmt.Errorf("BLOB_PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Blob.PublicBaseURL)
	}

	if c.GhostCut.AppKey == "" || c.GhostCut.AppSecret == "" {
		return fmt.Errorf("GHOSTCUT_APP_KEY and GHOSTCUT_APP_SECRET are required")
	}
	if c.SyncSo.APIKey == "" {
		return fmt.Errorf("SYNCSO_API_KEY is required")
	}

	if c.Worker.Count <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.PollInterval <= 0 || c.Worker.PollMaxInterval < c.Worker.PollInterval {
		return fmt.Errorf("WORKER_POLL_MAX_INTERVAL must be >= WORKER_POLL_INTERVAL")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
