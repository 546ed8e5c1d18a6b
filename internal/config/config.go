package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/autopost/pkg/logger"
)

// ResultWriteTimeout bounds the store write that records a publish result.
const ResultWriteTimeout = 10 * time.Second

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Publisher PublisherConfig `yaml:"publisher"`
	Upload    UploadConfig    `yaml:"upload"`
	Storage   StorageConfig   `yaml:"storage"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Env      string `yaml:"env"`
}

// DatabaseConfig selects the post/template store. Type is one of
// postgres, sqlite or mongodb.
type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"`
	URI      string `yaml:"uri"`
}

type SchedulerConfig struct {
	Interval         string `yaml:"interval"`
	Enabled          *bool  `yaml:"enabled"`
	ReconcileOnStart bool   `yaml:"reconcile_on_start"`
	StaleAfter       string `yaml:"stale_after"`
}

type PublisherConfig struct {
	Type        string         `yaml:"type"`
	Timeout     string         `yaml:"timeout"`
	MinInterval string         `yaml:"min_interval"`
	DryRunDelay string         `yaml:"dryrun_delay"`
	LinkedIn    LinkedInConfig `yaml:"linkedin"`
}

type LinkedInConfig struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Headless  *bool  `yaml:"headless"`
	UserAgent string `yaml:"user_agent"`
	DebugDir  string `yaml:"debug_dir"`
}

type UploadConfig struct {
	MaxFileSize int64    `yaml:"max_file_size"`
	Dir         string   `yaml:"dir"`
	AllowedMIME []string `yaml:"allowed_mime"`
}

// StorageConfig selects where uploaded images live. Type is local or s3.
type StorageConfig struct {
	Type string   `yaml:"type"`
	S3   S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Database.Type == "" {
		c.Database.Type = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.TimeZone == "" {
		c.Database.TimeZone = "UTC"
	}
	if c.Database.Path == "" {
		c.Database.Path = "autopost.db"
	}
	if c.Database.URI == "" {
		c.Database.URI = "mongodb://localhost:27017"
	}
	if c.Database.Database == "" {
		c.Database.Database = "autopost"
	}
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = "1m"
	}
	if c.Scheduler.StaleAfter == "" {
		c.Scheduler.StaleAfter = "15m"
	}
	if c.Publisher.Type == "" {
		c.Publisher.Type = "linkedin"
	}
	if c.Publisher.Timeout == "" {
		c.Publisher.Timeout = "120s"
	}
	if c.Publisher.MinInterval == "" {
		c.Publisher.MinInterval = "0s"
	}
	if c.Publisher.DryRunDelay == "" {
		c.Publisher.DryRunDelay = "0s"
	}
	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = 5 << 20
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = "./uploads"
	}
	if len(c.Upload.AllowedMIME) == 0 {
		c.Upload.AllowedMIME = []string{"image/jpeg", "image/png", "image/gif"}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "auto"
	}
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = c.Server.Env
	}
}

// Validate rejects settings that would only fail later at runtime.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"scheduler.interval":     c.Scheduler.Interval,
		"scheduler.stale_after":  c.Scheduler.StaleAfter,
		"publisher.timeout":      c.Publisher.Timeout,
		"publisher.min_interval": c.Publisher.MinInterval,
		"publisher.dryrun_delay": c.Publisher.DryRunDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	switch c.Publisher.Type {
	case "linkedin", "dryrun":
	default:
		return fmt.Errorf("unsupported publisher type: %s", c.Publisher.Type)
	}

	if c.Scheduler.IntervalDuration() <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Publisher.TimeoutDuration() <= 0 {
		return fmt.Errorf("publisher.timeout must be positive")
	}
	if minStale := MinStaleAfter(c.Publisher.TimeoutDuration()); c.Scheduler.StaleAfterDuration() < minStale {
		return fmt.Errorf("scheduler.stale_after must be at least %s (publisher.timeout plus the result write)", minStale)
	}

	switch c.Database.Type {
	case "postgres", "sqlite", "mongodb":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch c.Storage.Type {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	return nil
}

// MinStaleAfter is the shortest claim age that may be treated as abandoned.
// A younger claim can still belong to a publish in progress.
func MinStaleAfter(publishTimeout time.Duration) time.Duration {
	return publishTimeout + ResultWriteTimeout
}

// IsEnabled treats a missing enabled key as true.
func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c LinkedInConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func (c SchedulerConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

func (c SchedulerConfig) StaleAfterDuration() time.Duration {
	d, _ := time.ParseDuration(c.StaleAfter)
	return d
}

func (c PublisherConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

func (c PublisherConfig) MinIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.MinInterval)
	return d
}

func (c PublisherConfig) DryRunDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.DryRunDelay)
	return d
}
