package config

import (
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the catalog mirror.
// Values come from config.yaml with environment variable overrides.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"`

	// PublicURL is the externally reachable base URL of the hosting
	// application. Destination engines pull dataset downloads from it.
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL" env-default:""`

	Database   DatabaseConfig   `yaml:"database"`
	Connection ConnectionConfig `yaml:"connection"`
	Sync       SyncConfig       `yaml:"sync"`
	Queue      QueueConfig      `yaml:"queue"`

	// CredentialsKey seals account passwords in the catalog store.
	// Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// DatabaseConfig holds the local catalog store (PostgreSQL) settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"catalog"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"catalog_mirror"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionConfig holds settings applied to every remote engine session.
type ConnectionConfig struct {
	// LoginTimeoutSeconds bounds how long establishing a session may take.
	LoginTimeoutSeconds int    `yaml:"login_timeout_seconds" env:"REMOTE_LOGIN_TIMEOUT_SECONDS" env-default:"10"`
	SSLMode             string `yaml:"ssl_mode" env:"REMOTE_SSL_MODE" env-default:"prefer"`
	// RewriteLocalhost maps localhost to host.docker.internal when running in a container.
	RewriteLocalhost bool `yaml:"rewrite_localhost" env:"REMOTE_REWRITE_LOCALHOST" env-default:"true"`
}

// SyncConfig controls the periodic catalog refresh.
type SyncConfig struct {
	IntervalMinutes   int  `yaml:"interval_minutes" env:"SYNC_INTERVAL_MINUTES" env-default:"60"`
	MarkStale         bool `yaml:"mark_stale" env:"SYNC_MARK_STALE" env-default:"true"`
	SkipSchemaRefresh bool `yaml:"skip_schema_refresh" env:"SYNC_SKIP_SCHEMA_REFRESH" env-default:"false"`
}

// QueueConfig controls the in-process background request queue.
type QueueConfig struct {
	Workers int `yaml:"workers" env:"QUEUE_WORKERS" env-default:"2"`
}

// LoginTimeout returns the configured login timeout as a duration.
func (c ConnectionConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// SyncInterval returns the configured refresh interval as a duration.
func (c SyncConfig) SyncInterval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable overrides.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Connection.LoginTimeoutSeconds <= 0 {
		return fmt.Errorf("connection.login_timeout_seconds must be positive, got %d", c.Connection.LoginTimeoutSeconds)
	}
	if c.Sync.IntervalMinutes <= 0 {
		return fmt.Errorf("sync.interval_minutes must be positive, got %d", c.Sync.IntervalMinutes)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.PublicURL != "" {
		if _, err := url.ParseRequestURI(c.PublicURL); err != nil {
			return fmt.Errorf("public_url: %w", err)
		}
	}
	return nil
}

// ConnectionString returns a PostgreSQL URL for the local catalog store.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. Cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHost maps a loopback data-source host to host.docker.internal when
// the process runs in a container, so engines on the host stay reachable.
func (c ConnectionConfig) ResolveHost(host string) string {
	if !c.RewriteLocalhost || !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
