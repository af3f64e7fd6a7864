// Package config loads the service configuration from environment variables.
// Defaults are applied for unset values and the result is validated on
// startup so a misconfigured deployment fails before accepting jobs.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Job      JobConfig
	Storage  StorageConfig
	Audit    AuditConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading the request, uploads included.
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is 0 so ?wait=true requests can block on long jobs.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the PostgreSQL pool settings used by the postgres
// audit driver.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// JobConfig limits dedupe jobs.
type JobConfig struct {
	// MaxFileSize accepts plain byte counts or sizes such as "100MB".
	MaxFileSize   int64         `env:"JOB_MAX_FILE_SIZE" default:"100MB" unit:"bytes"`
	MaxConcurrent int           `env:"JOB_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"JOB_MAX_WAIT_TIME" default:"30s"`
	Timeout       time.Duration `env:"JOB_TIMEOUT" default:"10m"`

	// ResultTTL is how long a finished job stays queryable by id.
	ResultTTL time.Duration `env:"JOB_RESULT_TTL" default:"30m"`
}

// StorageConfig holds the job file store settings.
type StorageConfig struct {
	Dir string `env:"STORAGE_DIR" default:"./data/files"`

	// BaseURL prefixes every file_url. Files are served under /files/.
	BaseURL string `env:"STORAGE_BASE_URL" default:"http://localhost:8080/files"`

	Retention     time.Duration `env:"STORAGE_RETENTION" default:"24h"`
	CheckInterval time.Duration `env:"STORAGE_CHECK_INTERVAL" default:"1h"`
}

// Audit drivers.
const (
	AuditNone     = "none"
	AuditSQLite   = "sqlite"
	AuditPostgres = "postgres"
)

// AuditConfig selects where job audit entries are written.
type AuditConfig struct {
	Driver     string `env:"AUDIT_DRIVER" default:"sqlite"`
	SQLitePath string `env:"AUDIT_SQLITE_PATH" default:"./data/audit.db"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// SubmitLimit applies to POST /api/v0/dedupe.
	SubmitLimit int `env:"RATE_LIMIT_SUBMIT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies lists CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
