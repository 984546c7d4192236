package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Packages      PackagesConfig
	Observability ObservabilityConfig
	Access        AccessConfig
	Audit         AuditConfig
	Maintenance   MaintenanceConfig
	RateLimit     RateLimitConfig
	Fixtures      FixturesConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	MaxUploadBytes int64

	// TrustedProxies lists the CIDRs or addresses allowed to set the client
	// address with X-Forwarded-For
	TrustedProxies []string
}

// StorageConfig selects where principals, resources and rules live
type StorageConfig struct {
	Type string // memory or postgres

	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	CacheTTL        time.Duration
}

// PackagesConfig selects where package file contents live
type PackagesConfig struct {
	Backend string // memory, filesystem or s3

	FilesystemRoot string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3Prefix       string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// AccessConfig tunes the access engine
type AccessConfig struct {
	// JobTokenDenialForbidden answers job tokens without a grant on a
	// private resource with 403 instead of 404
	JobTokenDenialForbidden bool
	CIJobUsername           string
	PatternCacheSize        int
	PatternCacheTTL         time.Duration
}

// AuditConfig selects audit sinks. Both may be active at once.
type AuditConfig struct {
	Dir          string // directory holding audit.log; empty disables the file sink
	FileMaxBytes int64
	FileMaxFiles int
	// Database writes events to the audit_logs table; postgres only
	Database bool
}

// MaintenanceConfig schedules background jobs
type MaintenanceConfig struct {
	TokenCleanupEnabled  bool
	TokenCleanupSchedule string
}

// RateLimitConfig limits requests per client IP
type RateLimitConfig struct {
	Enabled           bool
	Backend           string // memory or redis
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// FixturesConfig seeds the in-memory store from a YAML file
type FixturesConfig struct {
	Path  string
	Watch bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Packages:      loadPackagesConfig(),
		Observability: loadObservabilityConfig(),
		Access:        loadAccessConfig(),
		Audit:         loadAuditConfig(),
		Maintenance:   loadMaintenanceConfig(),
		RateLimit:     loadRateLimitConfig(),
		Fixtures: FixturesConfig{
			Path:  getEnv("GATE_FIXTURES_PATH", ""),
			Watch: getEnvBool("GATE_FIXTURES_WATCH", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATE_HOST", "0.0.0.0"),
		Port:            getEnv("GATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("GATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATE_HEALTH_PORT", "9090"),
		MaxUploadBytes:  getEnvInt64("GATE_MAX_UPLOAD_BYTES", 100<<20),
		TrustedProxies:  getEnvList("GATE_TRUSTED_PROXIES"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:                getEnv("GATE_STORAGE_TYPE", "memory"),
		PostgresURL:         getEnv("GATE_POSTGRES_URL", ""),
		PostgresReplicaURLs: getEnv("GATE_POSTGRES_REPLICA_URLS", ""),
		PostgresMaxConns:    getEnvInt("GATE_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("GATE_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:     getEnvDuration("GATE_POSTGRES_TIMEOUT", 10*time.Second),
		RedisURL:            getEnv("GATE_REDIS_URL", ""),
		RedisPassword:       getEnv("GATE_REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("GATE_REDIS_DB", 0),
		RedisMaxRetries:     getEnvInt("GATE_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:       getEnvInt("GATE_REDIS_POOL_SIZE", 10),
		CacheTTL:            getEnvDuration("GATE_CACHE_TTL", time.Minute),
	}
}

func loadPackagesConfig() PackagesConfig {
	return PackagesConfig{
		Backend:        getEnv("GATE_PACKAGE_BACKEND", "memory"),
		FilesystemRoot: getEnv("GATE_PACKAGE_ROOT", ""),
		S3Endpoint:     getEnv("GATE_S3_ENDPOINT", ""),
		S3Region:       getEnv("GATE_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("GATE_S3_BUCKET", ""),
		S3AccessKey:    getEnv("GATE_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("GATE_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("GATE_S3_USE_PATH_STYLE", false),
		S3Prefix:       getEnv("GATE_S3_PREFIX", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATE_OTEL_SERVICE_NAME", "registrygate"),
		OTelServiceVersion: getEnv("GATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATE_OTEL_SAMPLE_RATIO", 1),
	}
}

func loadAccessConfig() AccessConfig {
	return AccessConfig{
		JobTokenDenialForbidden: getEnvBool("GATE_JOB_TOKEN_DENIAL_FORBIDDEN", false),
		CIJobUsername:           getEnv("GATE_CI_JOB_USERNAME", ""),
		PatternCacheSize:        getEnvInt("GATE_PATTERN_CACHE_SIZE", 1024),
		PatternCacheTTL:         getEnvDuration("GATE_PATTERN_CACHE_TTL", 10*time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:          getEnv("GATE_AUDIT_PATH", ""),
		FileMaxBytes: getEnvInt64("GATE_AUDIT_MAX_BYTES", 100<<20),
		FileMaxFiles: getEnvInt("GATE_AUDIT_MAX_FILES", 10),
		Database:     getEnvBool("GATE_AUDIT_DATABASE", false),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		TokenCleanupEnabled:  getEnvBool("GATE_TOKEN_CLEANUP_ENABLED", true),
		TokenCleanupSchedule: getEnv("GATE_TOKEN_CLEANUP_SCHEDULE", "@hourly"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("GATE_RATE_LIMIT_ENABLED", false),
		Backend:           getEnv("GATE_RATE_LIMIT_BACKEND", "memory"),
		RequestsPerWindow: getEnvInt("GATE_RATE_LIMIT_REQUESTS", 600),
		Window:            getEnvDuration("GATE_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("GATE_RATE_LIMIT_BURST", 60),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := audit.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Packages.Backend {
	case "memory":
	case "filesystem":
		if c.Packages.FilesystemRoot == "" {
			return fmt.Errorf("package root is required for the filesystem backend")
		}
	case "s3":
		if c.Packages.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid package backend: %s (must be memory, filesystem or s3)", c.Packages.Backend)
	}

	if c.Fixtures.Path != "" && c.Storage.Type != "memory" {
		return fmt.Errorf("fixtures can only seed memory storage")
	}
	if c.Audit.Database && c.Storage.Type != "postgres" {
		return fmt.Errorf("database audit requires postgres storage")
	}

	if c.Maintenance.TokenCleanupEnabled {
		if _, err := cron.ParseStandard(c.Maintenance.TokenCleanupSchedule); err != nil {
			return fmt.Errorf("invalid token cleanup schedule %q: %w", c.Maintenance.TokenCleanupSchedule, err)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.Storage.RedisURL == "" {
				return fmt.Errorf("redis URL is required for the redis rate limiter")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
