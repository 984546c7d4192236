package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/registrygate/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL_TRUE", "TRUE")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_INT64", "9223372036854775807")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "soon")

	if got := getEnv("TEST_STR", "default"); got != "custom" {
		t.Errorf("getEnv() = %q, want custom", got)
	}
	if got := getEnv("TEST_STR_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want default", got)
	}
	if !getEnvBool("TEST_BOOL_TRUE", false) || !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool() should accept TRUE and 1")
	}
	if getEnvBool("TEST_STR", true) {
		t.Error("getEnvBool() should treat other values as false")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() = %d, want fallback 7", got)
	}
	if got := getEnvInt64("TEST_INT64", 0); got != 9223372036854775807 {
		t.Errorf("getEnvInt64() = %d", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want fallback 1s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"INFO", observability.InfoLevel},
		{"warning", observability.WarnLevel},
		{"warn", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"loud", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("ports = %s/%s, want 8080/9090", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Server.MaxUploadBytes != 100<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Storage.Type != "memory" || cfg.Packages.Backend != "memory" {
		t.Errorf("storage = %s, packages = %s, want memory", cfg.Storage.Type, cfg.Packages.Backend)
	}
	if cfg.Access.JobTokenDenialForbidden {
		t.Error("job token denials should default to not found")
	}
	if cfg.Access.PatternCacheSize != 1024 || cfg.Access.PatternCacheTTL != 10*time.Minute {
		t.Errorf("pattern cache = %d/%v", cfg.Access.PatternCacheSize, cfg.Access.PatternCacheTTL)
	}
	if cfg.Maintenance.TokenCleanupSchedule != "@hourly" || !cfg.Maintenance.TokenCleanupEnabled {
		t.Errorf("maintenance = %+v", cfg.Maintenance)
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limiting should be off by default")
	}
	if len(cfg.Server.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want none", cfg.Server.TrustedProxies)
	}
	if cfg.Observability.OTelServiceName != "registrygate" {
		t.Errorf("OTelServiceName = %s", cfg.Observability.OTelServiceName)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GATE_PORT", "8443")
	t.Setenv("GATE_STORAGE_TYPE", "postgres")
	t.Setenv("GATE_POSTGRES_URL", "postgres://localhost/registrygate")
	t.Setenv("GATE_REDIS_URL", "redis://localhost:6379")
	t.Setenv("GATE_PACKAGE_BACKEND", "s3")
	t.Setenv("GATE_S3_BUCKET", "packages")
	t.Setenv("GATE_JOB_TOKEN_DENIAL_FORBIDDEN", "true")
	t.Setenv("GATE_CI_JOB_USERNAME", "gitlab-ci-token")
	t.Setenv("GATE_AUDIT_DATABASE", "true")
	t.Setenv("GATE_TOKEN_CLEANUP_SCHEDULE", "*/15 * * * *")
	t.Setenv("GATE_RATE_LIMIT_ENABLED", "true")
	t.Setenv("GATE_RATE_LIMIT_BACKEND", "redis")
	t.Setenv("GATE_LOG_LEVEL", "debug")
	t.Setenv("GATE_TRUSTED_PROXIES", "10.0.0.0/8, ,192.0.2.50")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != "8443" {
		t.Errorf("Port = %s", cfg.Server.Port)
	}
	if !cfg.Access.JobTokenDenialForbidden || cfg.Access.CIJobUsername != "gitlab-ci-token" {
		t.Errorf("access = %+v", cfg.Access)
	}
	if !cfg.Audit.Database {
		t.Error("database audit should be enabled")
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "192.0.2.50" {
		t.Errorf("TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Errorf("rate limit backend = %s", cfg.RateLimit.Backend)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func validConfig() *Config {
	return &Config{
		Server:      ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage:     StorageConfig{Type: "memory"},
		Packages:    PackagesConfig{Backend: "memory"},
		Maintenance: MaintenanceConfig{TokenCleanupEnabled: true, TokenCleanupSchedule: "@hourly"},
		RateLimit:   RateLimitConfig{Backend: "memory", RequestsPerWindow: 10, Window: time.Second},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/99"} }, "invalid trusted proxy"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, "invalid storage type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = "postgres" }, "postgres URL is required"},
		{"filesystem without root", func(c *Config) { c.Packages.Backend = "filesystem" }, "package root is required"},
		{"s3 without bucket", func(c *Config) { c.Packages.Backend = "s3" }, "S3 bucket is required"},
		{"unknown package backend", func(c *Config) { c.Packages.Backend = "ftp" }, "invalid package backend"},
		{"fixtures on postgres", func(c *Config) {
			c.Storage = StorageConfig{Type: "postgres", PostgresURL: "postgres://x"}
			c.Fixtures.Path = "fixtures.yaml"
		}, "fixtures can only seed memory storage"},
		{"database audit on memory", func(c *Config) { c.Audit.Database = true }, "database audit requires postgres"},
		{"bad schedule", func(c *Config) { c.Maintenance.TokenCleanupSchedule = "every tuesday" }, "invalid token cleanup schedule"},
		{"bad schedule ignored when disabled", func(c *Config) {
			c.Maintenance.TokenCleanupEnabled = false
			c.Maintenance.TokenCleanupSchedule = "every tuesday"
		}, ""},
		{"rate limit without window", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Window = 0
		}, "must be positive"},
		{"redis rate limit without redis", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Backend = "redis"
		}, "redis URL is required"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "gate"
		}, "OpenTelemetry endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
