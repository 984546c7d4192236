// Package config loads registrygate configuration from GATE_* environment
// variables with defaults for every setting, then validates it.
//
// Server settings:
//
//	GATE_HOST="0.0.0.0"
//	GATE_PORT="8080"
//	GATE_HEALTH_PORT="9090"
//	GATE_MAX_UPLOAD_BYTES="104857600"
//
// Storage settings:
//
//	GATE_STORAGE_TYPE="memory"  # memory, postgres
//	GATE_POSTGRES_URL="postgres://localhost/registrygate"
//	GATE_POSTGRES_REPLICA_URLS="postgres://replica1/registrygate,postgres://replica2/registrygate"
//	GATE_REDIS_URL="redis://localhost:6379"
//	GATE_CACHE_TTL="1m"
//
// Package file settings:
//
//	GATE_PACKAGE_BACKEND="memory"  # memory, filesystem, s3
//	GATE_PACKAGE_ROOT="/var/lib/registrygate/packages"
//	GATE_S3_BUCKET="registrygate-packages"
//	GATE_S3_ENDPOINT="http://minio:9000"
//
// Access settings:
//
//	GATE_JOB_TOKEN_DENIAL_FORBIDDEN="false"
//	GATE_CI_JOB_USERNAME="ci-job-token"
//	GATE_PATTERN_CACHE_SIZE="1024"
//	GATE_PATTERN_CACHE_TTL="10m"
//
// Audit, maintenance and rate limiting:
//
//	GATE_AUDIT_PATH="/var/log/registrygate"
//	GATE_AUDIT_DATABASE="true"
//	GATE_TOKEN_CLEANUP_SCHEDULE="@hourly"
//	GATE_RATE_LIMIT_ENABLED="true"
//	GATE_RATE_LIMIT_BACKEND="redis"
//
// Observability settings:
//
//	GATE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATE_METRICS_ENABLED="true"
//	GATE_OTEL_ENABLED="true"
//	GATE_OTEL_ENDPOINT="otel-collector:4317"
//
// Fixtures:
//
//	GATE_FIXTURES_PATH="fixtures.yaml"
//	GATE_FIXTURES_WATCH="true"
package config
