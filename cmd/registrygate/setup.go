package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/config"
	"github.com/platinummonkey/registrygate/pkg/fixtures"
	"github.com/platinummonkey/registrygate/pkg/middleware"
	"github.com/platinummonkey/registrygate/pkg/observability"
	"github.com/platinummonkey/registrygate/pkg/packages"
	"github.com/platinummonkey/registrygate/pkg/storage"
	"github.com/platinummonkey/registrygate/pkg/storage/postgres"
)

// backend is the opened persistence layer
type backend struct {
	store storage.Store
	// db is set for the postgres backend
	db *sql.DB
	// cache is set when postgres runs with redis
	cache    *postgres.RedisCache
	fixtures *fixtures.Watcher
}

func openBackend(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (*backend, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return openPostgres(ctx, cfg.Storage, metrics, logger)
	default:
		return openMemory(cfg.Fixtures, logger)
	}
}

func openMemory(cfg config.FixturesConfig, logger *observability.Logger) (*backend, error) {
	mem := storage.NewMemory()
	b := &backend{store: mem}
	if cfg.Path == "" {
		logger.Warn("Memory storage without fixtures: every request is anonymous and no resources exist")
		return b, nil
	}

	if err := fixtures.Apply(cfg.Path, mem); err != nil {
		return nil, err
	}
	logger.WithField("path", cfg.Path).Info("Fixtures loaded")

	if cfg.Watch {
		w, err := fixtures.NewWatcher(cfg.Path, mem, logger)
		if err != nil {
			return nil, err
		}
		b.fixtures = w
	}
	return b, nil
}

func openPostgres(ctx context.Context, cfg config.StorageConfig, metrics *observability.Metrics, logger *observability.Logger) (*backend, error) {
	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.PostgresReplicaURLs),
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := postgres.RunMigrations(ctx, cm.Primary()); err != nil {
		cm.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var cache *postgres.RedisCache
	if cfg.RedisURL != "" {
		cache, err = postgres.NewRedisCache(postgres.CacheConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.RedisMaxRetries,
			PoolSize:   cfg.RedisPoolSize,
			ChainTTL:   cfg.CacheTTL,
			RulesTTL:   cfg.CacheTTL,
		})
		if err != nil {
			cm.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache.OnLookup(func(kind string, hit bool) {
			metrics.ObserveCacheLookup("redis_"+kind, hit)
		})
		logger.Info("Redis cache enabled")
	}

	return &backend{
		store: postgres.NewStore(cm, cache),
		db:    cm.Primary(),
		cache: cache,
	}, nil
}

func openPackages(ctx context.Context, cfg config.PackagesConfig) (*packages.Index, error) {
	var blobs packages.BlobStore
	switch cfg.Backend {
	case "filesystem":
		fs, err := packages.NewFilesystemBlobs(cfg.FilesystemRoot)
		if err != nil {
			return nil, err
		}
		blobs = fs
	case "s3":
		s3, err := packages.NewS3Blobs(ctx, packages.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		blobs = s3
	default:
		blobs = packages.NewMemoryBlobs()
	}
	return packages.NewIndex(blobs), nil
}

func openAuditor(cfg config.AuditConfig, db *sql.DB) (audit.Logger, error) {
	var sinks []audit.Logger
	if cfg.Dir != "" {
		fl, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: filepath.Clean(cfg.Dir),
			MaxSize:  cfg.FileMaxBytes,
			MaxFiles: cfg.FileMaxFiles,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fl)
	}
	if cfg.Database && db != nil {
		dl, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dl)
	}

	switch len(sinks) {
	case 0:
		return audit.NoOp(), nil
	case 1:
		return sinks[0], nil
	default:
		m := audit.NewMultiLogger(sinks...)
		m.SetAsync(true)
		return m, nil
	}
}

func openRateLimit(ctx context.Context, cfg config.RateLimitConfig, store config.StorageConfig, proxies *audit.TrustedProxies, b *backend, logger *observability.Logger) (func(http.Handler) http.Handler, error) {
	limits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
		TrustedProxies:    proxies,
	}

	if cfg.Backend != "redis" {
		limiter := middleware.NewMemoryLimiter(limits)
		limiter.StartCleanup(ctx)
		return middleware.RateLimit(limiter, limits, logger), nil
	}

	var client *redis.Client
	if b.cache != nil {
		client = b.cache.Client()
	} else {
		opts, err := redis.ParseURL(store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit redis url: %w", err)
		}
		if store.RedisPassword != "" {
			opts.Password = store.RedisPassword
		}
		client = redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to rate limit redis: %w", err)
		}
	}
	return middleware.RateLimit(middleware.NewRedisLimiter(client, limits, "registrygate:ratelimit:"), limits, logger), nil
}
