package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/registrygate/pkg/observability"
)

// ConnectionManager holds the primary connection used for writes and token
// lookups, plus optional read replicas used for resource, membership and rule
// reads
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32
	mu       sync.RWMutex
	config   ConnectionConfig
	logger   *observability.Logger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func (c ConnectionConfig) configure(db *sql.DB, maxConns int) {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(c.MinConns)
	db.SetConnMaxLifetime(c.MaxLifetime)
	db.SetConnMaxIdleTime(c.MaxIdleTime)
}

func (c ConnectionConfig) replicaMaxConns() int {
	n := c.MaxConns / 2
	if n < 2 {
		n = 2
	}
	return n
}

// NewConnectionManager opens the primary and every reachable replica.
// Unreachable replicas are skipped with a warning.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	cm := &ConnectionManager{
		config:   config,
		replicas: make([]*sql.DB, 0),
		logger:   logger,
	}

	primary, err := sql.Open("postgres", config.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	config.configure(primary, config.MaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := primary.PingContext(ctx); err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}
	cm.primary = primary

	for i, replicaURL := range config.ReplicaURLs {
		if err := cm.AddReplica(replicaURL); err != nil {
			logger.WithError(err).WithField("replica", i).Warn("skipping postgres replica")
		}
	}

	logger.WithField("replicas", len(cm.replicas)).Info("postgres connection manager initialized")
	return cm, nil
}

// NewConnectionManagerFromDB wraps already opened connections
func NewConnectionManagerFromDB(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	return &ConnectionManager{
		primary:  primary,
		replicas: append([]*sql.DB(nil), replicas...),
	}
}

// Primary returns the primary database connection
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection. Falls back to
// the primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// AddReplica opens a replica connection at runtime
func (cm *ConnectionManager) AddReplica(replicaURL string) error {
	replica, err := sql.Open("postgres", replicaURL)
	if err != nil {
		return fmt.Errorf("failed to open replica connection: %w", err)
	}
	cm.config.configure(replica, cm.config.replicaMaxConns())

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.Timeout)
	defer cancel()

	if err := replica.PingContext(ctx); err != nil {
		replica.Close()
		return fmt.Errorf("failed to ping replica: %w", err)
	}

	cm.mu.Lock()
	cm.replicas = append(cm.replicas, replica)
	cm.mu.Unlock()
	return nil
}

// HealthCheck fails when the primary is down or every replica is down
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	replicas := append([]*sql.DB(nil), cm.replicas...)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []string

	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("primary: %v", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("replica-%d: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("connection close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseReplicaURLs parses a comma-separated list of replica URLs
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	urls := strings.Split(replicaURLsStr, ",")
	result := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
