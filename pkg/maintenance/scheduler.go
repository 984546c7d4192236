package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

// defaultJobTimeout bounds a single scheduled run
const defaultJobTimeout = 5 * time.Minute

// TokenPurger deletes tokens that expired before a cutoff
type TokenPurger interface {
	CleanupExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs periodic housekeeping jobs
type Scheduler struct {
	cron    *cron.Cron
	tokens  TokenPurger
	metrics *observability.Metrics
	auditor audit.Logger
	logger  *observability.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler. metrics and auditor may be nil.
func NewScheduler(tokens TokenPurger, metrics *observability.Metrics, auditor audit.Logger, logger *observability.Logger) *Scheduler {
	if auditor == nil {
		auditor = audit.NoOp()
	}
	return &Scheduler{
		cron:    cron.New(),
		tokens:  tokens,
		metrics: metrics,
		auditor: auditor,
		logger:  logger,
		timeout: defaultJobTimeout,
		now:     time.Now,
	}
}

// ScheduleTokenCleanup registers the expired token purge on a standard
// five field cron schedule or descriptor such as "@hourly"
func (s *Scheduler) ScheduleTokenCleanup(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		defer observability.RecoverPanic(s.logger, "token cleanup")

		if _, err := s.PurgeExpiredTokens(ctx); err != nil {
			s.logger.WithError(err).Error("Expired token cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule token cleanup %q: %w", schedule, err)
	}
	return nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PurgeExpiredTokens deletes every token that has expired by now
func (s *Scheduler) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	start := s.now()
	purged, err := s.tokens.CleanupExpiredTokens(ctx, start)
	if purged > 0 && s.metrics != nil {
		s.metrics.TokensPurgedTotal.Add(float64(purged))
	}
	if err != nil {
		return purged, err
	}

	event := &audit.AuditEvent{
		Timestamp: start,
		EventType: audit.EventTypeTokenPurge,
		Message:   fmt.Sprintf("purged %d expired tokens", purged),
	}
	if aerr := s.auditor.Log(ctx, event); aerr != nil {
		s.logger.WithError(aerr).Warn("Failed to record token purge")
	}

	s.logger.WithFields(map[string]interface{}{
		"purged":   purged,
		"duration": s.now().Sub(start).String(),
	}).Info("Expired tokens purged")
	return purged, nil
}
