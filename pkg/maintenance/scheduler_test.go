package maintenance

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/observability"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAuditor) Log(_ context.Context, e *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAuditor) Close() error { return nil }

type failingPurger struct{ purged int64 }

func (f failingPurger) CleanupExpiredTokens(context.Context, time.Time) (int64, error) {
	return f.purged, errors.New("database unavailable")
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestPurgeExpiredTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	require.NoError(t, store.PutUser(ctx, &storage.User{ID: 1, Username: "alice", State: storage.UserActive}))

	manager := auth.NewTokenManager(store)
	expired := now.Add(-time.Hour)
	live := now.Add(time.Hour)
	_, oldSecret, err := manager.CreatePersonalAccessToken(ctx, 1, "old", []string{string(auth.ScopeAPI)}, &expired)
	require.NoError(t, err)
	_, currentSecret, err := manager.CreatePersonalAccessToken(ctx, 1, "current", []string{string(auth.ScopeAPI)}, &live)
	require.NoError(t, err)
	_, foreverSecret, err := manager.CreatePersonalAccessToken(ctx, 1, "forever", []string{string(auth.ScopeAPI)}, nil)
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	auditor := &recordingAuditor{}
	s := NewScheduler(manager, metrics, auditor, quietLogger())
	s.now = func() time.Time { return now }

	purged, err := s.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TokensPurgedTotal))

	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.EventTypeTokenPurge, auditor.events[0].EventType)
	assert.Equal(t, "purged 1 expired tokens", auditor.events[0].Message)

	for secret, kept := range map[string]bool{oldSecret: false, currentSecret: true, foreverSecret: true} {
		tok, err := store.GetPersonalAccessTokenByHash(ctx, auth.HashToken(secret))
		require.NoError(t, err)
		assert.Equal(t, kept, tok != nil)
	}

	// A second run finds nothing left to purge.
	purged, err = s.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TokensPurgedTotal))
}

func TestPurgeExpiredTokens_Error(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	auditor := &recordingAuditor{}
	s := NewScheduler(failingPurger{purged: 2}, metrics, auditor, quietLogger())

	purged, err := s.PurgeExpiredTokens(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(2), purged)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.TokensPurgedTotal))
	assert.Empty(t, auditor.events)
}

func TestScheduleTokenCleanup(t *testing.T) {
	s := NewScheduler(failingPurger{}, nil, nil, quietLogger())

	require.Error(t, s.ScheduleTokenCleanup("not a schedule"))
	require.NoError(t, s.ScheduleTokenCleanup("@hourly"))
	require.NoError(t, s.ScheduleTokenCleanup("*/5 * * * *"))
	assert.Len(t, s.cron.Entries(), 2)

	s.Start()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
