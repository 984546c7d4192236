package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (r *recordingLogger) Log(_ context.Context, e *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return nil
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiLogger_Async(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{err: errors.New("disk full")}
	m := NewMultiLogger(a, b)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Log(ctx, &AuditEvent{EventType: EventTypeAccessDecision}))
	cancel()
	m.Wait()

	assert.Equal(t, 1, a.count())
	errs := m.Errors()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "disk full")
	assert.Empty(t, m.Errors())
}

func TestMultiLogger_Sync(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{err: errors.New("disk full")}
	m := NewMultiLogger(a, b)
	m.SetAsync(false)

	err := m.Log(context.Background(), &AuditEvent{EventType: EventTypeTokenRevoke})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, a.count())

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestMultiLogger_Empty(t *testing.T) {
	m := NewMultiLogger()
	assert.NoError(t, m.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, m.Close())
}
