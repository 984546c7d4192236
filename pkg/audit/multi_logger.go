package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger fans an event out to several loggers. In async mode Log
// returns immediately and failures are collected for Errors.
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewMultiLogger creates an asynchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		async:   true,
	}
}

// SetAsync switches between asynchronous and synchronous delivery
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log delivers the event to every logger
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.loggers) == 0 {
		return nil
	}

	if m.async {
		// detach from the request so delivery survives its cancellation
		ctx = context.WithoutCancel(ctx)
		for _, logger := range m.loggers {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				if err := l.Log(ctx, event); err != nil {
					m.record(err)
				}
			}(logger)
		}
		return nil
	}

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Wait blocks until pending asynchronous deliveries finish
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains the failures of asynchronous deliveries
func (m *MultiLogger) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

// Close waits for pending deliveries and closes every logger
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
