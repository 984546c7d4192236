package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops HTTP servers first, then runs cleanup functions
// concurrently, all within one timeout
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	servers []*http.Server
	funcs   []ShutdownFunc
}

// NewShutdownManager creates a shutdown manager. A zero timeout means 30s.
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
		servers: servers,
	}
}

// RegisterShutdownFunc registers a function to call during shutdown
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, fn)
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation, then
// shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(shutdownCtx)
}

// Shutdown stops every server and runs every registered function
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]ShutdownFunc(nil), sm.funcs...)
	sm.mu.Unlock()

	var errs []error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", server.Addr).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("server %s: %w", server.Addr, err))
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(funcs))
	for i, fn := range funcs {
		wg.Add(1)
		go func(index int, fn ShutdownFunc) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown function %d failed", index)
				errCh <- err
			}
		}(i, fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached: %w", ctx.Err())
	}

	close(errCh)
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
