package async

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/registrygate/pkg/observability"
)

// Group runs background tasks with panic recovery and a per-task timeout,
// and lets the owner wait for them during shutdown.
type Group struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates a group. A zero timeout leaves tasks bounded only by the
// context they are started with.
func NewGroup(logger *observability.Logger, timeout time.Duration) *Group {
	return &Group{logger: logger, timeout: timeout}
}

// Go runs fn in a goroutine. The task keeps running if parent is canceled
// after Go returns; only the group timeout bounds it. Errors are logged.
func (g *Group) Go(parent context.Context, taskName string, fn func(context.Context) error) {
	ctx := context.WithoutCancel(parent)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer observability.RecoverPanic(g.logger, taskName)

		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		if err := fn(ctx); err != nil {
			g.logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Wait blocks until every started task returns
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitContext waits like Wait but gives up when ctx is done
func (g *Group) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
