// Package async runs tracked background work.
//
// A Group starts goroutines that recover from panics, respect a per-task
// timeout and log their errors, so request handlers can hand off
// bookkeeping without blocking the response:
//
//	g := async.NewGroup(logger, 5*time.Second)
//	g.Go(r.Context(), "record token usage", func(ctx context.Context) error {
//		return store.TouchPersonalAccessToken(ctx, id, now)
//	})
//	...
//	g.Wait()
package async
