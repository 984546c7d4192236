package audit

import (
	"context"
	"net/http"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
	// Close flushes buffered events
	Close() error
}

type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context audit logger, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NoOp()
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }

// NoOp returns a logger that discards every event
func NoOp() Logger {
	return noOpLogger{}
}

// ClientIP returns the peer address of a request. Forwarding headers are
// ignored; use TrustedProxies.ClientIP behind a reverse proxy.
func ClientIP(r *http.Request) string {
	return (*TrustedProxies)(nil).ClientIP(r)
}
