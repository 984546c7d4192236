package api

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/contextkeys"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

// recordChange audits a state change made by an allowed request
func (s *Server) recordChange(r *http.Request, eventType audit.EventType, target access.ResourceRef, action access.Action, packageName, message string) {
	ctx := r.Context()
	event := &audit.AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		Resource:    target.String(),
		Feature:     access.FeaturePackageRegistry,
		Action:      action,
		PackageName: packageName,
		RequestID:   observability.GetRequestID(ctx),
		Method:      r.Method,
		Path:        r.URL.Path,
		IPAddress:   s.proxies.ClientIP(r),
		Message:     message,
	}
	event.SetPrincipal(contextkeys.Principal(ctx))
	if d, ok := contextkeys.Decision(ctx); ok {
		event.SetDecision(d)
	}

	if err := s.auditor.Log(ctx, event); err != nil {
		s.log(ctx).WithError(err).WithField("event_type", string(eventType)).Warn("failed to write audit event")
	}
}

func (s *Server) log(ctx context.Context) *observability.Logger {
	return observability.FromContext(observability.WithLogger(ctx, s.logger))
}
