// Package audit records access decisions and credential lifecycle events.
//
// Every Logger receives an AuditEvent describing who acted, on what, and
// with what outcome. Events never carry the credential itself, only the
// principal kind and id it resolved to.
//
// Three sinks are provided:
//
//   - FileLogger appends JSON lines to audit.log and rotates by size
//   - DBLogger inserts into the audit_logs table
//   - MultiLogger fans out to several sinks, asynchronously by default
//
// Usage:
//
//	sink := audit.NewMultiLogger(fileLogger, dbLogger)
//	defer sink.Close()
//
//	event := &audit.AuditEvent{EventType: audit.EventTypeAccessDecision, Action: access.ActionWrite}
//	event.SetPrincipal(principal)
//	event.SetDecision(decision)
//	sink.Log(ctx, event)
package audit
