package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// DBLogger writes audit events to the audit_logs table created by the
// postgres migrations
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

const insertEventQuery = `
	INSERT INTO audit_logs (
		timestamp, event_type, principal_kind, principal_id,
		resource, feature, action, package_name,
		outcome, reason, request_id, method, path, ip_address, message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING id`

// Log inserts an event and records its generated id
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var principalID sql.NullInt64
	if event.PrincipalID != 0 {
		principalID = sql.NullInt64{Int64: event.PrincipalID, Valid: true}
	}

	err := l.db.QueryRowContext(ctx, insertEventQuery,
		event.Timestamp,
		string(event.EventType),
		nullString(string(event.PrincipalKind)),
		principalID,
		nullString(event.Resource),
		nullString(string(event.Feature)),
		nullString(string(event.Action)),
		nullString(event.PackageName),
		nullString(event.Outcome),
		nullString(event.Reason),
		nullString(event.RequestID),
		nullString(event.Method),
		nullString(event.Path),
		nullString(event.IPAddress),
		nullString(event.Message),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Filter narrows a Query
type Filter struct {
	EventTypes    []EventType
	PrincipalKind string
	PrincipalID   int64
	Resource      string
	Outcome       string
	Since         time.Time
	Limit         int
}

// Query returns matching events, newest first
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]*AuditEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if filter.PrincipalKind != "" {
		add("principal_kind = $%d", filter.PrincipalKind)
	}
	if filter.PrincipalID != 0 {
		add("principal_id = $%d", filter.PrincipalID)
	}
	if filter.Resource != "" {
		add("resource = $%d", filter.Resource)
	}
	if filter.Outcome != "" {
		add("outcome = $%d", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		add("timestamp >= $%d", filter.Since)
	}

	query := `SELECT id, timestamp, event_type, principal_kind, principal_id,
		resource, feature, action, package_name, outcome, reason,
		request_id, method, path, ip_address, message
		FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var eventType string
		var principalID sql.NullInt64
		var kind, resource, feature, action, pkgName, outcome, reason sql.NullString
		var requestID, method, path, ip, message sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &kind, &principalID,
			&resource, &feature, &action, &pkgName, &outcome, &reason,
			&requestID, &method, &path, &ip, &message); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.PrincipalKind = access.PrincipalKind(kind.String)
		e.PrincipalID = principalID.Int64
		e.Resource = resource.String
		e.Feature = access.Feature(feature.String)
		e.Action = access.Action(action.String)
		e.PackageName = pkgName.String
		e.Outcome = outcome.String
		e.Reason = reason.String
		e.RequestID = requestID.String
		e.Method = method.String
		e.Path = path.String
		e.IPAddress = ip.String
		e.Message = message.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close is a no-op; the connection belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
