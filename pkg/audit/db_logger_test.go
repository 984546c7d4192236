package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/access"
)

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLogger_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &AuditEvent{
		Timestamp:     ts,
		EventType:     EventTypeAccessDecision,
		PrincipalKind: access.KindUser,
		PrincipalID:   7,
		Resource:      "project:10",
		Feature:       access.FeaturePackageRegistry,
		Action:        access.ActionWrite,
		Outcome:       "forbidden",
		Reason:        "package_protected",
	}

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(ts, "access.decision", "user", int64(7), "project:10", "package_registry", "write",
			nil, "forbidden", "package_protected", nil, nil, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(99), event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errors.New("connection reset"))
	err = logger.Log(context.Background(), &AuditEvent{EventType: EventTypeTokenCreate})
	assert.ErrorContains(t, err, "failed to insert audit event")
}

func TestDBLogger_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "timestamp", "event_type", "principal_kind", "principal_id",
		"resource", "feature", "action", "package_name", "outcome", "reason",
		"request_id", "method", "path", "ip_address", "message"}

	mock.ExpectQuery(`FROM audit_logs WHERE principal_kind = \$1 AND outcome = \$2 ORDER BY timestamp DESC LIMIT \$3`).
		WithArgs("deploy_token", "allow", 100).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, ts, "access.decision", "deploy_token", 3, "group:1", "package_registry", "read",
				nil, "allow", "role_satisfied", "req-1", "GET", "/api/v4/projects/10/packages", "10.0.0.1", nil))

	events, err := logger.Query(context.Background(), Filter{PrincipalKind: "deploy_token", Outcome: "allow"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, access.KindDeployToken, events[0].PrincipalKind)
	assert.Equal(t, int64(3), events[0].PrincipalID)
	assert.Equal(t, access.ActionRead, events[0].Action)
	assert.Empty(t, events[0].PackageName)
	assert.Equal(t, "req-1", events[0].RequestID)
	require.NoError(t, mock.ExpectationsWereMet())
}
