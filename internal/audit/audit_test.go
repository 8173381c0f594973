package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/paramforge/internal/metrics"
)

var auditColumns = []string{
	"id", "timestamp", "event_type", "severity", "ip_address", "user_agent",
	"resource", "action", "success", "error_message", "metadata", "request_id",
}

func TestLogger_LogWithoutDatabase(t *testing.T) {
	logger := NewLogger(nil, true)
	assert.False(t, logger.Persistent())

	event := &Event{
		EventType: EventTypeOptimizationStarted,
		IPAddress: "192.168.1.1",
		Action:    "Start optimization run",
		Success:   true,
	}

	require.NoError(t, logger.Log(context.Background(), event))

	// defaults are filled in
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, SeverityInfo, event.Severity)
}

func TestLogger_Disabled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	logger := NewLogger(mock, false)
	assert.False(t, logger.Persistent())

	event := &Event{EventType: EventTypeOptimizationStarted, Success: true}
	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, uuid.Nil, event.ID, "disabled logger leaves the event untouched")

	events, err := logger.Query(context.Background(), QueryFilters{})
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_Persist(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New().String()
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "OPTIMIZATION_STARTED", "INFO", "10.0.0.1", "curl/8.0",
			runID, "Start optimization run", true, "", []byte(`{"strategy":"ema_crossover"}`), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	before := testutil.ToFloat64(metrics.AuditEvents.WithLabelValues("OPTIMIZATION_STARTED", metrics.ResultSuccess))

	logger := NewLogger(mock, true)
	assert.True(t, logger.Persistent())
	err = logger.LogOptimizationAction(context.Background(), EventTypeOptimizationStarted, "10.0.0.1", "curl/8.0", runID,
		map[string]interface{}{"strategy": "ema_crossover"}, true, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	after := testutil.ToFloat64(metrics.AuditEvents.WithLabelValues("OPTIMIZATION_STARTED", metrics.ResultSuccess))
	assert.Equal(t, before+1, after)
}

func TestLogger_PersistError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	logger := NewLogger(mock, true)
	err = logger.LogOptimizationAction(context.Background(), EventTypeOptimizationCancelled, "10.0.0.1", "", "run", nil, false, "run not found")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist audit event")
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.AuditEvents.WithLabelValues("OPTIMIZATION_CANCELLED", metrics.ResultFailed)), 1.0)
}

func TestLogger_Query(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ip := "10.0.0.1"
	runID := "run-1"
	rows := pgxmock.NewRows(auditColumns).
		AddRow(id, ts, "OPTIMIZATION_CANCELLED", "WARNING", &ip, nil, &runID,
			"Cancel optimization run", false, nil, []byte(`{"status":"completed"}`), nil)

	success := false
	mock.ExpectQuery(`FROM audit_logs\s+WHERE 1=1\s+AND resource = \$1\s+AND success = \$2\s+ORDER BY timestamp DESC\s+LIMIT \$3`).
		WithArgs("run-1", false, 10).
		WillReturnRows(rows)

	logger := NewLogger(mock, true)
	events, err := logger.Query(context.Background(), QueryFilters{Resource: "run-1", Success: &success, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, id, e.ID)
	assert.Equal(t, EventTypeOptimizationCancelled, e.EventType)
	assert.Equal(t, SeverityWarning, e.Severity)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Empty(t, e.UserAgent)
	assert.Equal(t, "run-1", e.Resource)
	assert.False(t, e.Success)
	assert.Equal(t, "completed", e.Metadata["status"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_QueryAllFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	mock.ExpectQuery(`event_type = \$1\s+AND timestamp >= \$2\s+AND timestamp <= \$3\s+ORDER BY timestamp DESC$`).
		WithArgs("INVALID_INPUT", start, end).
		WillReturnRows(pgxmock.NewRows(auditColumns))

	logger := NewLogger(mock, true)
	events, err := logger.Query(context.Background(), QueryFilters{
		EventType: EventTypeInvalidInput,
		StartTime: start,
		EndTime:   end,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogOptimizationAction_Severity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "OPTIMIZATION_REJECTED", "WARNING", "", "", "",
			"Reject optimization run", false, "too many active runs", pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	logger := NewLogger(mock, true)
	require.NoError(t, logger.LogOptimizationAction(context.Background(), EventTypeOptimizationRejected, "", "", "", nil, false, "too many active runs"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, "Start optimization run", actionFor(EventTypeOptimizationStarted))
	assert.Equal(t, "Reject invalid request", actionFor(EventTypeInvalidInput))
	assert.Equal(t, "CUSTOM", actionFor("CUSTOM"))
}
