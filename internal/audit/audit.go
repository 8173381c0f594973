// Package audit records who started and cancelled optimization runs
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/metrics"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeOptimizationStarted   EventType = "OPTIMIZATION_STARTED"
	EventTypeOptimizationCancelled EventType = "OPTIMIZATION_CANCELLED"
	EventTypeOptimizationRejected  EventType = "OPTIMIZATION_REJECTED"
	EventTypeInvalidInput          EventType = "INVALID_INPUT"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Event represents a single audit log event
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Severity  Severity               `json:"severity"`
	IPAddress string                 `json:"ip_address"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Resource  string                 `json:"resource,omitempty"` // run ID
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error_message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// PoolInterface is the subset of pgxpool.Pool the logger needs
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Logger handles audit logging operations. Events are always logged; they are
// persisted when a pool is set.
type Logger struct {
	db      PoolInterface
	enabled bool
}

// NewLogger creates a new audit logger. db may be nil.
func NewLogger(db PoolInterface, enabled bool) *Logger {
	return &Logger{
		db:      db,
		enabled: enabled,
	}
}

// Persistent reports whether events are stored and can be queried
func (l *Logger) Persistent() bool {
	return l.enabled && l.db != nil
}

// Log records an audit event
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if !l.enabled {
		return nil
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	logEvent := log.With().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.EventType)).
		Str("severity", string(event.Severity)).
		Str("ip_address", event.IPAddress).
		Str("resource", event.Resource).
		Str("action", event.Action).
		Bool("success", event.Success).
		Logger()

	if event.ErrorMsg != "" {
		logEvent = logEvent.With().Str("error", event.ErrorMsg).Logger()
	}

	switch event.Severity {
	case SeverityError:
		logEvent.Error().Msg("Audit event")
	case SeverityWarning:
		logEvent.Warn().Msg("Audit event")
	default:
		logEvent.Info().Msg("Audit event")
	}

	if l.db != nil {
		if err := l.persistEvent(ctx, event); err != nil {
			metrics.RecordAuditEvent(string(event.EventType), false)
			return err
		}
	}

	metrics.RecordAuditEvent(string(event.EventType), true)
	return nil
}

// persistEvent stores the audit event in the database
func (l *Logger) persistEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO audit_logs (
			id, timestamp, event_type, severity, ip_address, user_agent,
			resource, action, success, error_message, metadata, request_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		if metadataJSON, err = json.Marshal(event.Metadata); err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit event metadata")
			metadataJSON = []byte("{}")
		}
	}

	_, err := l.db.Exec(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.EventType),
		string(event.Severity),
		event.IPAddress,
		event.UserAgent,
		event.Resource,
		event.Action,
		event.Success,
		event.ErrorMsg,
		metadataJSON,
		event.RequestID,
	)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.EventType)).
			Msg("Failed to persist audit event to database")
		return fmt.Errorf("failed to persist audit event: %w", err)
	}

	return nil
}

// QueryFilters defines filters for querying audit events
type QueryFilters struct {
	EventType EventType
	Resource  string
	StartTime time.Time
	EndTime   time.Time
	Success   *bool
	Limit     int
}

// Query retrieves audit events newest first. It returns nothing when events are not persisted.
func (l *Logger) Query(ctx context.Context, filters QueryFilters) ([]Event, error) {
	if !l.Persistent() {
		return []Event{}, nil
	}

	query := `
		SELECT
			id, timestamp, event_type, severity, ip_address, user_agent,
			resource, action, success, error_message, metadata, request_id
		FROM audit_logs
		WHERE 1=1
	`
	var args []interface{}
	where := func(clause string, arg interface{}) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if filters.EventType != "" {
		where("event_type =", string(filters.EventType))
	}
	if filters.Resource != "" {
		where("resource =", filters.Resource)
	}
	if !filters.StartTime.IsZero() {
		where("timestamp >=", filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		where("timestamp <=", filters.EndTime)
	}
	if filters.Success != nil {
		where("success =", *filters.Success)
	}

	query += ` ORDER BY timestamp DESC`

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			event                          Event
			eventType, severity            string
			metadataJSON                   []byte
			ipAddress, userAgent, resource *string
			errorMsg, requestID            *string
		)

		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&eventType,
			&severity,
			&ipAddress,
			&userAgent,
			&resource,
			&event.Action,
			&event.Success,
			&errorMsg,
			&metadataJSON,
			&requestID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.EventType = EventType(eventType)
		event.Severity = Severity(severity)
		event.IPAddress = deref(ipAddress)
		event.UserAgent = deref(userAgent)
		event.Resource = deref(resource)
		event.ErrorMsg = deref(errorMsg)
		event.RequestID = deref(requestID)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				log.Warn().Err(err).Msg("Failed to unmarshal audit event metadata")
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LogOptimizationAction records an API action on an optimization run
func (l *Logger) LogOptimizationAction(ctx context.Context, eventType EventType, ipAddress, userAgent, runID string, metadata map[string]interface{}, success bool, errorMsg string) error {
	severity := SeverityInfo
	if !success {
		severity = SeverityWarning
	}

	return l.Log(ctx, &Event{
		EventType: eventType,
		Severity:  severity,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Resource:  runID,
		Action:    actionFor(eventType),
		Success:   success,
		ErrorMsg:  errorMsg,
		Metadata:  metadata,
	})
}

func actionFor(eventType EventType) string {
	switch eventType {
	case EventTypeOptimizationStarted:
		return "Start optimization run"
	case EventTypeOptimizationCancelled:
		return "Cancel optimization run"
	case EventTypeOptimizationRejected:
		return "Reject optimization run"
	case EventTypeInvalidInput:
		return "Reject invalid request"
	default:
		return string(eventType)
	}
}
