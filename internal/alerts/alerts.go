// Package alerts raises operator alerts about optimization runs
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Kind identifies the run condition that raised an alert
type Kind string

const (
	KindGenerationFailed Kind = "generation_failed"
	KindHighFailureRate  Kind = "high_failure_rate"
	KindNoImprovement    Kind = "no_improvement"
)

// RunScope is the Generation of alerts about a whole run
const RunScope = -1

// Alert describes a condition of one optimization run
type Alert struct {
	Kind      Kind
	Severity  Severity
	Title     string
	Message   string
	Timestamp time.Time

	RunID    uuid.UUID
	Strategy string
	// Generation is RunScope for run level alerts
	Generation int
	// Evaluated and Failed count the generation's evaluations, or the whole run's
	Evaluated int
	Failed    int
	// BestFitness is set on run level alerts
	BestFitness float64
}

// Field is one named detail of an alert
type Field struct {
	Name  string
	Value string
}

// Fields lists the run details of the alert in display order
func (a Alert) Fields() []Field {
	fields := []Field{
		{"run_id", a.RunID.String()},
		{"strategy", a.Strategy},
	}
	if a.Generation != RunScope {
		fields = append(fields, Field{"generation", strconv.Itoa(a.Generation)})
	}
	fields = append(fields,
		Field{"evaluated", strconv.Itoa(a.Evaluated)},
		Field{"failed", strconv.Itoa(a.Failed)},
	)
	if a.Generation == RunScope {
		fields = append(fields, Field{"best_fitness", strconv.FormatFloat(a.BestFitness, 'f', 4, 64)})
	}
	return fields
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to multiple channels
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send delivers the alert to every alerter. A failing alerter does not stop
// the others; all failures are joined into the returned error.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var errs []error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("alert_kind", string(alert.Kind)).
				Str("run_id", alert.RunID.String()).
				Msg("Failed to send alert")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send logs the alert at the level matching its severity
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	var event *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	default:
		event = log.Log()
	}

	for _, f := range alert.Fields() {
		event = event.Str(f.Name, f.Value)
	}

	event.
		Str("alert_kind", string(alert.Kind)).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("ALERT: %s", alert.Message))

	return nil
}
