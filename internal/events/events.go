// Package events publishes optimization progress on NATS so other services can follow runs
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// Subject suffixes
const (
	SuffixGeneration = "generation"
	SuffixCompleted  = "completed"
)

// GenerationEvent is published after every evaluated generation
type GenerationEvent struct {
	ID          uuid.UUID              `json:"id"`
	RunID       uuid.UUID              `json:"run_id"`
	Strategy    string                 `json:"strategy"`
	Generation  int                    `json:"generation"`
	Generations int                    `json:"generations"`
	MaxFitness  float64                `json:"max_fitness"`
	MeanFitness float64                `json:"mean_fitness"`
	BestParams  evolution.ParameterSet `json:"best_params,omitempty"`
	Evaluated   int                    `json:"evaluated"`
	Failed      int                    `json:"failed"`
	DurationMS  int64                  `json:"duration_ms"`
	Timestamp   time.Time              `json:"timestamp"`
}

// RunEvent is published once a run has finished
type RunEvent struct {
	ID          uuid.UUID              `json:"id"`
	RunID       uuid.UUID              `json:"run_id"`
	Strategy    string                 `json:"strategy"`
	BestFitness float64                `json:"best_fitness"`
	BestParams  evolution.ParameterSet `json:"best_params,omitempty"`
	BestMetrics *evolution.Metrics     `json:"best_metrics,omitempty"`
	Generations int                    `json:"generations"`
	Evaluations int                    `json:"evaluations"`
	Failures    int                    `json:"failures"`
	DurationMS  int64                  `json:"duration_ms"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Publisher publishes run progress. It implements evolution.Observer.
type Publisher struct {
	nc       *nats.Conn
	prefix   string
	ownsConn bool
	log      zerolog.Logger
}

// NewPublisher connects to NATS and returns a publisher using cfg.SubjectPrefix
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("paramforge-optimizer"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := NewPublisherWithConn(nc, cfg.SubjectPrefix)
	p.ownsConn = true

	p.log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", p.prefix).
		Msg("Event publisher initialized")

	return p, nil
}

// NewPublisherWithConn publishes on an existing connection, which the caller keeps owning
func NewPublisherWithConn(nc *nats.Conn, prefix string) *Publisher {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "paramforge"
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		log:    log.With().Str("component", "events").Logger(),
	}
}

// GenerationSubject is <prefix>.<strategy>.generation; strategy may be "*"
func GenerationSubject(prefix, strategy string) string {
	return subject(prefix, strategy, SuffixGeneration)
}

// CompletedSubject is <prefix>.<strategy>.completed; strategy may be "*"
func CompletedSubject(prefix, strategy string) string {
	return subject(prefix, strategy, SuffixCompleted)
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", ">", "_")

func subject(prefix, strategy, suffix string) string {
	if strategy != "*" {
		strategy = tokenReplacer.Replace(strategy)
	}
	return fmt.Sprintf("%s.%s.%s", strings.TrimSuffix(prefix, "."), strategy, suffix)
}

// GenerationCompleted publishes a GenerationEvent
func (p *Publisher) GenerationCompleted(ctx context.Context, run evolution.RunInfo, record evolution.GenerationRecord) error {
	event := GenerationEvent{
		ID:          uuid.New(),
		RunID:       run.ID,
		Strategy:    run.Strategy,
		Generation:  record.Generation,
		Generations: run.Config.GenerationCount,
		MaxFitness:  record.MaxFitness,
		MeanFitness: record.MeanFitness,
		BestParams:  record.BestParams,
		Evaluated:   record.Evaluated,
		Failed:      record.Failed,
		DurationMS:  record.Duration.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
	return p.publish(ctx, GenerationSubject(p.prefix, run.Strategy), event)
}

// RunCompleted publishes a RunEvent
func (p *Publisher) RunCompleted(ctx context.Context, run evolution.RunInfo, result *evolution.Result) error {
	event := RunEvent{
		ID:          uuid.New(),
		RunID:       run.ID,
		Strategy:    run.Strategy,
		BestFitness: evolution.SentinelFitness,
		Generations: len(result.History),
		Evaluations: result.Evaluations,
		Failures:    result.Failures,
		DurationMS:  result.Duration.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
	if result.Best != nil {
		event.BestFitness = result.Best.Fitness
		event.BestParams = result.Best.Params
		event.BestMetrics = result.Best.Metrics
	}
	return p.publish(ctx, CompletedSubject(p.prefix, run.Strategy), event)
}

func (p *Publisher) publish(ctx context.Context, subject string, event interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("event publisher not connected")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("Published event")
	return nil
}

// Close drains the connection if the publisher opened it
func (p *Publisher) Close() error {
	if !p.ownsConn || p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// Subscribe decodes every message on subject as T and passes it to handler.
// Undecodable messages and handler errors are logged and skipped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(*T) error) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event")
			return
		}
		if err := handler(&event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("Event handler error")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}
