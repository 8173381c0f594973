package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Querier is the query subset of pgxpool.Pool
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Updater periodically refreshes gauges derived from the database
type Updater struct {
	db       Querier
	stat     func() *pgxpool.Stat
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a metrics updater reading from pool
func NewUpdater(pool *pgxpool.Pool, interval time.Duration) *Updater {
	return newUpdater(pool, pool.Stat, interval)
}

func newUpdater(db Querier, stat func() *pgxpool.Stat, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		stat:     stat,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the update loop until Stop is called or ctx is done
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	u.updateRunMetrics(ctx)
	u.updateDatabaseMetrics()
}

// updateRunMetrics counts persisted runs by status
func (u *Updater) updateRunMetrics(ctx context.Context) {
	rows, err := u.db.Query(ctx, `SELECT status, COUNT(*) FROM evolution_runs GROUP BY status`)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch run metrics")
		return
	}
	defer rows.Close()

	StoredRuns.Reset()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			log.Error().Err(err).Msg("Failed to scan run metrics")
			return
		}
		StoredRuns.WithLabelValues(status).Set(float64(count))
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error iterating run metrics")
	}
}

// updateDatabaseMetrics updates database pool metrics
func (u *Updater) updateDatabaseMetrics() {
	if u.stat == nil {
		return
	}
	stat := u.stat()
	if stat == nil {
		return
	}
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
