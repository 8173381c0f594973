package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/paramforge/internal/backtest"
)

// CandleRepository reads OHLCV bars from the candlesticks table.
// It implements backtest.CandleSource.
type CandleRepository struct {
	pool PoolInterface
}

// NewCandleRepository creates a candle repository
func NewCandleRepository(pool PoolInterface) *CandleRepository {
	return &CandleRepository{pool: pool}
}

// Candles returns the bars of symbol in [start, end], oldest first. Zero bounds are open.
func (r *CandleRepository) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]backtest.Candle, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT time, open, high, low, close, volume FROM candlesticks WHERE symbol = $1 AND timeframe = $2`)
	args := []interface{}{symbol, interval}

	if !start.IsZero() {
		args = append(args, start)
		fmt.Fprintf(&sb, " AND time >= $%d", len(args))
	}
	if !end.IsZero() {
		args = append(args, end)
		fmt.Fprintf(&sb, " AND time <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY time ASC")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candlesticks: %w", err)
	}
	defer rows.Close()

	var candles []backtest.Candle
	for rows.Next() {
		c := backtest.Candle{Symbol: symbol}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candlestick: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candlesticks: %w", err)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candlesticks found for %s (%s)", symbol, interval)
	}
	return candles, nil
}

// Insert upserts bars at interval, keyed by each bar's symbol and timestamp
func (r *CandleRepository) Insert(ctx context.Context, interval string, candles []backtest.Candle) (int64, error) {
	query := `
		INSERT INTO candlesticks (time, symbol, timeframe, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, time) DO UPDATE
		SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume
	`

	var inserted int64
	for _, c := range candles {
		tag, err := r.pool.Exec(ctx, query, c.Timestamp, c.Symbol, interval, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert candlestick %s@%s: %w", c.Symbol, c.Timestamp.Format(time.RFC3339), err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

var _ backtest.CandleSource = (*CandleRepository)(nil)
