package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Candle is one OHLCV bar
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// CandleSource supplies historical bars in ascending time order.
// A zero start or end leaves that side of the range open.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
}

// MemorySource is an in-memory CandleSource keyed by symbol. The interval is ignored.
type MemorySource struct {
	mu      sync.RWMutex
	candles map[string][]Candle
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{candles: make(map[string][]Candle)}
}

// Add stores bars for a symbol, keeping them sorted by time
func (s *MemorySource) Add(symbol string, candles ...Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(s.candles[symbol], candles...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	s.candles[symbol] = merged
}

// Candles implements CandleSource
func (s *MemorySource) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all, ok := s.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}

	out := make([]Candle, 0, len(all))
	for _, c := range all {
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// closes extracts closing prices
func closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
