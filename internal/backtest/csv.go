package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// csvHeader is the expected column order of candle files
var csvHeader = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// ReadCSV parses candles in timestamp,symbol,open,high,low,close,volume order.
// Timestamps are unix seconds or RFC3339. Incomplete or unparsable rows are skipped.
func ReadCSV(r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < len(csvHeader) {
		return nil, fmt.Errorf("invalid CSV header: expected %v, got %v", csvHeader, header)
	}

	var candles []Candle
	lineNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNum++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record at line %d: %w", lineNum, err)
		}
		if len(record) < len(csvHeader) {
			log.Warn().Int("line", lineNum).Msg("Skipping incomplete CSV record")
			continue
		}

		c, err := parseCandle(record)
		if err != nil {
			log.Warn().Err(err).Int("line", lineNum).Msg("Skipping invalid CSV record")
			continue
		}
		candles = append(candles, c)
	}

	return candles, nil
}

func parseCandle(record []string) (Candle, error) {
	var ts time.Time
	if unix, err := strconv.ParseInt(record[0], 10, 64); err == nil {
		ts = time.Unix(unix, 0).UTC()
	} else if parsed, err := time.Parse(time.RFC3339, record[0]); err == nil {
		ts = parsed.UTC()
	} else {
		return Candle{}, fmt.Errorf("invalid timestamp %q", record[0])
	}

	var values [5]float64
	for i := range values {
		v, err := strconv.ParseFloat(record[2+i], 64)
		if err != nil {
			return Candle{}, fmt.Errorf("invalid %s %q", csvHeader[2+i], record[2+i])
		}
		values[i] = v
	}

	return Candle{
		Symbol:    record[1],
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// LoadCSV reads a candle file
func LoadCSV(path string) ([]Candle, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	return ReadCSV(file)
}

// LoadCSVDir builds an in-memory source from every *.csv file of dir
func LoadCSVDir(dir string) (*MemorySource, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list candle files: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no candle files in %s", dir)
	}

	src := NewMemorySource()
	for _, path := range paths {
		candles, err := LoadCSV(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		bySymbol := make(map[string][]Candle)
		for _, c := range candles {
			bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
		}
		for symbol, cs := range bySymbol {
			src.Add(symbol, cs...)
		}
		log.Info().Str("file", filepath.Base(path)).Int("candles", len(candles)).Msg("Loaded candle file")
	}
	return src, nil
}
