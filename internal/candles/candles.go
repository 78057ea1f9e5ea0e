// Package candles loads historical 1-second BTC OHLC candles from a local
// file, either CSV or newline-delimited JSON. There is no live exchange
// client here by design: historical ingestion from external exchanges is
// out of scope, but the matrix builder needs some runnable input path.
package candles

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Candle is one second of BTC/USD OHLC data.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// LoadFile reads candles from path, dispatching on extension: ".csv" for
// comma-separated `timestamp,open,high,low,close` rows (unix seconds or
// RFC3339 timestamp), anything else treated as NDJSON with the same field
// names. Rows are returned in file order; callers requiring sorted input
// should sort the result.
func LoadFile(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candle file: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		return loadCSV(f)
	}
	return loadNDJSON(f)
}

func loadCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5

	var out []Candle
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading candle csv: %w", err)
		}
		if first {
			first = false
			if _, err := strconv.ParseFloat(rec[1], 64); err != nil {
				// header row, skip
				continue
			}
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("parsing candle timestamp %q: %w", rec[0], err)
		}
		c := Candle{Timestamp: ts}
		if c.Open, err = strconv.ParseFloat(rec[1], 64); err != nil {
			return nil, fmt.Errorf("parsing open %q: %w", rec[1], err)
		}
		if c.High, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, fmt.Errorf("parsing high %q: %w", rec[2], err)
		}
		if c.Low, err = strconv.ParseFloat(rec[3], 64); err != nil {
			return nil, fmt.Errorf("parsing low %q: %w", rec[3], err)
		}
		if c.Close, err = strconv.ParseFloat(rec[4], 64); err != nil {
			return nil, fmt.Errorf("parsing close %q: %w", rec[4], err)
		}
		out = append(out, c)
	}
	return out, nil
}

type ndjsonRow struct {
	Timestamp interface{} `json:"timestamp"`
	Open      float64     `json:"open"`
	High      float64     `json:"high"`
	Low       float64     `json:"low"`
	Close     float64     `json:"close"`
}

func loadNDJSON(r io.Reader) ([]Candle, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []Candle
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row ndjsonRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("parsing candle ndjson line: %w", err)
		}
		ts, err := parseTimestampValue(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing candle ndjson timestamp: %w", err)
		}
		out = append(out, Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning candle ndjson: %w", err)
	}
	return out, nil
}

func parseTimestampValue(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		return parseTimestamp(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if unixSec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unixSec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
