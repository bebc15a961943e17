// Package bars provides historical bar sources for backtesting.
package bars

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantforge/tradebot/internal/domain"
)

// CSVSource implements ports.BarSource reading candle files from a
// directory. Files are named <symbol>-<timeframe>.csv with '/' in the
// symbol replaced by '_', e.g. BTC_USDT-1h.csv. Rows are
// timestamp,open,high,low,close,volume where timestamp is unix seconds,
// unix milliseconds or RFC 3339. A header row is skipped if present.
type CSVSource struct {
	dir string
}

// NewCSVSource creates a source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// FetchBars loads the series for symbol/timeframe and returns the bars
// with timestamps inside [from, to], sorted chronologically. Zero
// bounds widen the range to everything.
func (s *CSVSource) FetchBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error) {
	path := s.path(symbol, timeframe)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bars.FetchBars: open %q: %w", path, err)
	}
	defer f.Close()

	bars, err := ReadBars(f)
	if err != nil {
		return nil, fmt.Errorf("bars.FetchBars: %q: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	filtered := bars[:0]
	for _, b := range bars {
		if b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered, nil
}

func (s *CSVSource) path(symbol, timeframe string) string {
	name := strings.ReplaceAll(symbol, "/", "_") + "-" + timeframe + ".csv"
	return s.dir + string(os.PathSeparator) + name
}

// ReadBars parses candle rows from r and returns them sorted by
// timestamp ascending.
func ReadBars(r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var bars []domain.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line+1, err)
		}
		line++

		if len(record) < 6 {
			return nil, fmt.Errorf("line %d: want 6 columns, got %d", line, len(record))
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}

		var vals [5]float64
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %d: %w", line, i+2, err)
			}
			vals[i] = v
		}

		bars = append(bars, domain.Bar{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// parseTimestamp accepts unix seconds, unix milliseconds and RFC 3339.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
