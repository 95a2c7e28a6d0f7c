package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// StaticSource serves series loaded up front, filtered to the requested
// window. The CLI uses it for CSV replays.
type StaticSource struct {
	mu     sync.RWMutex
	series map[string][]tradeflow.Bar
}

func NewStaticSource() *StaticSource {
	return &StaticSource{series: make(map[string][]tradeflow.Bar)}
}

func seriesKey(symbol string, interval tradeflow.Interval) string {
	return symbol + "|" + string(interval)
}

// Add stores bars for symbol and interval, sorted by timestamp.
func (s *StaticSource) Add(symbol string, interval tradeflow.Interval, bars []tradeflow.Bar) {
	cp := append([]tradeflow.Bar(nil), bars...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Timestamp.Before(cp[j].Timestamp) })
	s.mu.Lock()
	s.series[seriesKey(symbol, interval)] = cp
	s.mu.Unlock()
}

func (s *StaticSource) FetchCandles(_ context.Context, symbol string, interval tradeflow.Interval, from, to time.Time) ([]tradeflow.Bar, error) {
	s.mu.RLock()
	all, ok := s.series[seriesKey(symbol, interval)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no candles loaded for %s %s", symbol, interval)
	}
	var out []tradeflow.Bar
	for _, b := range all {
		if b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ReadCSV parses rows of timestamp,open,high,low,close[,volume]. A header
// row is skipped. Timestamps are RFC 3339 or unix milliseconds.
func ReadCSV(r io.Reader) ([]tradeflow.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []tradeflow.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		b, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseRecord(rec []string) (tradeflow.Bar, error) {
	if len(rec) < 5 {
		return tradeflow.Bar{}, fmt.Errorf("expected at least 5 columns, got %d", len(rec))
	}
	ts, err := parseTimestamp(strings.TrimSpace(rec[0]))
	if err != nil {
		return tradeflow.Bar{}, err
	}
	var nums [5]decimal.Decimal
	for i := 1; i < len(rec) && i <= 5; i++ {
		if nums[i-1], err = decimal.NewFromString(strings.TrimSpace(rec[i])); err != nil {
			return tradeflow.Bar{}, fmt.Errorf("column %d: %w", i+1, err)
		}
	}
	return tradeflow.Bar{Timestamp: ts, Open: nums[0], High: nums[1], Low: nums[2], Close: nums[3], Volume: nums[4]}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
