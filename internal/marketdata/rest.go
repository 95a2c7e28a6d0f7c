// Package marketdata fetches OHLCV candles and caches them per
// (symbol, interval, from, to) window.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.MarketData = (*RESTSource)(nil)

const (
	defaultBaseURL   = "https://api.binance.com"
	defaultPageLimit = 1000
)

// RESTSource reads klines from a Binance-compatible REST endpoint
// (GET /api/v3/klines), paging until the window is covered.
type RESTSource struct {
	BaseURL   string
	Client    *http.Client
	PageLimit int
}

// NewRESTSource creates a source. An empty baseURL uses the public Binance
// API.
func NewRESTSource(baseURL string, timeout time.Duration) *RESTSource {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *RESTSource) FetchCandles(ctx context.Context, symbol string, interval tradeflow.Interval, from, to time.Time) ([]tradeflow.Bar, error) {
	width, err := interval.Duration()
	if err != nil {
		return nil, err
	}
	limit := s.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	var out []tradeflow.Bar
	start := from
	for !start.After(to) {
		page, err := s.page(ctx, symbol, interval, start, to, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < limit {
			break
		}
		start = page[len(page)-1].Timestamp.Add(width)
	}
	return out, nil
}

func (s *RESTSource) page(ctx context.Context, symbol string, interval tradeflow.Interval, from, to time.Time, limit int) ([]tradeflow.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("klines %s %s: status %d: %s", symbol, interval, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	bars := make([]tradeflow.Bar, 0, len(rows))
	for i, row := range rows {
		b, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// parseKline reads [openTime, open, high, low, close, volume, ...].
func parseKline(row []json.RawMessage) (tradeflow.Bar, error) {
	if len(row) < 6 {
		return tradeflow.Bar{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return tradeflow.Bar{}, fmt.Errorf("open time: %w", err)
	}
	var fields [5]decimal.Decimal
	for i := range fields {
		if err := json.Unmarshal(row[i+1], &fields[i]); err != nil {
			return tradeflow.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return tradeflow.Bar{
		Timestamp: time.UnixMilli(openTime).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}
