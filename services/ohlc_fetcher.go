package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Defaults applied when a historical schedule carries no config.
var DefaultIntervals = []string{"1m", "5m", "15m", "30m", "1h", "1d"}

const DefaultHistoricalDays = 30

// OHLCFetcher pulls historical bars from the upstream feed and persists
// them to the price store, one request per configured interval.
type OHLCFetcher struct {
	feedURL    string
	httpClient *http.Client
	store      *PriceStore
	log        zerolog.Logger
}

// NewOHLCFetcher creates a new historical data fetcher
func NewOHLCFetcher(feedURL string, store *PriceStore, log zerolog.Logger) *OHLCFetcher {
	return &OHLCFetcher{
		feedURL: feedURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store: store,
		log:   log.With().Str("component", "ohlc_fetcher").Logger(),
	}
}

// feedBarsResponse is the upstream OHLC payload. Numbers arrive as JSON
// numbers and are parsed through decimal before validation.
type feedBarsResponse struct {
	Data []struct {
		Timestamp int64       `json:"timestamp"` // unix seconds
		Open      json.Number `json:"open"`
		High      json.Number `json:"high"`
		Low       json.Number `json:"low"`
		Close     json.Number `json:"close"`
		Volume    int64       `json:"volume"`
	} `json:"data"`
}

// FetchSymbol ingests `days` of history for each interval. It keeps going
// when one interval fails and reports the combined error at the end, so a
// single bad interval does not discard the rest of the fetch.
func (f *OHLCFetcher) FetchSymbol(ctx context.Context, symbol string, intervals []string, days int) (int, error) {
	if len(intervals) == 0 {
		intervals = DefaultIntervals
	}
	if days <= 0 {
		days = DefaultHistoricalDays
	}

	total := 0
	var errs []error
	for _, interval := range intervals {
		n, err := f.fetchInterval(ctx, symbol, interval, days)
		if err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("interval fetch failed")
			errs = append(errs, fmt.Errorf("interval %s: %w", interval, err))
			continue
		}
		total += n
	}

	if len(errs) > 0 {
		return total, errors.Join(errs...)
	}
	f.log.Info().Str("symbol", symbol).Int("bars", total).Int("intervals", len(intervals)).Msg("historical fetch completed")
	return total, nil
}

func (f *OHLCFetcher) fetchInterval(ctx context.Context, symbol, interval string, days int) (int, error) {
	endpoint := fmt.Sprintf("%s/api/ohlc?symbol=%s&interval=%s&days=%d",
		f.feedURL, url.QueryEscape(symbol), url.QueryEscape(interval), days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("feed returned %d: %s", resp.StatusCode, string(body))
	}

	var payload feedBarsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode feed response: %w", err)
	}

	bars := make([]BarDocument, 0, len(payload.Data))
	for _, raw := range payload.Data {
		bar, err := convertBar(symbol, interval, raw.Timestamp, raw.Open, raw.High, raw.Low, raw.Close, raw.Volume)
		if err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("dropping malformed bar")
			continue
		}
		bars = append(bars, bar)
	}

	if err := f.store.UpsertBars(bars); err != nil {
		return 0, fmt.Errorf("failed to persist bars: %w", err)
	}
	return len(bars), nil
}

// convertBar parses prices through decimal and checks OHLC consistency
// before the bar is persisted.
func convertBar(symbol, interval string, ts int64, open, high, low, closing json.Number, volume int64) (BarDocument, error) {
	parse := func(name string, n json.Number) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad %s %q", name, n.String())
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("negative %s %s", name, d)
		}
		return d, nil
	}

	o, err := parse("open", open)
	if err != nil {
		return BarDocument{}, err
	}
	h, err := parse("high", high)
	if err != nil {
		return BarDocument{}, err
	}
	l, err := parse("low", low)
	if err != nil {
		return BarDocument{}, err
	}
	c, err := parse("close", closing)
	if err != nil {
		return BarDocument{}, err
	}

	if h.LessThan(l) {
		return BarDocument{}, fmt.Errorf("high %s below low %s", h, l)
	}
	if o.GreaterThan(h) || o.LessThan(l) || c.GreaterThan(h) || c.LessThan(l) {
		return BarDocument{}, fmt.Errorf("open/close outside high-low range")
	}
	if volume < 0 {
		return BarDocument{}, fmt.Errorf("negative volume %d", volume)
	}

	return BarDocument{
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      o.InexactFloat64(),
		High:      h.InexactFloat64(),
		Low:       l.InexactFloat64(),
		Close:     c.InexactFloat64(),
		Volume:    volume,
	}, nil
}
