package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertBarValid(t *testing.T) {
	bar, err := convertBar("AAPL", "1m", 1700000000,
		json.Number("100.5"), json.Number("101.25"), json.Number("99.75"), json.Number("100.0"), 1200)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", bar.Symbol)
	assert.Equal(t, "1m", bar.Interval)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), bar.Timestamp)
	assert.InDelta(t, 100.5, bar.Open, 1e-9)
	assert.InDelta(t, 101.25, bar.High, 1e-9)
	assert.Equal(t, int64(1200), bar.Volume)
}

func TestConvertBarRejectsInconsistent(t *testing.T) {
	cases := []struct {
		name                    string
		open, high, low, closep string
		volume                  int64
	}{
		{"high below low", "100", "99", "100", "100", 1},
		{"open above high", "102", "101", "99", "100", 1},
		{"close below low", "100", "101", "99", "98", 1},
		{"negative price", "-1", "101", "99", "100", 1},
		{"negative volume", "100", "101", "99", "100", -5},
		{"unparseable", "abc", "101", "99", "100", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := convertBar("AAPL", "1m", 1700000000,
				json.Number(tc.open), json.Number(tc.high), json.Number(tc.low), json.Number(tc.closep), tc.volume)
			assert.Error(t, err)
		})
	}
}

func TestConvertBarFlatBar(t *testing.T) {
	// Zero-range bars happen in thin trading and are valid.
	_, err := convertBar("AAPL", "1d", 1700000000,
		json.Number("100"), json.Number("100"), json.Number("100"), json.Number("100"), 0)
	assert.NoError(t, err)
}

func newDisconnectedStore(t *testing.T) *PriceStore {
	t.Helper()
	store, err := NewPriceStore("", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestFetchSymbolRequestsEachInterval(t *testing.T) {
	var mu sync.Mutex
	intervals := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		intervals[r.URL.Query().Get("interval")]++
		mu.Unlock()

		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		fmt.Fprint(w, `{"data":[
			{"timestamp":1700000000,"open":100,"high":101,"low":99,"close":100.5,"volume":10},
			{"timestamp":1700000060,"open":100.5,"high":102,"low":100,"close":101,"volume":20}
		]}`)
	}))
	defer srv.Close()

	fetcher := NewOHLCFetcher(srv.URL, newDisconnectedStore(t), zerolog.Nop())

	n, err := fetcher.FetchSymbol(context.Background(), "AAPL", []string{"1m", "1h"}, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"1m": 1, "1h": 1}, intervals)
}

func TestFetchSymbolSkipsMalformedBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"timestamp":1700000000,"open":100,"high":99,"low":100,"close":100,"volume":10},
			{"timestamp":1700000060,"open":100,"high":101,"low":99,"close":100,"volume":20}
		]}`)
	}))
	defer srv.Close()

	fetcher := NewOHLCFetcher(srv.URL, newDisconnectedStore(t), zerolog.Nop())

	n, err := fetcher.FetchSymbol(context.Background(), "AAPL", []string{"1m"}, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFetchSymbolContinuesPastFailedInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") == "5m" {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":[{"timestamp":1700000000,"open":100,"high":101,"low":99,"close":100,"volume":10}]}`)
	}))
	defer srv.Close()

	fetcher := NewOHLCFetcher(srv.URL, newDisconnectedStore(t), zerolog.Nop())

	n, err := fetcher.FetchSymbol(context.Background(), "AAPL", []string{"1m", "5m", "15m"}, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval 5m")
	assert.Equal(t, 2, n)
}

func TestFetchSymbolDefaults(t *testing.T) {
	var mu sync.Mutex
	var days []string
	seen := map[string]bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		days = append(days, r.URL.Query().Get("days"))
		seen[r.URL.Query().Get("interval")] = true
		mu.Unlock()
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	fetcher := NewOHLCFetcher(srv.URL, newDisconnectedStore(t), zerolog.Nop())

	_, err := fetcher.FetchSymbol(context.Background(), "AAPL", nil, 0)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(DefaultIntervals))
	for _, d := range days {
		assert.Equal(t, "30", d)
	}
}
