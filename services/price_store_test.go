package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceStoreEmptyURIDisconnected(t *testing.T) {
	store, err := NewPriceStore("", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.False(t, store.Connected())
}

func TestNewPriceStoreConnectFailureStillUsable(t *testing.T) {
	store, err := NewPriceStore("not-a-mongodb-uri", zerolog.Nop())
	require.Error(t, err)
	require.NotNil(t, store, "a failed connect must still hand back a no-op store")
	assert.False(t, store.Connected())

	// Writes and reads degrade to no-ops rather than touching a client.
	assert.NoError(t, store.UpsertBars([]BarDocument{{Symbol: "AAPL", Interval: "1m", Timestamp: time.Now()}}))
	assert.NoError(t, store.InsertTicks([]TickDocument{{Symbol: "AAPL", Timestamp: time.Now()}}))

	_, _, _, found, err := store.BarRange("AAPL", "1m")
	assert.NoError(t, err)
	assert.False(t, found)

	_, found2, err := store.LastTickTime("AAPL")
	assert.NoError(t, err)
	assert.False(t, found2)

	bars, ticks, err := store.TotalDataPoints()
	assert.NoError(t, err)
	assert.Zero(t, bars)
	assert.Zero(t, ticks)

	assert.NoError(t, store.DeleteBarsBefore(time.Now()))
	assert.NoError(t, store.Close())
}

func TestFetchSymbolWithFailedStoreConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"timestamp":1700000000,"open":100,"high":101,"low":99,"close":100,"volume":10}]}`)
	}))
	defer srv.Close()

	store, err := NewPriceStore("not-a-mongodb-uri", zerolog.Nop())
	require.Error(t, err)

	fetcher := NewOHLCFetcher(srv.URL, store, zerolog.Nop())
	n, err := fetcher.FetchSymbol(context.Background(), "AAPL", []string{"1m"}, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
