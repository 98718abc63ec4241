package services

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolAvailabilityDisconnectedStore(t *testing.T) {
	monitor := NewDataMonitor(newDisconnectedStore(t), nil, zerolog.Nop())

	availability := monitor.SymbolAvailability("AAPL")
	require.Len(t, availability, len(availabilityTimeframes))
	for tf, a := range availability {
		assert.Nil(t, a.FirstTimestamp, tf)
		assert.Zero(t, a.DataPoints, tf)
		assert.Empty(t, a.Error, tf)
	}
}

func TestSymbolAvailabilityCaches(t *testing.T) {
	monitor := NewDataMonitor(newDisconnectedStore(t), nil, zerolog.Nop())

	first := monitor.SymbolAvailability("AAPL")
	monitor.mu.RLock()
	_, cached := monitor.cache["AAPL"]
	monitor.mu.RUnlock()
	assert.True(t, cached)

	// Cached result is returned as-is until refresh.
	second := monitor.SymbolAvailability("AAPL")
	assert.Equal(t, first, second)

	require.NoError(t, monitor.RefreshCache())
	monitor.mu.RLock()
	_, cached = monitor.cache["AAPL"]
	monitor.mu.RUnlock()
	assert.False(t, cached)
}

func TestStatsWithoutDatabase(t *testing.T) {
	monitor := NewDataMonitor(newDisconnectedStore(t), nil, zerolog.Nop())

	stats, err := monitor.Stats(3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ActiveRuns)
	assert.Zero(t, stats.TotalSymbols)
	assert.Zero(t, stats.TotalBars)
	assert.Nil(t, stats.LastUpdate)
}

func TestEstimateDataPoints(t *testing.T) {
	start := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

	// One full week holds five 6.5-hour sessions of 1-minute bars.
	week := EstimateDataPoints(start, start.AddDate(0, 0, 7), "1m")
	assert.InDelta(t, 5*6.5*60, float64(week), 1)

	assert.Zero(t, EstimateDataPoints(start, start.AddDate(0, 0, 7), "bogus"))
	assert.Zero(t, EstimateDataPoints(start.AddDate(0, 0, 7), start, "1m"))
}

func TestTimeframeSeconds(t *testing.T) {
	cases := map[string]int{
		"1m":  60,
		"5m":  300,
		"1h":  3600,
		"1d":  86400,
		"30s": 30,
		"x":   0,
		"m":   0,
		"-5m": 0,
	}
	for tf, want := range cases {
		assert.Equal(t, want, timeframeSeconds(tf), tf)
	}
}
