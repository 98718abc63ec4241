package services

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Timeframes checked for availability, smallest first.
var availabilityTimeframes = []string{
	"1m", "5m", "10m", "15m", "30m", "45m",
	"1h", "1d",
}

const availabilityCacheTTL = 5 * time.Minute

// TimeframeAvailability describes the stored data range for one timeframe
// of one symbol.
type TimeframeAvailability struct {
	FirstTimestamp *time.Time `json:"first_timestamp"`
	LastTimestamp  *time.Time `json:"last_timestamp"`
	DurationDays   int        `json:"duration_days"`
	DataPoints     int64      `json:"data_points"`
	Error          string     `json:"error,omitempty"`
}

// IngestionStats summarizes the whole ingestion system for the admin
// dashboard.
type IngestionStats struct {
	TotalSymbols  int64      `json:"total_symbols"`
	ActiveSymbols int64      `json:"active_symbols"`
	TotalBars     int64      `json:"total_bars"`
	TotalTicks    int64      `json:"total_ticks"`
	ActiveRuns    int        `json:"active_runs"`
	LastUpdate    *time.Time `json:"last_update"`
}

// DataMonitor aggregates data-availability statistics across timeframes,
// with a short-lived cache in front of the price store.
type DataMonitor struct {
	store   *PriceStore
	symbols *SymbolService // may be nil when the database is down
	log     zerolog.Logger

	mu        sync.RWMutex
	cache     map[string]map[string]TimeframeAvailability
	cacheTime map[string]time.Time
}

// NewDataMonitor creates a data monitor
func NewDataMonitor(store *PriceStore, symbols *SymbolService, log zerolog.Logger) *DataMonitor {
	return &DataMonitor{
		store:     store,
		symbols:   symbols,
		log:       log.With().Str("component", "data_monitor").Logger(),
		cache:     make(map[string]map[string]TimeframeAvailability),
		cacheTime: make(map[string]time.Time),
	}
}

// SetSymbolService attaches the symbol service once the database is up.
func (m *DataMonitor) SetSymbolService(symbols *SymbolService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = symbols
}

// SymbolAvailability returns the per-timeframe data ranges for a symbol.
func (m *DataMonitor) SymbolAvailability(symbol string) map[string]TimeframeAvailability {
	m.mu.RLock()
	if cached, ok := m.cache[symbol]; ok && time.Since(m.cacheTime[symbol]) < availabilityCacheTTL {
		m.mu.RUnlock()
		return cached
	}
	m.mu.RUnlock()

	availability := make(map[string]TimeframeAvailability, len(availabilityTimeframes))
	for _, tf := range availabilityTimeframes {
		first, last, count, found, err := m.store.BarRange(symbol, tf)
		switch {
		case err != nil:
			m.log.Error().Err(err).Str("symbol", symbol).Str("timeframe", tf).Msg("availability query failed")
			availability[tf] = TimeframeAvailability{Error: err.Error()}
		case !found:
			availability[tf] = TimeframeAvailability{}
		default:
			f, l := first, last
			availability[tf] = TimeframeAvailability{
				FirstTimestamp: &f,
				LastTimestamp:  &l,
				DurationDays:   int(last.Sub(first).Hours() / 24),
				DataPoints:     count,
			}
		}
	}

	m.mu.Lock()
	m.cache[symbol] = availability
	m.cacheTime[symbol] = time.Now()
	m.mu.Unlock()
	return availability
}

// Stats returns overall ingestion statistics.
func (m *DataMonitor) Stats(activeRuns int) (*IngestionStats, error) {
	stats := &IngestionStats{ActiveRuns: activeRuns}

	m.mu.RLock()
	symbols := m.symbols
	m.mu.RUnlock()

	if symbols != nil {
		total, active, err := symbols.Counts()
		if err != nil {
			return nil, err
		}
		stats.TotalSymbols = total
		stats.ActiveSymbols = active
	}

	bars, ticks, err := m.store.TotalDataPoints()
	if err != nil {
		return nil, err
	}
	stats.TotalBars = bars
	stats.TotalTicks = ticks

	if now := time.Now(); bars > 0 || ticks > 0 {
		stats.LastUpdate = &now
	}
	return stats, nil
}

// RefreshCache drops cached availability so the next query hits the
// store; driven by the maintenance scheduler after market close.
func (m *DataMonitor) RefreshCache() error {
	m.mu.Lock()
	m.cache = make(map[string]map[string]TimeframeAvailability)
	m.cacheTime = make(map[string]time.Time)
	m.mu.Unlock()
	return nil
}

// EstimateDataPoints approximates how many bars a timeframe should hold
// over a date range, assuming 6.5 market hours a day, 5 days a week.
func EstimateDataPoints(start, end time.Time, timeframe string) int64 {
	seconds := timeframeSeconds(timeframe)
	if seconds <= 0 {
		return 0
	}

	total := end.Sub(start).Seconds()
	marketSeconds := total * (6.5 / 24) * (5.0 / 7)
	if marketSeconds < 0 {
		return 0
	}
	return int64(marketSeconds / float64(seconds))
}

func timeframeSeconds(tf string) int {
	if len(tf) < 2 {
		return 0
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0
	}
	switch tf[len(tf)-1] {
	case 's':
		return n
	case 'm':
		return n * 60
	case 'h':
		return n * 3600
	case 'd':
		return n * 86400
	default:
		return 0
	}
}
