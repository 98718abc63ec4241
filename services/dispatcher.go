package services

import (
	"context"
	"time"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"

	"github.com/rs/zerolog"
)

// IngestionDispatcher implements scheduler.Dispatcher on top of the OHLC
// fetcher and the live stream manager. Historical fetches run in their own
// goroutine and report lifecycle through the scheduler's event channel;
// only parameter validation and websocket dialing fail synchronously.
type IngestionDispatcher struct {
	fetcher *OHLCFetcher
	live    *LiveStreamManager
	symbols *SymbolService // may be nil when the database is down
	events  chan<- scheduler.RunEvent
	log     zerolog.Logger
}

// NewIngestionDispatcher creates the dispatcher used by the scheduler loop.
func NewIngestionDispatcher(fetcher *OHLCFetcher, live *LiveStreamManager, symbols *SymbolService, events chan<- scheduler.RunEvent, log zerolog.Logger) *IngestionDispatcher {
	return &IngestionDispatcher{
		fetcher: fetcher,
		live:    live,
		symbols: symbols,
		events:  events,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
}

// SetSymbolService attaches the symbol service once the database is up.
func (d *IngestionDispatcher) SetSymbolService(symbols *SymbolService) {
	d.symbols = symbols
}

// StartHistoricalFetch launches the fetch and returns immediately.
func (d *IngestionDispatcher) StartHistoricalFetch(runID, symbol string, cfg models.ScheduleConfig) error {
	go func() {
		d.events <- scheduler.RunEvent{RunID: runID, Type: scheduler.RunEventStarted}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		bars, err := d.fetcher.FetchSymbol(ctx, symbol, cfg.Intervals, cfg.HistoricalDays)
		if err != nil {
			d.events <- scheduler.RunEvent{
				RunID:   runID,
				Type:    scheduler.RunEventFinished,
				Outcome: models.RunStateFailed,
				Err:     err,
			}
			return
		}

		if d.symbols != nil {
			if err := d.symbols.TouchLastIngestion(symbol); err != nil {
				d.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to record last ingestion")
			}
		}
		d.log.Info().Str("symbol", symbol).Str("run_id", runID).Int("bars", bars).Msg("historical run finished")
		d.events <- scheduler.RunEvent{
			RunID:   runID,
			Type:    scheduler.RunEventFinished,
			Outcome: models.RunStateSucceeded,
		}
	}()
	return nil
}

// StartLiveStream subscribes the symbol on the tick feed.
func (d *IngestionDispatcher) StartLiveStream(runID, symbol string, cfg models.ScheduleConfig) error {
	minutes := cfg.BackfillMinutes
	if minutes == 0 && d.symbols != nil {
		if sym, err := d.symbols.GetBySymbol(symbol); err == nil {
			minutes = sym.BackfillMinutes
		}
	}
	return d.live.Start(runID, symbol, minutes)
}

// StopLiveStream closes the symbol's stream.
func (d *IngestionDispatcher) StopLiveStream(symbol string) error {
	return d.live.Stop(symbol)
}
