package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Live stream tuning
const (
	LiveWriteTimeout  = 10 * time.Second
	LivePongTimeout   = 60 * time.Second
	LivePingInterval  = 30 * time.Second
	TickFlushInterval = 5 * time.Second
	TickFlushBatch    = 200
)

// liveTick is the upstream tick wire format.
type liveTick struct {
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp float64 `json:"timestamp"` // unix seconds, fractional
}

// liveStream is one active websocket subscription.
type liveStream struct {
	symbol string
	runID  string
	conn   *websocket.Conn

	mu            sync.Mutex
	stopRequested bool
}

func (s *liveStream) requestStop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop requested"),
		time.Now().Add(LiveWriteTimeout))
	_ = s.conn.Close()
}

func (s *liveStream) wasStopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// LiveStreamManager owns the websocket subscriptions to the upstream tick
// feed, one per symbol. Ticks are buffered and flushed to the price store
// in batches. Completion is reported asynchronously on the scheduler's
// event channel; a requested stop ends the read loop silently because the
// scheduler already recorded the stopped outcome.
type LiveStreamManager struct {
	wsURL      string
	feedURL    string
	store      *PriceStore
	httpClient *http.Client
	events     chan<- scheduler.RunEvent
	log        zerolog.Logger

	mu      sync.Mutex
	streams map[string]*liveStream
}

// NewLiveStreamManager creates a live stream manager
func NewLiveStreamManager(wsURL, feedURL string, store *PriceStore, events chan<- scheduler.RunEvent, log zerolog.Logger) *LiveStreamManager {
	return &LiveStreamManager{
		wsURL:   wsURL,
		feedURL: feedURL,
		store:   store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		events:  events,
		streams: make(map[string]*liveStream),
		log:     log.With().Str("component", "live_stream").Logger(),
	}
}

// Start dials the feed and subscribes to a symbol's ticks. A dial or
// subscribe failure is returned synchronously; after that, lifecycle is
// reported through run events.
func (m *LiveStreamManager) Start(runID, symbol string, backfillMinutes int) error {
	m.mu.Lock()
	if _, exists := m.streams[symbol]; exists {
		m.mu.Unlock()
		return fmt.Errorf("live stream for %s already active", symbol)
	}
	m.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial tick feed: %w", err)
	}

	sub := map[string]string{"action": "subscribe", "symbol": symbol}
	conn.SetWriteDeadline(time.Now().Add(LiveWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe %s: %w", symbol, err)
	}

	stream := &liveStream{symbol: symbol, runID: runID, conn: conn}
	m.mu.Lock()
	m.streams[symbol] = stream
	m.mu.Unlock()

	go m.run(stream, backfillMinutes)
	return nil
}

// Stop closes the symbol's stream. Stopping a symbol with no active
// stream is a no-op.
func (m *LiveStreamManager) Stop(symbol string) error {
	m.mu.Lock()
	stream, ok := m.streams[symbol]
	if ok {
		delete(m.streams, symbol)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	stream.requestStop()
	m.log.Info().Str("symbol", symbol).Msg("live stream stop requested")
	return nil
}

// StopAll closes every stream; used during shutdown.
func (m *LiveStreamManager) StopAll() {
	m.mu.Lock()
	streams := make([]*liveStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.streams = make(map[string]*liveStream)
	m.mu.Unlock()

	for _, s := range streams {
		s.requestStop()
	}
}

func (m *LiveStreamManager) run(stream *liveStream, backfillMinutes int) {
	if backfillMinutes > 0 {
		if err := m.backfill(stream.symbol, backfillMinutes); err != nil {
			// Backfill is best-effort: the live subscription still counts.
			m.log.Warn().Err(err).Str("symbol", stream.symbol).Msg("intraday backfill failed")
		}
	}

	m.events <- scheduler.RunEvent{RunID: stream.runID, Type: scheduler.RunEventStarted}
	m.log.Info().Str("symbol", stream.symbol).Str("run_id", stream.runID).Msg("live stream started")

	err := m.readLoop(stream)

	m.mu.Lock()
	if current, ok := m.streams[stream.symbol]; ok && current == stream {
		delete(m.streams, stream.symbol)
	}
	m.mu.Unlock()

	if stream.wasStopRequested() {
		return
	}
	m.events <- scheduler.RunEvent{
		RunID:   stream.runID,
		Type:    scheduler.RunEventFinished,
		Outcome: models.RunStateFailed,
		Err:     fmt.Errorf("live stream for %s ended unexpectedly: %w", stream.symbol, err),
	}
}

func (m *LiveStreamManager) readLoop(stream *liveStream) error {
	conn := stream.conn
	conn.SetReadDeadline(time.Now().Add(LivePongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(LivePongTimeout))
	})

	done := make(chan struct{})
	defer close(done)

	pinger := time.NewTicker(LivePingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pinger.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(LiveWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	flush := time.NewTicker(TickFlushInterval)
	defer flush.Stop()

	buffer := make([]TickDocument, 0, TickFlushBatch)
	flushBuffer := func() {
		if len(buffer) == 0 {
			return
		}
		if err := m.store.InsertTicks(buffer); err != nil {
			m.log.Warn().Err(err).Str("symbol", stream.symbol).Int("ticks", len(buffer)).Msg("failed to persist ticks")
		}
		buffer = buffer[:0]
	}
	defer flushBuffer()

	ticks := make(chan liveTick, TickFlushBatch)
	readErr := make(chan error, 1)
	go func() {
		for {
			var tick liveTick
			if err := conn.ReadJSON(&tick); err != nil {
				readErr <- err
				return
			}
			ticks <- tick
		}
	}()

	for {
		select {
		case err := <-readErr:
			return err
		case <-flush.C:
			flushBuffer()
		case tick := <-ticks:
			if tick.Price <= 0 {
				continue
			}
			sec := int64(tick.Timestamp)
			nsec := int64((tick.Timestamp - float64(sec)) * 1e9)
			buffer = append(buffer, TickDocument{
				Symbol:    stream.symbol,
				Timestamp: time.Unix(sec, nsec).UTC(),
				Price:     tick.Price,
				Volume:    tick.Volume,
			})
			if len(buffer) >= TickFlushBatch {
				flushBuffer()
			}
		}
	}
}

// backfill fetches the last backfillMinutes of ticks over HTTP so the
// intraday cache has data from before the stream attached.
func (m *LiveStreamManager) backfill(symbol string, minutes int) error {
	endpoint := fmt.Sprintf("%s/api/ticks?symbol=%s&minutes=%d",
		m.feedURL, url.QueryEscape(symbol), minutes)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("feed returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data []liveTick `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	docs := make([]TickDocument, 0, len(payload.Data))
	for _, tick := range payload.Data {
		if tick.Price <= 0 {
			continue
		}
		sec := int64(tick.Timestamp)
		docs = append(docs, TickDocument{
			Symbol:    symbol,
			Timestamp: time.Unix(sec, 0).UTC(),
			Price:     tick.Price,
			Volume:    tick.Volume,
		})
	}

	if err := m.store.InsertTicks(docs); err != nil {
		return err
	}
	m.log.Info().Str("symbol", symbol).Int("ticks", len(docs)).Int("minutes", minutes).Msg("intraday backfill completed")
	return nil
}
