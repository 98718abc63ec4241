package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB collection names
const (
	MongoDBName          = "market_ingestion"
	MongoBarsCollection  = "price_bars"
	MongoTicksCollection = "live_ticks"
)

const mongoOpTimeout = 10 * time.Second

// BarDocument is one OHLC bar as persisted to MongoDB.
type BarDocument struct {
	Symbol    string    `bson:"symbol"`
	Interval  string    `bson:"interval"`
	Timestamp time.Time `bson:"timestamp"`
	Open      float64   `bson:"open"`
	High      float64   `bson:"high"`
	Low       float64   `bson:"low"`
	Close     float64   `bson:"close"`
	Volume    int64     `bson:"volume"`
}

// TickDocument is one live trade tick as persisted to MongoDB.
type TickDocument struct {
	Symbol    string    `bson:"symbol"`
	Timestamp time.Time `bson:"timestamp"`
	Price     float64   `bson:"price"`
	Volume    int64     `bson:"volume"`
}

// PriceStore handles MongoDB connection and time-series persistence for
// ingested bars and ticks.
type PriceStore struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	log         zerolog.Logger
}

// NewPriceStore connects to MongoDB. An empty URI returns a disconnected
// store; writes become no-ops and availability queries report no data,
// which keeps the scheduler usable without the storage engine. Connection
// failures return the error together with a disconnected store, so callers
// always get a usable store back.
func NewPriceStore(mongoURI string, log zerolog.Logger) (*PriceStore, error) {
	store := &PriceStore{log: log.With().Str("component", "price_store").Logger()}
	if mongoURI == "" {
		store.log.Warn().Msg("MONGODB_URI not set, price storage disabled")
		return store, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return store, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return store, fmt.Errorf("MongoDB ping failed: %w", err)
	}

	store.client = client
	store.database = client.Database(MongoDBName)
	store.isConnected = true
	store.log.Info().Msg("connected to MongoDB")

	store.ensureIndexes()
	return store, nil
}

func (p *PriceStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	barIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "interval", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := p.database.Collection(MongoBarsCollection).Indexes().CreateOne(ctx, barIdx); err != nil {
		p.log.Warn().Err(err).Msg("failed to create bar index")
	}

	tickIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp", Value: 1}},
	}
	if _, err := p.database.Collection(MongoTicksCollection).Indexes().CreateOne(ctx, tickIdx); err != nil {
		p.log.Warn().Err(err).Msg("failed to create tick index")
	}
}

// Connected reports whether the store has a live MongoDB connection.
func (p *PriceStore) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isConnected
}

// UpsertBars writes a batch of bars, replacing any bar already stored for
// the same (symbol, interval, timestamp).
func (p *PriceStore) UpsertBars(bars []BarDocument) error {
	if !p.Connected() || len(bars) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coll := p.database.Collection(MongoBarsCollection)
	writes := make([]mongo.WriteModel, 0, len(bars))
	for _, bar := range bars {
		filter := bson.M{"symbol": bar.Symbol, "interval": bar.Interval, "timestamp": bar.Timestamp}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(filter).SetReplacement(bar).SetUpsert(true))
	}

	_, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return err
}

// InsertTicks appends live ticks.
func (p *PriceStore) InsertTicks(ticks []TickDocument) error {
	if !p.Connected() || len(ticks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	docs := make([]interface{}, 0, len(ticks))
	for _, t := range ticks {
		docs = append(docs, t)
	}
	_, err := p.database.Collection(MongoTicksCollection).InsertMany(ctx, docs)
	return err
}

// BarRange returns the first and last bar timestamps plus the stored bar
// count for a (symbol, interval) pair. Found is false when no data exists.
func (p *PriceStore) BarRange(symbol, interval string) (first, last time.Time, count int64, found bool, err error) {
	if !p.Connected() {
		return time.Time{}, time.Time{}, 0, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	coll := p.database.Collection(MongoBarsCollection)
	filter := bson.M{"symbol": symbol, "interval": interval}

	count, err = coll.CountDocuments(ctx, filter)
	if err != nil || count == 0 {
		return time.Time{}, time.Time{}, 0, false, err
	}

	var firstDoc, lastDoc BarDocument
	if err = coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.M{"timestamp": 1})).Decode(&firstDoc); err != nil {
		return time.Time{}, time.Time{}, 0, false, err
	}
	if err = coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.M{"timestamp": -1})).Decode(&lastDoc); err != nil {
		return time.Time{}, time.Time{}, 0, false, err
	}
	return firstDoc.Timestamp, lastDoc.Timestamp, count, true, nil
}

// LastTickTime returns the most recent tick timestamp for a symbol.
func (p *PriceStore) LastTickTime(symbol string) (time.Time, bool, error) {
	if !p.Connected() {
		return time.Time{}, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	var doc TickDocument
	err := p.database.Collection(MongoTicksCollection).
		FindOne(ctx, bson.M{"symbol": symbol}, options.FindOne().SetSort(bson.M{"timestamp": -1})).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return doc.Timestamp, true, nil
}

// TotalDataPoints returns the total stored bar and tick counts.
func (p *PriceStore) TotalDataPoints() (bars, ticks int64, err error) {
	if !p.Connected() {
		return 0, 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	bars, err = p.database.Collection(MongoBarsCollection).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	ticks, err = p.database.Collection(MongoTicksCollection).EstimatedDocumentCount(ctx)
	return bars, ticks, err
}

// DeleteBarsBefore removes bars older than the cutoff across all symbols.
func (p *PriceStore) DeleteBarsBefore(cutoff time.Time) error {
	if !p.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := p.database.Collection(MongoBarsCollection).
		DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return err
	}
	if res.DeletedCount > 0 {
		p.log.Info().Int64("deleted", res.DeletedCount).Msg("removed old price bars")
	}
	return nil
}

// Close disconnects from MongoDB.
func (p *PriceStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isConnected {
		return nil
	}
	p.isConnected = false

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return p.client.Disconnect(ctx)
}
