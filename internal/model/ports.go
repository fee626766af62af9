package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from concrete storage
// implementations (Redis, SQLite). Each implementation satisfies one or
// more of these interfaces.

// CandleWriter persists finalized candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads candle history for backfill and batch requests.
type CandleReader interface {
	// ReadCandles reads candles for a specific symbol and TF with TS > afterTS.
	ReadCandles(symbol string, tf int, afterTS int64) ([]Candle, error)

	// ReadAllCandles reads all candles for a given timeframe with TS > afterTS.
	ReadAllCandles(tf int, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// UpdateWriter publishes streaming indicator updates.
type UpdateWriter interface {
	// WriteUpdateBatch writes multiple indicator updates in a single batch.
	WriteUpdateBatch(ctx context.Context, updates []IndicatorUpdate) error

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// StreamConsumer consumes finalized candles from a stream (e.g. Redis Streams).
type StreamConsumer interface {
	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ConsumeCandles reads candles via consumer groups.
	// Blocks until ctx is cancelled.
	ConsumeCandles(ctx context.Context, streams []string, out chan<- Candle) error

	// ReplayFromID reads all messages from a stream starting at a given ID.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- Candle) (string, error)

	// Close releases underlying resources.
	Close() error
}
