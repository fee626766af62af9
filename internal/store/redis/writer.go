package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"charting-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Keep roughly 3h of history per stream, with a floor for coarse TFs.
	streamRetentionSecs = 10800
	minStreamLen        = 200
	defaultLatestTTL    = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes finalized candles and indicator updates to Redis: XADD to
// per-(symbol, tf) streams, SET of the latest value, and PUBLISH for
// real-time subscribers. Forming candles and live indicator previews go to
// Pub/Sub only — they are transient and never hit a stream.
type Writer struct {
	client *goredis.Client
}

var (
	_ model.CandleWriter = (*Writer)(nil)
	_ model.UpdateWriter = (*Writer)(nil)
)

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// streamMaxLen returns the proportional MAXLEN for a timeframe.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return minStreamLen
	}
	maxLen := int64(streamRetentionSecs/tf) + 100
	if maxLen < minStreamLen {
		maxLen = minStreamLen
	}
	return maxLen
}

// Run reads finalized candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			w.WriteCandle(ctx, candle)
		}
	}
}

// RunForming publishes forming candles via PubSub ONLY (no XADD). These feed
// the engine's live-preview path; a forming candle is superseded within a
// second, so persisting it would be noise.
func (w *Writer) RunForming(ctx context.Context, ch <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			jsonBytes := c.JSON()
			jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
			w.client.Publish(ctx, c.PubSubChannel(), jsonData)
		}
	}
}

// WriteCandle performs the pipelined write for one finalized candle:
// XADD + SET latest + PUBLISH in a single roundtrip.
func (w *Writer) WriteCandle(ctx context.Context, candle model.Candle) error {
	jsonBytes := candle.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: candle.StreamKey(),
		MaxLen: streamMaxLen(candle.TF),
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, candle.LatestKey(), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, candle.PubSubChannel(), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", candle.Key(), err)
		return err
	}
	return nil
}

// WriteUpdateBatch writes a batch of indicator updates in a single pipeline.
// Confirmed points get XADD + SET + PUBLISH; live previews are PubSub-only.
// Uses pre-built key strings and a zero-copy []byte→string conversion — this
// runs once per consumed candle on the hot path.
func (w *Writer) WriteUpdateBatch(ctx context.Context, updates []model.IndicatorUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range updates {
		u := &updates[i]
		if !u.Ready && !u.Live {
			continue
		}

		jsonBytes := u.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		pubsubCh := u.PubSubChannel()

		if u.Live {
			pipe.Publish(ctx, pubsubCh, jsonData)
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: u.StreamKey(),
			MaxLen: streamMaxLen(u.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, u.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] update batch pipeline error (%d updates): %v", len(updates), err)
		return err
	}
	return nil
}

// RunUpdates drains an update channel into batched pipeline writes.
func (w *Writer) RunUpdates(ctx context.Context, updateCh <-chan model.IndicatorUpdate) {
	buf := make([]model.IndicatorUpdate, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updateCh:
			if !ok {
				return
			}
			buf = append(buf[:0], u)
			// Drain whatever else is immediately available into one pipeline.
		drain:
			for len(buf) < cap(buf) {
				select {
				case more, ok := <-updateCh:
					if !ok {
						break drain
					}
					buf = append(buf, more)
				default:
					break drain
				}
			}
			w.WriteUpdateBatch(ctx, buf)
		}
	}
}

// LoadTFRegistry reads the tf:enabled set from Redis.
// Returns an empty slice if the key doesn't exist.
func (w *Writer) LoadTFRegistry(ctx context.Context) ([]int, error) {
	members, err := w.client.SMembers(ctx, "tf:enabled").Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis SMEMBERS tf:enabled: %w", err)
	}

	tfs := make([]int, 0, len(members))
	for _, m := range members {
		n := 0
		for _, c := range m {
			if c >= '0' && c <= '9' {
				n = n*10 + int(c-'0')
			}
		}
		if n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs, nil
}

// PublishTFRegistry writes the enabled timeframe set for other services.
func (w *Writer) PublishTFRegistry(ctx context.Context, tfs []int) error {
	members := make([]interface{}, len(tfs))
	for i, tf := range tfs {
		members[i] = model.Itoa(tf)
	}
	pipe := w.client.Pipeline()
	pipe.Del(ctx, "tf:enabled")
	pipe.SAdd(ctx, "tf:enabled", members...)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
