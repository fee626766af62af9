package chartengine

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"charting-systemv1/internal/indicator"
	"charting-systemv1/internal/metrics"
	"charting-systemv1/internal/model"
	redisstore "charting-systemv1/internal/store/redis"
	sqlitestore "charting-systemv1/internal/store/sqlite"
)

// Service is the top-level orchestrator for the chart engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config

	engine      *indicator.Engine
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	buffered    *redisstore.BufferedWriter
	breaker     *redisstore.CircuitBreaker
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	slog        *slog.Logger

	streams  []string
	candleCh chan model.Candle
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; the engine is restored in Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		prom:     metrics.NewMetrics(),
		candleCh: make(chan model.Candle, 5000),
	}

	// ---- Connect to Redis ----
	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	// ---- Open SQLite ----
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[chartengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
	}

	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[chartengine] WARNING: sqlite writer init failed: %v", err)
	}

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[chartengine] starting chart engine service...")

	// Indicator writes go through a circuit breaker so a Redis outage
	// buffers points locally instead of losing them.
	svc.breaker = redisstore.NewCircuitBreaker(5, 10*time.Second)
	svc.buffered = redisstore.NewBufferedWriter(ctx, svc.redisWriter, svc.breaker, 10000)
	svc.buffered.OnFlush = func(count int) {
		log.Printf("[chartengine] flushed %d buffered writes after circuit close", count)
	}

	// ---- Restore engine from snapshot ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[chartengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Backfill from Redis streams ----
	svc.backfillFromRedis(ctx)

	// ---- Replay delta from snapshot ----
	svc.replayDelta(ctx)

	// ---- Ensure consumer groups ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[chartengine] WARNING: consumer group setup: %v", err)
		}
	}

	// ---- Recover pending messages ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.candleCh); err != nil {
			log.Printf("[chartengine] pending recovery error: %v", err)
		}
	}

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	go svc.peekLoop(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)

	log.Printf("[chartengine] engine active: %d indicators, TFs %v, snapshot every %ds",
		len(cfg.Specs), cfg.EnabledTFs, cfg.SnapshotIntervalS)

	// Block until context cancelled
	<-ctx.Done()

	// ---- Graceful shutdown ----
	svc.shutdown()
	return nil
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[chartengine] shutdown signal received, saving final snapshot...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()

	if err := svc.saveSnapshot(shutCtx, "shutdown"); err != nil {
		log.Printf("[chartengine] final snapshot error: %v", err)
	} else {
		log.Println("[chartengine] final snapshot saved")
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[chartengine] shutdown complete.")
}

// restoreEngine restores the indicator engine from a Redis or SQLite
// snapshot, then warms up cold kernels from the SQLite candle history.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := indicator.NewRestorer(svc.cfg.Specs)

	snap := svc.loadSnapshot(ctx)

	var err error
	svc.engine, err = restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}

	// Backfill from SQLite to warm up cold indicators
	if svc.sqlReader != nil {
		backfilled := restorer.BackfillFromStore(svc.engine, svc.sqlReader, svc.cfg.EnabledTFs,
			func(updates []model.IndicatorUpdate) {
				svc.buffered.WriteUpdates(updates)
			})
		if backfilled > 0 {
			log.Printf("[chartengine] warmed up kernels with %d historical candles", backfilled)
		}
	}

	svc.prom.SessionsActive.Set(float64(svc.engine.SessionCount()))
	return nil
}

// buildStreams constructs the Redis stream names to consume. When no symbols
// are configured it discovers them from the SQLite candle history.
func (svc *Service) buildStreams(ctx context.Context) []string {
	symbols := svc.cfg.Symbols
	if len(symbols) == 0 && svc.sqlReader != nil {
		seen := make(map[string]bool)
		for _, tf := range svc.cfg.EnabledTFs {
			known, err := svc.sqlReader.Symbols(tf)
			if err != nil {
				continue
			}
			for _, sym := range known {
				if !seen[sym] {
					seen[sym] = true
					symbols = append(symbols, sym)
				}
			}
		}
	}
	if len(symbols) == 0 {
		return svc.redisReader.DiscoverStreams(ctx, svc.cfg.EnabledTFs, nil)
	}

	var streams []string
	for _, tf := range svc.cfg.EnabledTFs {
		for _, sym := range symbols {
			streams = append(streams, "candle:"+strconv.Itoa(tf)+"s:"+sym)
		}
	}
	return streams
}

// backfillFromRedis replays all historical candles from Redis streams
// through the engine. Candles already consumed via a restored session are
// rejected by the session append cursor.
func (svc *Service) backfillFromRedis(ctx context.Context) {
	backfillCh := make(chan model.Candle, 5000)
	go func() {
		for _, stream := range svc.streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, "0", backfillCh); err != nil {
				log.Printf("[chartengine] backfill error on %s: %v", stream, err)
			}
		}
		close(backfillCh)
	}()

	backfillCount := 0
	for c := range backfillCh {
		if c.Forming {
			continue
		}
		updates, err := svc.engine.Process(c)
		if err != nil {
			continue
		}
		if len(updates) > 0 {
			svc.buffered.WriteUpdates(updates)
		}
		backfillCount++
	}
	if backfillCount > 0 {
		log.Printf("[chartengine] backfilled %d candles from Redis streams", backfillCount)
	} else {
		log.Println("[chartengine] no candles in Redis streams to backfill from")
	}
}

// replayDelta replays candles appended since the snapshot's stream position.
func (svc *Service) replayDelta(ctx context.Context) {
	snap := svc.loadSnapshot(ctx)
	if snap == nil || snap.StreamID == "" {
		return
	}

	log.Printf("[chartengine] replaying delta from stream ID: %s", snap.StreamID)
	replayCh := make(chan model.Candle, 5000)
	go func() {
		for _, stream := range svc.streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, snap.StreamID, replayCh); err != nil {
				log.Printf("[chartengine] replay error on %s: %v", stream, err)
			}
		}
		close(replayCh)
	}()

	deltaCount := 0
	for c := range replayCh {
		if c.Forming {
			continue
		}
		updates, err := svc.engine.Process(c)
		if err != nil {
			continue
		}
		if len(updates) > 0 {
			svc.buffered.WriteUpdates(updates)
		}
		deltaCount++
	}
	if deltaCount > 0 {
		log.Printf("[chartengine] replayed %d delta candles", deltaCount)
	}
}
