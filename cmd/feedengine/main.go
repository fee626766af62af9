package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"charting-systemv1/internal/feed"
	"charting-systemv1/internal/metrics"
	"charting-systemv1/internal/model"
	"charting-systemv1/internal/ringbuf"
	redisstore "charting-systemv1/internal/store/redis"
	sqlitestore "charting-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedengine] starting...")

	// ---- Staging mode check ----
	stagingMode := strings.EqualFold(os.Getenv("STAGING_MODE"), "true")
	if stagingMode {
		log.Println("[feedengine] *** STAGING MODE — unauthenticated tick source ***")
	}

	// ---- Load config from env ----
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")
	sqlitePath := getEnv("SQLITE_PATH", "data/candles.db")
	enabledTFs := parseTFsFromEnv(getEnv("ENABLED_TFS", "60,300"))
	symbols := parseSymbols(getEnv("SUBSCRIBE_SYMBOLS", "BTCUSD"))
	log.Printf("[feedengine] enabled TFs: %v seconds, symbols: %v", enabledTFs, symbols)

	// ---- Setup pipeline ----
	ring := ringbuf.New(1 << 14) // SPSC ring between WS reader and resampler
	candleCh := make(chan model.Candle, 5000)

	// Channels for async persistence (separate from the resample path)
	redisFormingCh := make(chan model.Candle, 5000)

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetEnabledTFs(enabledTFs)
	metricsSrv := metrics.NewServer(metricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Start SQLite writer (off hot path) ----
	os.MkdirAll(filepath.Dir(sqlitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: sqlitePath})
	if err != nil {
		log.Fatalf("[feedengine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(count int, elapsed time.Duration) {
		prom.SQLiteCommitDur.Observe(elapsed.Seconds())
	}
	health.SetSQLiteOK(true)
	log.Println("[feedengine] sqlite writer ready")

	// ---- Start Redis writer ----
	var redisWriter *redisstore.Writer
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	if err != nil {
		log.Printf("[feedengine] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
		redisWriter.PublishTFRegistry(ctx, enabledTFs)
		log.Println("[feedengine] redis writer ready")
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Fan-out for finalized candles (SQLite + Redis) ----
	fanout := feed.NewFanOut(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	finalCh := make(chan model.Candle, 5000)
	sqliteCandleCh := fanout.Subscribe()
	var redisCandleCh <-chan model.Candle
	if redisWriter != nil {
		redisCandleCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, finalCh)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		var lastOverflow uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := fanout.ChannelStats()
				for i, s := range stats {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
				if of := ring.Overflow(); of > lastOverflow {
					prom.RingBufOverflow.Add(float64(of - lastOverflow))
					lastOverflow = of
				}
			}
		}
	}()

	go sqlWriter.Run(ctx, sqliteCandleCh)
	if redisWriter != nil && redisCandleCh != nil {
		go redisWriter.Run(ctx, redisCandleCh)
		go redisWriter.RunForming(ctx, redisFormingCh)
	}

	// ---- Resampler (HOT PATH) ----
	resampler := feed.NewResampler(enabledTFs)
	resampler.OnCandle = func(c model.Candle) {
		prom.CandlesTotal.WithLabelValues(strconv.Itoa(c.TF)).Inc()
		lag := time.Since(time.UnixMilli(c.TS + int64(c.TF)*1000))
		if lag > 0 {
			prom.CandleLag.Set(lag.Seconds())
		}
	}
	resampler.OnStaleTick = func() {
		prom.DroppedTicks.Inc()
	}
	health.SetResamplerOK(true)
	log.Printf("[feedengine] resampler started with TFs=%v (stale tolerance=%v)",
		enabledTFs, resampler.StaleTolerance)

	go resampler.Run(ctx, ring, candleCh)

	// ---- Route forming vs finalized candles (OFF hot path) ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candleCh:
				if !ok {
					return
				}
				if c.Forming {
					select {
					case redisFormingCh <- c:
					default:
					}
					continue
				}
				select {
				case finalCh <- c:
				default:
					prom.FanoutDropsTotal.WithLabelValues("router").Inc()
				}
			}
		}
	}()

	// ---- WS ingest: STAGING vs PRODUCTION ----
	var session *feed.Session
	wsURL := getEnv("SIM_WS_URL", "ws://localhost:9001/ws")
	if !stagingMode {
		wsURL = mustEnv("FEED_WS_URL")
		session, err = feed.NewSession(feed.SessionConfig{
			BaseURL:    mustEnv("FEED_BASE_URL"),
			APIKey:     mustEnv("FEED_API_KEY"),
			ClientCode: mustEnv("FEED_CLIENT_CODE"),
			Password:   mustEnv("FEED_PASSWORD"),
			TOTPSecret: mustEnv("FEED_TOTP_SECRET"),
		})
		if err != nil {
			log.Fatalf("[feedengine] session init failed: %v", err)
		}

		// Retry login until the provider accepts the TOTP code
		for {
			if err := session.Login(); err == nil {
				break
			} else {
				log.Printf("[feedengine] login failed: %v, retrying in 30s", err)
			}
			select {
			case <-sigCh:
				return
			case <-time.After(30 * time.Second):
			}
		}
		log.Println("[feedengine] provider session ready")
	}

	ingest, err := feed.NewIngest(feed.IngestConfig{
		URL:     wsURL,
		Symbols: symbols,
	}, session)
	if err != nil {
		log.Fatalf("[feedengine] ws init failed: %v", err)
	}
	ingest.OnReconnect = func() {
		prom.WSReconnects.Inc()
	}
	ingest.OnTick = func() {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}
	ingest.OnDrop = func() {
		prom.DroppedTicks.Inc()
	}
	health.SetWSConnected(true)

	go func() {
		if err := ingest.Start(ctx, ring); err != nil {
			log.Printf("[feedengine] ws ingest ended: %v", err)
			health.SetWSConnected(false)
		}
	}()

	log.Printf("[feedengine] pipeline ready: [WS %s] -> [ring] -> [resampler %v] -> [Redis/SQLite]",
		wsURL, enabledTFs)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[feedengine] shutdown signal received, cleaning up...")
	cancel()

	// Give goroutines time to flush buffers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[feedengine] shutdown complete.")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[feedengine] required env var %s is not set", key)
	}
	return v
}

// parseTFsFromEnv parses comma-separated TF seconds.
func parseTFsFromEnv(s string) []int {
	var tfs []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[feedengine] skipping invalid TF %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

func parseSymbols(s string) []string {
	var symbols []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}
