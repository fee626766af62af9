package chartengine

import (
	"context"
	"fmt"
	"log"
	"time"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeCandles(ctx, svc.streams, svc.candleCh); err != nil {
			log.Printf("[chartengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.candleCh,
		func(count int) {
			log.Printf("[chartengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[chartengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// processLoop consumes candles from the channel and computes indicators.
// Finalized candles advance kernel state; forming candles only produce
// live preview points.
func (svc *Service) processLoop(ctx context.Context) {
	const (
		indicatorLatencyKey           = "metrics:chartengine:indicator_compute_ms"
		indicatorLatencyTTL           = 30 * time.Second
		indicatorLatencyPublishMinDur = 2 * time.Second
		indicatorLatencyAlpha         = 0.2
	)
	var (
		latencyEwmaMs      float64
		lastLatencyPublish time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-svc.candleCh:
			if !ok {
				return
			}

			start := time.Now()
			if c.Forming {
				ups := svc.engine.ProcessPeek(c)
				svc.observeCompute(time.Since(start), len(ups))
				if len(ups) > 0 {
					svc.buffered.WriteUpdates(ups)
				}
				continue
			}

			ups, err := svc.engine.Process(c)
			elapsed := time.Since(start)
			svc.observeCompute(elapsed, len(ups))
			svc.prom.CandlesConsumed.Inc()
			svc.prom.SessionsActive.Set(float64(svc.engine.SessionCount()))
			if err != nil {
				log.Printf("[chartengine] process error for %s: %v", c.Key(), err)
				continue
			}

			// Track EWMA latency and publish periodically for the gateway
			latencyMs := float64(elapsed.Microseconds()) / 1000.0
			if latencyEwmaMs == 0 {
				latencyEwmaMs = latencyMs
			} else {
				latencyEwmaMs = latencyEwmaMs*(1.0-indicatorLatencyAlpha) + latencyMs*indicatorLatencyAlpha
			}
			if time.Since(lastLatencyPublish) >= indicatorLatencyPublishMinDur {
				cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				if cctx.Err() == nil {
					_ = svc.redisWriter.Client().Set(
						cctx,
						indicatorLatencyKey,
						fmt.Sprintf("%.3f", latencyEwmaMs),
						indicatorLatencyTTL,
					).Err()
				}
				cancel()
				lastLatencyPublish = time.Now()
			}

			// Batch all results into a single pipelined write
			if len(ups) > 0 {
				svc.buffered.WriteUpdates(ups)
			}
		}
	}
}

func (svc *Service) observeCompute(elapsed time.Duration, points int) {
	svc.prom.IndicatorComputeDur.Observe(elapsed.Seconds())
	if points > 0 {
		svc.prom.IndicatorPoints.Add(float64(points))
	}
}
