package chartengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"charting-systemv1/internal/indicator"
	"charting-systemv1/internal/logger"
	"charting-systemv1/internal/model"
)

// startHTTP launches the HTTP server for compute, reload, health and
// Prometheus endpoints.
func (svc *Service) startHTTP(ctx context.Context) {
	svc.slog = logger.Init("chartengine", slog.LevelInfo)
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/compute", svc.handleCompute)
		mux.HandleFunc("/reload", svc.handleReload)
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "ok")
		})
		log.Printf("[chartengine] HTTP server on %s (/compute, /reload, /metrics, /healthz)", svc.cfg.HTTPAddr)
		if err := http.ListenAndServe(svc.cfg.HTTPAddr, mux); err != nil {
			log.Printf("[chartengine] HTTP server error: %v", err)
		}
	}()
}

// computeRequest is the POST /compute payload: a candle series plus the
// indicator specs ("SMA:20", "MACD:12:26:9") to evaluate over it.
type computeRequest struct {
	Candles    []model.Candle `json:"candles"`
	Indicators []string       `json:"indicators"`
}

// handleCompute evaluates indicators over a posted candle series in one
// shot. A single malformed candle fails the whole request so the caller
// never receives silently misaligned output.
func (svc *Service) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	specs := make([]indicator.Spec, 0, len(req.Indicators))
	for _, s := range req.Indicators {
		spec, err := indicator.ParseSpec(s)
		if err != nil {
			http.Error(w, "invalid indicator: "+err.Error(), http.StatusBadRequest)
			return
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		specs = svc.engine.Specs()
	}

	rctx := r.Context()
	if len(req.Candles) > 0 {
		rctx = logger.WithTraceID(rctx, logger.GenerateTraceID(req.Candles[0].Symbol, time.Now()))
	}

	svc.prom.BatchRequests.Inc()
	start := time.Now()
	results, err := indicator.ComputeBatch(req.Candles, specs)
	svc.prom.BatchComputeDur.Observe(time.Since(start).Seconds())
	if err != nil {
		svc.slog.Warn("batch compute rejected",
			append([]any{slog.String("err", err.Error())}, logger.LogWithTrace(rctx)...)...)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	svc.slog.Info("batch compute",
		append([]any{
			slog.Int("candles", len(req.Candles)),
			slog.Int("indicators", len(specs)),
			slog.Duration("elapsed", time.Since(start)),
		}, logger.LogWithTrace(rctx)...)...)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// handleReload handles POST /reload for live indicator set updates via HTTP.
// Body: {"indicators": ["SMA:20", "RSI:14", ...]}
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Indicators []string `json:"indicators"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	specs := make([]indicator.Spec, 0, len(req.Indicators))
	for _, s := range req.Indicators {
		spec, err := indicator.ParseSpec(s)
		if err != nil {
			http.Error(w, "invalid indicator: "+err.Error(), http.StatusBadRequest)
			return
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		http.Error(w, "no indicators given", http.StatusBadRequest)
		return
	}

	preserved, created, err := svc.engine.ReloadSpecs(specs)
	if err != nil {
		http.Error(w, "reload: "+err.Error(), http.StatusBadRequest)
		return
	}
	svc.cfg.Specs = specs

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// startConfigSubscriber listens on Redis PubSub for dynamic indicator
// config updates published by the gateway.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
		if pubsub == nil {
			log.Println("[chartengine] WARNING: could not subscribe to config:indicators")
			return
		}
		defer pubsub.Close()
		log.Println("[chartengine] subscribed to config:indicators for dynamic reload")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("[chartengine] received config update: %s", msg.Payload)
				svc.reloadFromSpecs(ctx, indicator.ParseSpecs(msg.Payload))
			}
		}
	}()
}

// reloadFromSpecs reloads the engine's indicator set. Newly created
// indicators are backfilled from the Redis candle streams so their history
// is available immediately. The backfill runs through the batch path:
// warm sessions reject replayed candles at their append cursor, and batch
// output is bit-identical to what streaming would have produced anyway.
func (svc *Service) reloadFromSpecs(ctx context.Context, newSpecs []indicator.Spec) {
	oldNames := make(map[string]bool, len(svc.engine.Specs()))
	for _, s := range svc.engine.Specs() {
		oldNames[s.Name()] = true
	}

	preserved, created, err := svc.engine.ReloadSpecs(newSpecs)
	if err != nil {
		log.Printf("[chartengine] invalid config: %v", err)
		return
	}
	svc.cfg.Specs = newSpecs
	log.Printf("[chartengine] reloaded: preserved=%d, created=%d", preserved, created)

	if created == 0 {
		return
	}
	var createdSpecs []indicator.Spec
	for _, s := range newSpecs {
		if !oldNames[s.Name()] {
			createdSpecs = append(createdSpecs, s)
		}
	}

	written := 0
	for _, stream := range svc.streams {
		candles := svc.replayStream(ctx, stream)
		if len(candles) == 0 {
			continue
		}
		symbol, tf := candles[0].Symbol, candles[0].TF

		for _, spec := range createdSpecs {
			series, err := indicator.ComputeSeries(spec, candles)
			if err != nil {
				log.Printf("[chartengine] reload backfill %s on %s: %v", spec.Name(), stream, err)
				continue
			}
			updates := make([]model.IndicatorUpdate, len(series.Points))
			for i, pt := range series.Points {
				updates[i] = model.IndicatorUpdate{
					Name:    series.ID,
					Symbol:  symbol,
					TF:      tf,
					TS:      pt.TS,
					Columns: series.Columns,
					Values:  pt.Values,
					Ready:   true,
				}
			}
			if len(updates) > 0 {
				svc.buffered.WriteUpdates(updates)
				written += len(updates)
			}
		}
	}
	log.Printf("[chartengine] reload backfill: wrote %d points for %d new indicators",
		written, len(createdSpecs))
}

// replayStream collects the finalized candles of one stream into a slice.
func (svc *Service) replayStream(ctx context.Context, stream string) []model.Candle {
	ch := make(chan model.Candle, 5000)
	go func() {
		if _, err := svc.redisReader.ReplayFromID(ctx, stream, "0", ch); err != nil {
			log.Printf("[chartengine] replay error on %s: %v", stream, err)
		}
		close(ch)
	}()

	var candles []model.Candle
	for c := range ch {
		if !c.Forming {
			candles = append(candles, c)
		}
	}
	return candles
}
