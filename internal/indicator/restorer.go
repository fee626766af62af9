package indicator

import (
	"log"

	"charting-systemv1/internal/model"
)

// Restorer orchestrates engine state restoration on service startup.
// It follows a priority chain: snapshot → candle-store backfill → cold start.
type Restorer struct {
	specs []Spec
}

// NewRestorer creates a Restorer for the given indicator set.
func NewRestorer(specs []Spec) *Restorer {
	return &Restorer{specs: specs}
}

// RestoreFromSnap attempts to restore an engine from a snapshot.
// A nil snapshot yields a fresh engine (cold start), as does a snapshot
// that fails to restore.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found — cold starting indicator engine")
		return NewEngine(r.specs), nil
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, sessions=%d)",
		snap.Version, snap.StreamID, len(snap.Sessions))

	engine, err := RestoreEngine(r.specs, snap)
	if err != nil {
		log.Printf("[restorer] WARNING: snapshot restore failed: %v — falling back to cold start", err)
		return NewEngine(r.specs), nil
	}
	log.Println("[restorer] restored indicator engine from snapshot")
	return engine, nil
}

// MaxWarmup returns the largest warm-up across the configured indicators —
// the number of historical candles needed to fully seed a cold engine.
func (r *Restorer) MaxWarmup() int {
	max := 0
	for _, spec := range r.specs {
		a, err := AlignmentFor(spec)
		if err != nil {
			continue
		}
		if a.Warmup > max {
			max = a.Warmup
		}
	}
	return max
}

// BackfillFromStore reads historical candles per enabled timeframe and feeds
// the most recent MaxWarmup candles per (symbol, tf) through the engine to
// warm up cold kernels. Candles already consumed by a restored session are
// rejected by the session's append cursor and skipped here.
//
// If onUpdates is non-nil it receives the emitted points per candle, so the
// caller can persist them for history population. Returns candles fed.
func (r *Restorer) BackfillFromStore(engine *Engine, reader model.CandleReader, tfs []int, onUpdates func([]model.IndicatorUpdate)) int {
	if reader == nil {
		return 0
	}
	maxWarmup := r.MaxWarmup()
	if maxWarmup == 0 {
		return 0
	}

	total := 0
	for _, tf := range tfs {
		candles, err := reader.ReadAllCandles(tf, 0)
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read tf=%d candles: %v", tf, err)
			continue
		}

		// Group per symbol; only the most recent maxWarmup candles matter.
		byKey := make(map[string][]model.Candle)
		for _, c := range candles {
			byKey[c.Key()] = append(byKey[c.Key()], c)
		}

		fed := 0
		for _, series := range byKey {
			if len(series) > maxWarmup {
				series = series[len(series)-maxWarmup:]
			}
			for _, c := range series {
				c.Forming = false
				updates, err := engine.Process(c)
				if err != nil {
					continue // already consumed by a restored session
				}
				if onUpdates != nil && len(updates) > 0 {
					onUpdates(updates)
				}
				fed++
			}
		}
		total += fed
		if fed > 0 {
			log.Printf("[restorer] backfilled %d candles for tf=%d", fed, tf)
		}
	}
	if total > 0 {
		log.Printf("[restorer] backfilled %d total candles from store", total)
	}
	return total
}
