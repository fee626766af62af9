// Package feed ingests raw market ticks over WebSocket and resamples them
// into finalized OHLCV candles for every enabled timeframe. The resampler
// maintains "forming" candle states that are updated in O(1) per tick per
// TF. When a TF bucket closes (a tick arrives in a new bucket), the
// previous candle is finalized and emitted.
package feed

import (
	"context"
	"log"
	"time"

	"charting-systemv1/internal/model"
	"charting-systemv1/internal/ringbuf"
)

// tfState holds the forming candle state for one (symbol, TF) pair.
type tfState struct {
	bucket  int64 // bucket start in epoch ms = ts - ts%(tf*1000)
	candle  model.Candle
	started bool
}

// Resampler buckets raw ticks into multiple dynamic timeframes.
// Designed to run in a single goroutine (single consumer).
type Resampler struct {
	tfs []int // enabled TF durations in seconds

	// Per-TF per-symbol state.
	// Key structure: states[tfIdx][symbol] → *tfState
	states []map[string]*tfState

	// Staleness validation: reject ticks older than the forming bucket by
	// more than this tolerance. Default: 2s. Set to 0 to disable.
	StaleTolerance time.Duration

	// Metrics hooks
	OnCandle    func(c model.Candle) // called on finalized candle (optional)
	OnStaleTick func()               // called when a stale tick is rejected (optional)
}

// NewResampler creates a resampler with the given timeframes (in seconds).
func NewResampler(tfs []int) *Resampler {
	states := make([]map[string]*tfState, len(tfs))
	for i := range states {
		states[i] = make(map[string]*tfState, 64) // preallocate for ~64 symbols
	}
	return &Resampler{
		tfs:            tfs,
		states:         states,
		StaleTolerance: 2 * time.Second,
	}
}

// TFs returns the current list of enabled timeframes.
func (r *Resampler) TFs() []int {
	return r.tfs
}

// UpdateTFs dynamically updates the enabled timeframes.
// Forming candles for removed TFs are finalized and emitted.
func (r *Resampler) UpdateTFs(newTFs []int, outCh chan<- model.Candle) {
	newSet := make(map[int]bool, len(newTFs))
	for _, tf := range newTFs {
		newSet[tf] = true
	}

	// Finalize forming candles for TFs being removed
	for i, tf := range r.tfs {
		if !newSet[tf] {
			for _, st := range r.states[i] {
				if st.started {
					st.candle.Forming = false
					emit(outCh, st.candle)
				}
			}
		}
	}

	// Rebuild states: keep existing states for TFs that persist, add new ones
	oldStates := make(map[int]map[string]*tfState, len(r.tfs))
	for i, tf := range r.tfs {
		oldStates[tf] = r.states[i]
	}

	r.tfs = newTFs
	r.states = make([]map[string]*tfState, len(newTFs))
	for i, tf := range newTFs {
		if old, ok := oldStates[tf]; ok {
			r.states[i] = old
		} else {
			r.states[i] = make(map[string]*tfState, 64)
		}
	}
}

// Run pops ticks from the ring buffer, resamples them into candles, and
// sends both forming snapshots and finalized candles to outCh. Blocks
// until ctx is cancelled.
func (r *Resampler) Run(ctx context.Context, ring *ringbuf.Ring, outCh chan<- model.Candle) {
	// Poll the SPSC ring with a short idle sleep. A condition variable would
	// add overhead to the producer hot path for no latency win at tick rates.
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		tick, ok := ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				r.flushAll(outCh)
				return
			case <-idle.C:
			}
			continue
		}
		r.process(tick, outCh)
	}
}

// RunCh consumes ticks from a channel instead of a ring buffer. Used by the
// replay path where ticks come from storage rather than the live feed.
func (r *Resampler) RunCh(ctx context.Context, tickCh <-chan model.Tick, outCh chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			r.flushAll(outCh)
			return
		case tick, ok := <-tickCh:
			if !ok {
				r.flushAll(outCh)
				return
			}
			r.process(tick, outCh)
		}
	}
}

// process handles a single tick against all enabled TFs.
// This is the hot path — O(1) per TF.
func (r *Resampler) process(t model.Tick, outCh chan<- model.Candle) {
	if t.Symbol == "" || t.Price <= 0 {
		return
	}

	for i, tf := range r.tfs {
		tfMs := int64(tf) * 1000
		bucket := t.TS - (t.TS % tfMs)

		st, exists := r.states[i][t.Symbol]

		// Staleness check: reject ticks whose bucket is behind the current
		// forming bucket by more than StaleTolerance. This prevents late
		// ticks from corrupting an already-advancing bucket.
		if r.StaleTolerance > 0 && exists && bucket < st.bucket {
			lag := time.Duration(st.bucket-bucket) * time.Millisecond
			if lag > r.StaleTolerance {
				if r.OnStaleTick != nil {
					r.OnStaleTick()
				}
				continue // skip this TF for the stale tick
			}
		}

		if exists && bucket > st.bucket {
			// New bucket — finalize the forming candle
			st.candle.Forming = false
			emit(outCh, st.candle)
			if r.OnCandle != nil {
				r.OnCandle(st.candle)
			}
			exists = false
		}

		if !exists {
			// Start a new forming candle for this bucket
			newState := &tfState{
				bucket:  bucket,
				started: true,
				candle: model.Candle{
					Symbol:  t.Symbol,
					TF:      tf,
					TS:      bucket,
					Open:    t.Price,
					High:    t.Price,
					Low:     t.Price,
					Close:   t.Price,
					Volume:  t.Qty,
					Forming: true,
				},
			}
			r.states[i][t.Symbol] = newState
			// Emit immediately so the live-preview pipeline sees the first tick.
			emit(outCh, newState.candle)
			continue
		}

		// Same bucket — merge OHLCV (O(1))
		fc := &st.candle
		if t.Price > fc.High {
			fc.High = t.Price
		}
		if t.Price < fc.Low {
			fc.Low = t.Price
		}
		fc.Close = t.Price
		fc.Volume += t.Qty

		// Emit a forming snapshot so subscribers can peek at the in-progress
		// candle. Struct copy is safe (no pointer fields).
		emit(outCh, *fc)
	}
}

// flushAll finalizes and emits all forming candles.
func (r *Resampler) flushAll(outCh chan<- model.Candle) {
	for i := range r.tfs {
		for sym, st := range r.states[i] {
			if st.started {
				st.candle.Forming = false
				emit(outCh, st.candle)
			}
			delete(r.states[i], sym)
		}
	}
}

// emit sends a candle to the output channel. Non-blocking to avoid deadlocks.
func emit(outCh chan<- model.Candle, c model.Candle) {
	select {
	case outCh <- c:
	default:
		log.Printf("[resampler] outCh full, dropping candle %s ts=%d", c.Key(), c.TS)
	}
}
