package indicator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"charting-systemv1/internal/model"
)

// TestEngineSnapshot_RoundTrip_AllKernels snapshots a half-warmed engine,
// restores it, then feeds the remaining candles to both. Original and
// restored must emit identical updates from that point on, for every kernel.
func TestEngineSnapshot_RoundTrip_AllKernels(t *testing.T) {
	specs := allKernelSpecs()
	candles := marketSeries("SNAP", 120)

	e := NewEngine(specs)
	for _, c := range candles[:60] {
		_, err := e.Process(c)
		require.NoError(t, err)
	}

	snap, err := SnapshotEngine(e, "1700000000000-5")
	require.NoError(t, err)
	require.Equal(t, "1700000000000-5", snap.StreamID)
	require.Len(t, snap.Sessions, 1)

	// Serialize through JSON, as the store does.
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded EngineSnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := RestoreEngine(specs, &decoded)
	require.NoError(t, err)
	require.Equal(t, 1, restored.SessionCount())

	for _, c := range candles[60:] {
		origUpdates, err := e.Process(c)
		require.NoError(t, err)
		restUpdates, err := restored.Process(c)
		require.NoError(t, err)

		require.Equal(t, len(origUpdates), len(restUpdates), "ts=%d: update count", c.TS)
		for i := range origUpdates {
			require.Equal(t, origUpdates[i].Name, restUpdates[i].Name)
			require.Equal(t, origUpdates[i].Values, restUpdates[i].Values,
				"ts=%d: %s values diverge after restore", c.TS, origUpdates[i].Name)
		}
	}
}

// TestRestoreEngine_RejectsStaleReplay: the restored append cursor refuses
// candles at or before the snapshot point, so replaying an overlapping
// stream segment cannot double-count.
func TestRestoreEngine_RejectsStaleReplay(t *testing.T) {
	specs := smaSpecs(3)
	candles := marketSeries("STALE", 20)

	e := NewEngine(specs)
	for _, c := range candles[:10] {
		e.Process(c)
	}
	snap, err := SnapshotEngine(e, "")
	require.NoError(t, err)

	restored, err := RestoreEngine(specs, snap)
	require.NoError(t, err)

	_, err = restored.Process(candles[9]) // already consumed pre-snapshot
	require.ErrorIs(t, err, ErrOutOfOrderAppend)

	_, err = restored.Process(candles[10])
	require.NoError(t, err)
}

// TestRestoreEngine_ConfigChange: indicators added since the snapshot start
// cold, removed ones are dropped, and surviving ones keep their state.
func TestRestoreEngine_ConfigChange(t *testing.T) {
	oldSpecs := []Spec{
		{Kind: KindSMA, Params: Params{Period: 3}},
		{Kind: KindRSI, Params: Params{Period: 5}},
	}
	candles := marketSeries("CFG", 30)

	e := NewEngine(oldSpecs)
	for _, c := range candles[:20] {
		e.Process(c)
	}
	snap, err := SnapshotEngine(e, "")
	require.NoError(t, err)

	newSpecs := []Spec{
		{Kind: KindSMA, Params: Params{Period: 3}}, // survives
		{Kind: KindEMA, Params: Params{Period: 4}}, // new, cold
	}
	restored, err := RestoreEngine(newSpecs, snap)
	require.NoError(t, err)

	updates, err := restored.Process(candles[20])
	require.NoError(t, err)

	byName := map[string]model.IndicatorUpdate{}
	for _, u := range updates {
		byName[u.Name] = u
	}

	// Surviving SMA_3 emits immediately with its restored window.
	sma, ok := byName["SMA_3"]
	require.True(t, ok, "restored SMA_3 should emit")
	want := (candles[18].Close + candles[19].Close + candles[20].Close) / 3
	require.InDelta(t, want, sma.Values[0], 1e-9)

	// New EMA_4 is cold and still warming up.
	_, ok = byName["EMA_4"]
	require.False(t, ok, "cold EMA_4 should not emit yet")

	// Removed RSI_5 is gone.
	_, ok = byName["RSI_5"]
	require.False(t, ok)
}

// TestRestoreEngine_CorruptState_ColdStartsKernel: a corrupt per-kernel
// payload cold-starts only that kernel instead of failing the restore.
func TestRestoreEngine_CorruptState_ColdStartsKernel(t *testing.T) {
	specs := []Spec{
		{Kind: KindSMA, Params: Params{Period: 3}},
		{Kind: KindEMA, Params: Params{Period: 3}},
	}
	candles := marketSeries("CRPT", 20)

	e := NewEngine(specs)
	for _, c := range candles[:10] {
		e.Process(c)
	}
	snap, err := SnapshotEngine(e, "")
	require.NoError(t, err)

	for i := range snap.Sessions[0].Indicators {
		if snap.Sessions[0].Indicators[i].Name == "EMA_3" {
			snap.Sessions[0].Indicators[i].State = json.RawMessage(`{not json`)
		}
	}

	restored, err := RestoreEngine(specs, snap)
	require.NoError(t, err)

	updates, err := restored.Process(candles[10])
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, u := range updates {
		byName[u.Name] = true
	}
	require.True(t, byName["SMA_3"], "intact SMA_3 should emit")
	require.False(t, byName["EMA_3"], "corrupt EMA_3 should have been cold-started")
}

func TestSnapshotEngine_DeterministicSessionOrder(t *testing.T) {
	e := NewEngine(smaSpecs(2))
	for _, sym := range []string{"ZZZ", "AAA", "MMM"} {
		e.Process(engineCandle(sym, 60, 0, 10))
	}
	snap, err := SnapshotEngine(e, "")
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 3)
	require.Equal(t, "AAA", snap.Sessions[0].Symbol)
	require.Equal(t, "MMM", snap.Sessions[1].Symbol)
	require.Equal(t, "ZZZ", snap.Sessions[2].Symbol)
}

// ────────────────────────────────────────────────────────────
// Restorer
// ────────────────────────────────────────────────────────────

type memCandleReader struct {
	byTF map[int][]model.Candle
}

func (m *memCandleReader) ReadCandles(symbol string, tf int, afterTS int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m.byTF[tf] {
		if c.Symbol == symbol && c.TS > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCandleReader) ReadAllCandles(tf int, afterTS int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m.byTF[tf] {
		if c.TS > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCandleReader) Close() error { return nil }

func TestRestorer_ColdStartWithoutSnapshot(t *testing.T) {
	r := NewRestorer(smaSpecs(3))
	engine, err := r.RestoreFromSnap(nil)
	require.NoError(t, err)
	require.Equal(t, 0, engine.SessionCount())
}

func TestRestorer_MaxWarmup(t *testing.T) {
	r := NewRestorer([]Spec{
		{Kind: KindSMA, Params: Params{Period: 20}},
		{Kind: KindMACD, Params: Params{Fast: 12, Slow: 26, Signal: 9}}, // warm-up 34
		{Kind: KindRSI, Params: Params{Period: 14}},                     // warm-up 15
	})
	require.Equal(t, 34, r.MaxWarmup())
}

func TestRestorer_BackfillWarmsColdEngine(t *testing.T) {
	specs := smaSpecs(3)
	r := NewRestorer(specs)
	candles := marketSeries("FILL", 10)

	reader := &memCandleReader{byTF: map[int][]model.Candle{testTF: candles}}

	engine, err := r.RestoreFromSnap(nil)
	require.NoError(t, err)

	var persisted []model.IndicatorUpdate
	fed := r.BackfillFromStore(engine, reader, []int{testTF}, func(updates []model.IndicatorUpdate) {
		persisted = append(persisted, updates...)
	})
	// Only the last MaxWarmup (3) candles are replayed.
	require.Equal(t, 3, fed)
	require.Len(t, persisted, 1) // SMA_3 ready exactly at the 3rd backfilled candle

	// The engine is warm: the next live candle emits immediately.
	next := engineCandle("FILL", testTF, len(candles), 123)
	updates, err := engine.Process(next)
	require.NoError(t, err)
	require.Len(t, updates, 1)
}

func TestRestorer_BackfillSkipsRestoredSessions(t *testing.T) {
	specs := smaSpecs(3)
	candles := marketSeries("SKIP", 12)

	// Snapshot an engine that already consumed everything.
	e := NewEngine(specs)
	for _, c := range candles {
		e.Process(c)
	}
	snap, err := SnapshotEngine(e, "")
	require.NoError(t, err)

	r := NewRestorer(specs)
	restored, err := r.RestoreFromSnap(snap)
	require.NoError(t, err)

	reader := &memCandleReader{byTF: map[int][]model.Candle{testTF: candles}}
	fed := r.BackfillFromStore(restored, reader, []int{testTF}, nil)
	require.Equal(t, 0, fed, "already-consumed candles must be rejected by the cursor")
}
