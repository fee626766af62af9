package indicator

import (
	"context"
	"testing"

	"charting-systemv1/internal/model"
)

func engineCandle(symbol string, tf, i int, close float64) model.Candle {
	return model.Candle{
		Symbol: symbol, TF: tf, TS: tsAt(i),
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
		Volume: 100,
	}
}

func TestEngine_LazySessionPerPair(t *testing.T) {
	e := NewEngine(smaSpecs(2))

	e.Process(engineCandle("AAA", 60, 0, 10))
	e.Process(engineCandle("BBB", 60, 0, 10))
	e.Process(engineCandle("AAA", 300, 0, 10))

	if e.SessionCount() != 3 {
		t.Errorf("SessionCount: got %d, want 3", e.SessionCount())
	}
}

func TestEngine_PairsAreIsolated(t *testing.T) {
	e := NewEngine(smaSpecs(2))

	// AAA gets two candles → ready; BBB only one → not ready.
	e.Process(engineCandle("AAA", 60, 0, 10))
	e.Process(engineCandle("BBB", 60, 0, 500))
	updates, err := e.Process(engineCandle("AAA", 60, 1, 12))
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update for AAA, got %d", len(updates))
	}
	// BBB's 500 close must not have leaked into AAA's window.
	assertClose(t, "isolated SMA", updates[0].Values[0], 11.0, 1e-9)
}

func TestEngine_ProcessPeek_NilForUnseenPair(t *testing.T) {
	e := NewEngine(smaSpecs(2))
	forming := engineCandle("NEW", 60, 0, 10)
	forming.Forming = true
	if got := e.ProcessPeek(forming); got != nil {
		t.Errorf("expected nil for unseen pair, got %d updates", len(got))
	}
}

func TestEngine_ProcessPeek_DoesNotMutate(t *testing.T) {
	e := NewEngine(smaSpecs(2))
	e.Process(engineCandle("AAA", 60, 0, 10))
	e.Process(engineCandle("AAA", 60, 1, 12))

	forming := engineCandle("AAA", 60, 2, 9999)
	forming.Forming = true
	e.ProcessPeek(forming)

	updates, err := e.Process(engineCandle("AAA", 60, 2, 14))
	if err != nil {
		t.Fatal(err)
	}
	// (12+14)/2 = 13, untouched by the 9999 peek
	assertClose(t, "SMA after engine peek", updates[0].Values[0], 13.0, 1e-9)
}

func TestEngine_Run_RoutesFormingToPeek(t *testing.T) {
	e := NewEngine(smaSpecs(2))

	candleCh := make(chan model.Candle, 8)
	out := make(chan model.IndicatorUpdate, 8)

	candleCh <- engineCandle("RUN", 60, 0, 10)
	candleCh <- engineCandle("RUN", 60, 1, 12)
	forming := engineCandle("RUN", 60, 2, 14)
	forming.Forming = true
	candleCh <- forming
	close(candleCh)

	e.Run(context.Background(), candleCh, out)
	close(out)

	var finals, lives int
	for u := range out {
		if u.Live {
			lives++
		} else {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("final updates: got %d, want 1", finals)
	}
	if lives != 1 {
		t.Errorf("live updates: got %d, want 1", lives)
	}
}

func TestEngine_Run_StopsOnContextCancel(t *testing.T) {
	e := NewEngine(smaSpecs(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candleCh := make(chan model.Candle)
	done := make(chan struct{})
	go func() {
		e.Run(ctx, candleCh, make(chan model.IndicatorUpdate, 1))
		close(done)
	}()
	<-done // returns immediately on cancelled context
}

func TestEngine_ReloadSpecs_PreservesMatchingState(t *testing.T) {
	e := NewEngine([]Spec{
		{Kind: KindSMA, Params: Params{Period: 2}},
		{Kind: KindEMA, Params: Params{Period: 3}},
	})

	// Warm both kernels up.
	for i := 0; i < 4; i++ {
		e.Process(engineCandle("RLD", 60, i, float64(10+i)))
	}

	// Keep SMA_2, drop EMA_3, add SMA_5.
	preserved, created, err := e.ReloadSpecs([]Spec{
		{Kind: KindSMA, Params: Params{Period: 2}},
		{Kind: KindSMA, Params: Params{Period: 5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if preserved != 1 {
		t.Errorf("preserved: got %d, want 1", preserved)
	}
	if created != 1 {
		t.Errorf("created: got %d, want 1", created)
	}

	// SMA_2 kept its window: next candle emits immediately with history.
	updates, err := e.Process(engineCandle("RLD", 60, 4, 14))
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string][]float64{}
	for _, u := range updates {
		byName[u.Name] = u.Values
	}
	if vals, ok := byName["SMA_2"]; !ok {
		t.Error("SMA_2 should emit right after reload")
	} else {
		assertClose(t, "preserved SMA_2", vals[0], 13.5, 1e-9) // (13+14)/2
	}
	if _, ok := byName["SMA_5"]; ok {
		t.Error("new SMA_5 should still be warming up")
	}
	if _, ok := byName["EMA_3"]; ok {
		t.Error("removed EMA_3 should not emit")
	}
}

func TestEngine_ReloadSpecs_RejectsInvalid(t *testing.T) {
	e := NewEngine(smaSpecs(2))
	if _, _, err := e.ReloadSpecs(nil); err == nil {
		t.Error("expected error for empty reload")
	}
	if _, _, err := e.ReloadSpecs(smaSpecs(-1)); err == nil {
		t.Error("expected error for invalid period")
	}
}
