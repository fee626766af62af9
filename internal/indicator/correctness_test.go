package indicator

import (
	"math"
	"testing"

	"charting-systemv1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

const testTF = 60

// tsAt returns the bucket-start timestamp (epoch ms) of the i-th test candle.
func tsAt(i int) int64 {
	return int64(1700000000000) + int64(i)*testTF*1000
}

// closeCandle builds a valid candle whose close drives close-based kernels.
func closeCandle(i int, close float64) model.Candle {
	return model.Candle{
		Symbol: "TEST", TF: testTF, TS: tsAt(i),
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
		Volume: 100,
	}
}

// flatCandle builds a degenerate candle with O=H=L=C (zero range).
func flatCandle(i int, price float64) model.Candle {
	return model.Candle{
		Symbol: "TEST", TF: testTF, TS: tsAt(i),
		Open: price, High: price, Low: price, Close: price,
		Volume: 100,
	}
}

func ohlcCandle(i int, o, h, l, c, v float64) model.Candle {
	return model.Candle{
		Symbol: "TEST", TF: testTF, TS: tsAt(i),
		Open: o, High: h, Low: l, Close: c, Volume: v,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// feed runs candles through a kernel and returns every emitted value row.
func feed(st State, candles []model.Candle) [][]float64 {
	var out [][]float64
	for _, c := range candles {
		if vals, ok := st.Update(c); ok {
			out = append(out, vals)
		}
	}
	return out
}

func closes(vals ...float64) []model.Candle {
	candles := make([]model.Candle, len(vals))
	for i, v := range vals {
		candles[i] = closeCandle(i, v)
	}
	return candles
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Closes: 10, 11, 12, 13, 14
	// SMA(3) after candle 3: (10+11+12)/3 = 11
	// SMA(3) after candle 4: (11+12+13)/3 = 12
	// SMA(3) after candle 5: (12+13+14)/3 = 13
	out := feed(NewSMA(3), closes(10, 11, 12, 13, 14))
	want := []float64{11, 12, 13}
	if len(out) != len(want) {
		t.Fatalf("expected %d outputs, got %d", len(want), len(out))
	}
	for i, w := range want {
		assertClose(t, "SMA(3)", out[i][0], w, 1e-9)
	}
}

func TestSMA_Period1_EchoesCloses(t *testing.T) {
	// SMA(1) emits from the first candle and equals the close series.
	series := closes(10, 11, 12)
	out := feed(NewSMA(1), series)
	if len(out) != 3 {
		t.Fatalf("SMA(1): expected 3 outputs, got %d", len(out))
	}
	for i := range series {
		assertClose(t, "SMA(1)", out[i][0], series[i].Close, 1e-12)
	}
}

func TestSMA_Peek_DoesNotMutate(t *testing.T) {
	sma := NewSMA(3)
	for _, c := range closes(10, 11, 12) {
		sma.Update(c)
	}
	sma.Peek(closeCandle(3, 999))

	vals, ok := sma.Update(closeCandle(3, 13))
	if !ok {
		t.Fatal("SMA should be ready")
	}
	assertClose(t, "SMA after Peek", vals[0], 12.0, 1e-9)
}

func TestSMA_Peek_CorrectValue(t *testing.T) {
	sma := NewSMA(3)
	for _, c := range closes(10, 11, 12) {
		sma.Update(c)
	}
	// Peek 16: (11+12+16)/3 = 13
	vals, ok := sma.Peek(closeCandle(3, 16))
	if !ok {
		t.Fatal("peek should report ready")
	}
	assertClose(t, "SMA Peek", vals[0], 13.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): mult = 2/(3+1) = 0.5
	// Closes: 10, 11, 12, 13, 14
	// Seed after candle 3: (10+11+12)/3 = 11.0
	// Candle 4: 13*0.5 + 11.0*0.5 = 12.0
	// Candle 5: 14*0.5 + 12.0*0.5 = 13.0
	out := feed(NewEMA(3), closes(10, 11, 12, 13, 14))
	want := []float64{11.0, 12.0, 13.0}
	if len(out) != len(want) {
		t.Fatalf("expected %d outputs, got %d", len(want), len(out))
	}
	for i, w := range want {
		assertClose(t, "EMA(3)", out[i][0], w, 1e-9)
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma := NewSMA(10)
	ema := NewEMA(10)

	for i := 0; i < 20; i++ {
		c := closeCandle(i, 100)
		sma.Update(c)
		ema.Update(c)
	}
	jump := closeCandle(20, 120)
	smaVals, _ := sma.Update(jump)
	emaVals, _ := ema.Update(jump)

	if emaVals[0] <= smaVals[0] {
		t.Errorf("EMA should react more than SMA to a jump: EMA=%.4f, SMA=%.4f", emaVals[0], smaVals[0])
	}
}

// ────────────────────────────────────────────────────────────
// COG
// ────────────────────────────────────────────────────────────

func TestCOG_Correctness_Period3(t *testing.T) {
	// Window [10, 11, 12]: ws = 10*1 + 11*2 + 12*3 = 68, denom = 6 → 11.3333
	// Window [11, 12, 13]: ws = 11 + 24 + 39 = 74 → 12.3333
	out := feed(NewCOG(3), closes(10, 11, 12, 13))
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	assertClose(t, "COG candle 3", out[0][0], 68.0/6.0, 1e-9)
	assertClose(t, "COG candle 4", out[1][0], 74.0/6.0, 1e-9)
}

func TestCOG_WeightsNewestHeaviest(t *testing.T) {
	// Rising series: COG sits above the plain mean because recent (higher)
	// closes carry more weight.
	cog := NewCOG(5)
	sma := NewSMA(5)
	var cogV, smaV float64
	for i := 0; i < 10; i++ {
		c := closeCandle(i, float64(100+i))
		if vals, ok := cog.Update(c); ok {
			cogV = vals[0]
		}
		if vals, ok := sma.Update(c); ok {
			smaV = vals[0]
		}
	}
	if cogV <= smaV {
		t.Errorf("COG should exceed SMA in an uptrend: COG=%.4f, SMA=%.4f", cogV, smaV)
	}
}

func TestCOG_Peek_MatchesUpdate(t *testing.T) {
	// Peek at the exact fill boundary and on a full window must agree with a
	// cloned state's Update.
	for _, n := range []int{2, 3, 5} { // candles fed before the peek; period 3
		cog := NewCOG(3)
		clone := NewCOG(3)
		for i := 0; i < n; i++ {
			c := closeCandle(i, float64(10+i))
			cog.Update(c)
			clone.Update(c)
		}
		next := closeCandle(n, 42)
		peekVals, peekOK := cog.Peek(next)
		updVals, updOK := clone.Update(next)
		if peekOK != updOK {
			t.Fatalf("n=%d: peek ok=%v, update ok=%v", n, peekOK, updOK)
		}
		if updOK {
			assertClose(t, "COG peek vs update", peekVals[0], updVals[0], 1e-9)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Closes: 44.00, 44.34, 44.09, 43.61, 44.33, 44.83
	// Deltas: +0.34, -0.25, -0.48, +0.72, +0.50
	// avgGain = (0.34+0.72+0.50)/5 = 0.312, avgLoss = (0.25+0.48)/5 = 0.146
	// RS = 2.13699, RSI = 100 - 100/(1+RS) = 68.112
	out := feed(NewRSI(5), closes(44.00, 44.34, 44.09, 43.61, 44.33, 44.83))
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	assertClose(t, "RSI(5) first", out[0][0], 68.112, 0.01)
}

func TestRSI_WarmupIsPeriodPlusOne(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 14; i++ {
		if _, ok := rsi.Update(closeCandle(i, float64(100+i))); ok {
			t.Fatalf("RSI emitted during warm-up at candle %d", i+1)
		}
	}
	if _, ok := rsi.Update(closeCandle(14, 115)); !ok {
		t.Fatal("RSI should emit at candle 15 (period+1)")
	}
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	var last float64
	for i := 0; i < 10; i++ {
		if vals, ok := rsi.Update(closeCandle(i, float64(100+i))); ok {
			last = vals[0]
		}
	}
	assertClose(t, "RSI all up", last, 100.0, 1e-9)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	var last float64
	for i := 0; i < 10; i++ {
		if vals, ok := rsi.Update(closeCandle(i, float64(200-i))); ok {
			last = vals[0]
		}
	}
	assertClose(t, "RSI all down", last, 0.0, 1e-9)
}

func TestRSI_Flat_Is50(t *testing.T) {
	// Every delta zero: avgGain == avgLoss == 0 → defined as 50.
	rsi := NewRSI(5)
	var last float64
	for i := 0; i < 10; i++ {
		if vals, ok := rsi.Update(closeCandle(i, 100)); ok {
			last = vals[0]
		}
	}
	assertClose(t, "RSI flat", last, 50.0, 1e-9)
}

func TestRSI_Bounded(t *testing.T) {
	rsi := NewRSI(7)
	price := 100.0
	for i := 0; i < 200; i++ {
		// Deterministic zigzag with drift
		if i%3 == 0 {
			price += 2.5
		} else {
			price -= 1.0
		}
		if vals, ok := rsi.Update(closeCandle(i, price)); ok {
			if vals[0] < 0 || vals[0] > 100 {
				t.Fatalf("RSI out of range at candle %d: %.6f", i, vals[0])
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic
// ────────────────────────────────────────────────────────────

func TestStoch_Correctness(t *testing.T) {
	// Period k=3, d=1 so %D == %K.
	// Candles with H=close+0.5, L=close-0.5.
	// Candle 3 (closes 10,11,12): hh=12.5, ll=9.5, k = (12-9.5)/3*100 = 83.333
	out := feed(NewStoch(3, 1), closes(10, 11, 12))
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	assertClose(t, "Stoch %K", out[0][0], (12.0-9.5)/3.0*100.0, 1e-9)
	assertClose(t, "Stoch %D", out[0][1], out[0][0], 1e-9)
}

func TestStoch_FlatMarket_Is50(t *testing.T) {
	st := NewStoch(5, 3)
	var last []float64
	for i := 0; i < 10; i++ {
		if vals, ok := st.Update(flatCandle(i, 100)); ok {
			last = vals
		}
	}
	if last == nil {
		t.Fatal("stochastic never emitted")
	}
	assertClose(t, "flat %K", last[0], 50.0, 1e-9)
	assertClose(t, "flat %D", last[1], 50.0, 1e-9)
}

func TestStoch_WarmupIsKPlusDMinus1(t *testing.T) {
	st := NewStoch(5, 3)
	emitted := 0
	for i := 0; i < 10; i++ {
		if _, ok := st.Update(closeCandle(i, float64(100+i))); ok {
			emitted++
			if i+1 < 7 { // k+d-1 = 7
				t.Fatalf("stochastic emitted at candle %d, warm-up is 7", i+1)
			}
		}
	}
	if emitted != 4 { // candles 7..10
		t.Errorf("expected 4 outputs, got %d", emitted)
	}
}

func TestStoch_Bounded(t *testing.T) {
	st := NewStoch(14, 3)
	price := 50.0
	for i := 0; i < 300; i++ {
		if i%5 < 2 {
			price += 1.7
		} else {
			price -= 0.9
		}
		if vals, ok := st.Update(closeCandle(i, price)); ok {
			for j, v := range vals {
				if v < 0 || v > 100 {
					t.Fatalf("stochastic column %d out of range at candle %d: %.6f", j, i, v)
				}
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// Williams %R
// ────────────────────────────────────────────────────────────

func TestWilliamsR_CloseAtExtremes(t *testing.T) {
	// Close pinned at the window high → %R = 0; at the window low → -100.
	wr := NewWilliamsR(3)
	wr.Update(ohlcCandle(0, 10, 12, 9, 10, 100))
	wr.Update(ohlcCandle(1, 10, 12, 9, 10, 100))
	vals, ok := wr.Update(ohlcCandle(2, 10, 12, 9, 12, 100)) // close == hh
	if !ok {
		t.Fatal("WILLR should be ready")
	}
	assertClose(t, "%R close at high", vals[0], 0.0, 1e-9)

	vals, _ = wr.Update(ohlcCandle(3, 10, 12, 9, 9, 100)) // close == ll
	assertClose(t, "%R close at low", vals[0], -100.0, 1e-9)
}

func TestWilliamsR_FlatMarket_Is0(t *testing.T) {
	wr := NewWilliamsR(5)
	var last float64
	for i := 0; i < 8; i++ {
		if vals, ok := wr.Update(flatCandle(i, 100)); ok {
			last = vals[0]
		}
	}
	assertClose(t, "%R flat", last, 0.0, 1e-9)
}

func TestWilliamsR_Bounded(t *testing.T) {
	wr := NewWilliamsR(14)
	price := 80.0
	for i := 0; i < 200; i++ {
		if i%4 == 0 {
			price += 3.1
		} else {
			price -= 0.8
		}
		if vals, ok := wr.Update(closeCandle(i, price)); ok {
			if vals[0] < -100 || vals[0] > 0 {
				t.Fatalf("%%R out of range at candle %d: %.6f", i, vals[0])
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// CCI
// ────────────────────────────────────────────────────────────

func TestCCI_Correctness_Period3(t *testing.T) {
	// Flat candles make TP == close. Closes 10, 11, 12:
	// mean = 11, MAD = (1+0+1)/3 = 0.6667
	// CCI = (12 - 11) / (0.015 * 0.6667) = 100.0
	cci := NewCCI(3)
	var vals []float64
	var ok bool
	for i, p := range []float64{10, 11, 12} {
		vals, ok = cci.Update(flatCandle(i, p))
	}
	if !ok {
		t.Fatal("CCI should be ready")
	}
	assertClose(t, "CCI(3)", vals[0], 100.0, 1e-6)
}

func TestCCI_FlatMarket_Is0(t *testing.T) {
	cci := NewCCI(5)
	var last float64
	for i := 0; i < 8; i++ {
		if vals, ok := cci.Update(flatCandle(i, 100)); ok {
			last = vals[0]
		}
	}
	assertClose(t, "CCI flat", last, 0.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_HistogramIsMACDMinusSignal(t *testing.T) {
	macd := NewMACD(3, 5, 2)
	for i := 0; i < 20; i++ {
		vals, ok := macd.Update(closeCandle(i, 100+float64(i%7)))
		if !ok {
			continue
		}
		assertClose(t, "histogram", vals[2], vals[0]-vals[1], 1e-12)
	}
}

func TestMACD_WarmupIsSlowPlusSignalMinus1(t *testing.T) {
	macd := NewMACD(3, 5, 2)
	for i := 0; i < 5; i++ { // slow+signal-1 = 6, so first 5 emit nothing
		if _, ok := macd.Update(closeCandle(i, float64(100+i))); ok {
			t.Fatalf("MACD emitted at candle %d", i+1)
		}
	}
	if _, ok := macd.Update(closeCandle(5, 105)); !ok {
		t.Fatal("MACD should emit at candle 6")
	}
}

func TestMACD_FlatSeries_AllZero(t *testing.T) {
	macd := NewMACD(12, 26, 9)
	var last []float64
	for i := 0; i < 50; i++ {
		if vals, ok := macd.Update(closeCandle(i, 100)); ok {
			last = vals
		}
	}
	if last == nil {
		t.Fatal("MACD never emitted")
	}
	for j, v := range last {
		assertClose(t, "flat MACD column "+string(rune('0'+j)), v, 0.0, 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBollinger_Correctness_Period3(t *testing.T) {
	// Closes 10, 11, 12: mean = 11, population sd = sqrt(2/3), mult = 2
	boll := NewBollinger(3, 2)
	var vals []float64
	var ok bool
	for i, p := range []float64{10, 11, 12} {
		vals, ok = boll.Update(closeCandle(i, p))
	}
	if !ok {
		t.Fatal("Bollinger should be ready")
	}
	sd := math.Sqrt(2.0 / 3.0)
	assertClose(t, "upper", vals[0], 11+2*sd, 1e-9)
	assertClose(t, "middle", vals[1], 11, 1e-9)
	assertClose(t, "lower", vals[2], 11-2*sd, 1e-9)
}

func TestBollinger_BandOrdering(t *testing.T) {
	boll := NewBollinger(10, 2)
	price := 100.0
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			price += 1.4
		} else {
			price -= 0.5
		}
		if vals, ok := boll.Update(closeCandle(i, price)); ok {
			if !(vals[0] >= vals[1] && vals[1] >= vals[2]) {
				t.Fatalf("band ordering violated at candle %d: %v", i, vals)
			}
		}
	}
}

func TestBollinger_FlatSeries_CollapsedBands(t *testing.T) {
	boll := NewBollinger(5, 2)
	var last []float64
	for i := 0; i < 8; i++ {
		if vals, ok := boll.Update(closeCandle(i, 100)); ok {
			last = vals
		}
	}
	assertClose(t, "upper", last[0], 100, 1e-9)
	assertClose(t, "middle", last[1], 100, 1e-9)
	assertClose(t, "lower", last[2], 100, 1e-9)
}

// ────────────────────────────────────────────────────────────
// ATR
// ────────────────────────────────────────────────────────────

func TestATR_ConstantRange(t *testing.T) {
	// Every candle has H-L = 1 and close == next open, so TR == 1 throughout
	// and ATR == 1 at every output.
	atr := NewATR(5)
	for i := 0; i < 12; i++ {
		c := ohlcCandle(i, 100, 100.5, 99.5, 100, 100)
		if vals, ok := atr.Update(c); ok {
			assertClose(t, "ATR constant range", vals[0], 1.0, 1e-9)
		}
	}
}

func TestATR_WarmupIsPeriodPlusOne(t *testing.T) {
	atr := NewATR(5)
	for i := 0; i < 5; i++ {
		if _, ok := atr.Update(closeCandle(i, float64(100+i))); ok {
			t.Fatalf("ATR emitted during warm-up at candle %d", i+1)
		}
	}
	if _, ok := atr.Update(closeCandle(5, 105)); !ok {
		t.Fatal("ATR should emit at candle 6 (period+1)")
	}
}

func TestATR_GapUsesPrevClose(t *testing.T) {
	// A gap makes |high - prevClose| dominate high-low.
	atr := NewATR(2)
	atr.Update(ohlcCandle(0, 100, 101, 99, 100, 100))
	atr.Update(ohlcCandle(1, 100, 101, 99, 100, 100))                // TR = 2
	vals, ok := atr.Update(ohlcCandle(2, 110, 111, 109, 110, 100)) // TR = 111-100 = 11
	if !ok {
		t.Fatal("ATR should be ready")
	}
	assertClose(t, "ATR seed with gap", vals[0], (2.0+11.0)/2.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// VWAP
// ────────────────────────────────────────────────────────────

func TestVWAP_Correctness(t *testing.T) {
	// Flat candles: TP == price.
	// Candle 1: p=10 v=100 → VWAP = 10
	// Candle 2: p=20 v=300 → VWAP = (10*100 + 20*300) / 400 = 17.5
	v := NewVWAP()
	vals, ok := v.Update(ohlcCandle(0, 10, 10, 10, 10, 100))
	if !ok {
		t.Fatal("VWAP should emit from the first volume-bearing candle")
	}
	assertClose(t, "VWAP candle 1", vals[0], 10.0, 1e-9)

	vals, _ = v.Update(ohlcCandle(1, 20, 20, 20, 20, 300))
	assertClose(t, "VWAP candle 2", vals[0], 17.5, 1e-9)
}

func TestVWAP_ZeroVolumePrefix_Omitted(t *testing.T) {
	v := NewVWAP()
	for i := 0; i < 3; i++ {
		if _, ok := v.Update(ohlcCandle(i, 10, 10, 10, 10, 0)); ok {
			t.Fatalf("VWAP emitted with zero cumulative volume at candle %d", i+1)
		}
	}
	vals, ok := v.Update(ohlcCandle(3, 12, 12, 12, 12, 50))
	if !ok {
		t.Fatal("VWAP should emit once volume arrives")
	}
	assertClose(t, "VWAP after zero prefix", vals[0], 12.0, 1e-9)
}

func TestVWAP_ZeroVolumeCandle_MidSeries(t *testing.T) {
	// A zero-volume candle after volume has accumulated still emits — the
	// cumulative ratio is defined, it just doesn't move.
	v := NewVWAP()
	v.Update(ohlcCandle(0, 10, 10, 10, 10, 100))
	vals, ok := v.Update(ohlcCandle(1, 50, 50, 50, 50, 0))
	if !ok {
		t.Fatal("VWAP should emit for zero-volume candle mid-series")
	}
	assertClose(t, "VWAP unchanged by zero volume", vals[0], 10.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Peek parity across all kernels
// ────────────────────────────────────────────────────────────

func TestAllKernels_PeekMatchesUpdate(t *testing.T) {
	// For every registered kernel: feed a prefix, then verify Peek on the
	// next candle equals what a cloned state's Update emits, and that the
	// peeked state's subsequent Update is unaffected.
	series := make([]model.Candle, 40)
	price := 100.0
	for i := range series {
		if i%3 == 0 {
			price += 2.0
		} else {
			price -= 0.7
		}
		series[i] = ohlcCandle(i, price, price+1, price-1, price+0.3, float64(50+i))
	}

	for _, spec := range DefaultSpecs() {
		st, err := NewState(spec)
		if err != nil {
			t.Fatalf("%s: %v", spec.Name(), err)
		}
		clone, _ := NewState(spec)

		for i := 0; i < len(series)-1; i++ {
			st.Update(series[i])
			clone.Update(series[i])
		}
		next := series[len(series)-1]

		peekVals, peekOK := st.Peek(next)
		updVals, updOK := clone.Update(next)

		if peekOK != updOK {
			t.Errorf("%s: peek ok=%v, update ok=%v", spec.Name(), peekOK, updOK)
			continue
		}
		if updOK {
			for j := range updVals {
				assertClose(t, spec.Name()+" peek col "+string(rune('0'+j)), peekVals[j], updVals[j], 1e-9)
			}
		}

		// The peeked state must now produce the identical update.
		stVals, stOK := st.Update(next)
		if stOK != updOK {
			t.Errorf("%s: post-peek update ok=%v, want %v", spec.Name(), stOK, updOK)
			continue
		}
		for j := range stVals {
			if stVals[j] != updVals[j] {
				t.Errorf("%s: Peek mutated state, col %d: %v vs %v", spec.Name(), j, stVals[j], updVals[j])
			}
		}
	}
}
