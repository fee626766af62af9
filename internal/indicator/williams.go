package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// WilliamsR calculates Williams %R:
//
//	%R = (highestHigh(period) - close) / (highestHigh(period) - lowestLow(period)) * -100
//
// Output lives in [-100, 0]. A zero high-low range defines %R as 0.
type WilliamsR struct {
	period int
	highs  *Window
	lows   *Window
}

// NewWilliamsR creates a new Williams %R kernel state.
func NewWilliamsR(period int) *WilliamsR {
	return &WilliamsR{
		period: period,
		highs:  NewWindow(period),
		lows:   NewWindow(period),
	}
}

func (w *WilliamsR) Name() string {
	return Spec{Kind: KindWillR, Params: Params{Period: w.period}}.Name()
}
func (w *WilliamsR) Columns() []string { return []string{"value"} }
func (w *WilliamsR) Warmup() int       { return w.period }
func (w *WilliamsR) Ready() bool       { return w.highs.Ready() }

func (w *WilliamsR) Update(c model.Candle) ([]float64, bool) {
	w.highs.Push(c.High)
	w.lows.Push(c.Low)
	if !w.highs.Ready() {
		return nil, false
	}
	return []float64{willR(c.Close, w.highs.Max(), w.lows.Min())}, true
}

func (w *WilliamsR) Peek(c model.Candle) ([]float64, bool) {
	if w.highs.Len()+1 < w.period {
		return nil, false
	}
	hh := w.highs.PeekMax(c.High)
	ll := w.lows.PeekMin(c.Low)
	return []float64{willR(c.Close, hh, ll)}, true
}

// Reset clears the Williams %R state for reuse.
func (w *WilliamsR) Reset() {
	w.highs.Reset()
	w.lows.Reset()
}

func willR(close, hh, ll float64) float64 {
	if hh == ll {
		return 0.0 // flat market, avoid division by zero
	}
	return (hh - close) / (hh - ll) * -100.0
}

type willRSnapshot struct {
	Highs []float64 `json:"highs"`
	Lows  []float64 `json:"lows"`
}

func (w *WilliamsR) MarshalState() ([]byte, error) {
	return json.Marshal(willRSnapshot{Highs: w.highs.snapshot(), Lows: w.lows.snapshot()})
}

func (w *WilliamsR) UnmarshalState(data []byte) error {
	var snap willRSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	w.highs.restore(snap.Highs)
	w.lows.restore(snap.Lows)
	return nil
}
