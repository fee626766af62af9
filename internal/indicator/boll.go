package indicator

import (
	"encoding/json"
	"math"

	"charting-systemv1/internal/model"
)

// Bollinger calculates Bollinger Bands: middle = SMA(period) of closes,
// upper/lower = middle ± mult * population standard deviation of the window.
// For mult >= 0 every output satisfies upper >= middle >= lower.
//
// The deviation pass is an O(period) scan of the ring contents around the
// rolling mean, which avoids the cancellation error of a sum-of-squares
// shortcut.
type Bollinger struct {
	period  int
	mult    float64
	win     *Window
	scratch []float64
}

// NewBollinger creates a new Bollinger Bands kernel state (typically 20, 2).
func NewBollinger(period int, mult float64) *Bollinger {
	return &Bollinger{
		period:  period,
		mult:    mult,
		win:     NewWindow(period),
		scratch: make([]float64, 0, period),
	}
}

func (b *Bollinger) Name() string {
	return Spec{Kind: KindBoll, Params: Params{Period: b.period, Mult: b.mult}}.Name()
}
func (b *Bollinger) Columns() []string { return []string{"upper", "middle", "lower"} }
func (b *Bollinger) Warmup() int       { return b.period }
func (b *Bollinger) Ready() bool       { return b.win.Ready() }

func (b *Bollinger) Update(c model.Candle) ([]float64, bool) {
	b.win.Push(c.Close)
	if !b.win.Ready() {
		return nil, false
	}

	mean := b.win.Mean()
	b.scratch = b.win.Values(b.scratch[:0])
	sd := stdDev(b.scratch, mean)
	band := b.mult * sd
	return []float64{mean + band, mean, mean - band}, true
}

func (b *Bollinger) Peek(c model.Candle) ([]float64, bool) {
	if b.win.Len()+1 < b.period {
		return nil, false
	}
	mean := b.win.PeekSum(c.Close) / float64(b.period)

	b.scratch = b.win.Values(b.scratch[:0])
	vals := b.scratch
	if len(vals) >= b.period {
		vals = vals[1:]
	}
	variance := (c.Close - mean) * (c.Close - mean)
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(b.period))
	band := b.mult * sd
	return []float64{mean + band, mean, mean - band}, true
}

// Reset clears the Bollinger state for reuse.
func (b *Bollinger) Reset() {
	b.win.Reset()
	b.scratch = b.scratch[:0]
}

// stdDev returns the population standard deviation of vals around mean.
func stdDev(vals []float64, mean float64) float64 {
	variance := 0.0
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(vals)))
}

type bollSnapshot struct {
	Window []float64 `json:"window"`
}

func (b *Bollinger) MarshalState() ([]byte, error) {
	return json.Marshal(bollSnapshot{Window: b.win.snapshot()})
}

func (b *Bollinger) UnmarshalState(data []byte) error {
	var snap bollSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	b.win.restore(snap.Window)
	return nil
}
