package indicator

import (
	"encoding/json"
	"math"

	"charting-systemv1/internal/model"
)

// CCI calculates the Commodity Channel Index over typical prices:
//
//	CCI = (TP - SMA(TP, period)) / (0.015 * meanAbsoluteDeviation(TP, period))
//
// Zero mean absolute deviation defines CCI as 0. Mean deviation is inherently
// an O(period) scan of the window; the rolling sum keeps the mean O(1).
type CCI struct {
	period  int
	win     *Window
	scratch []float64
}

// NewCCI creates a new CCI kernel state with the given period.
func NewCCI(period int) *CCI {
	return &CCI{
		period:  period,
		win:     NewWindow(period),
		scratch: make([]float64, 0, period),
	}
}

func (c *CCI) Name() string      { return Spec{Kind: KindCCI, Params: Params{Period: c.period}}.Name() }
func (c *CCI) Columns() []string { return []string{"value"} }
func (c *CCI) Warmup() int       { return c.period }
func (c *CCI) Ready() bool       { return c.win.Ready() }

func (c *CCI) Update(k model.Candle) ([]float64, bool) {
	tp := k.TypicalPrice()
	c.win.Push(tp)
	if !c.win.Ready() {
		return nil, false
	}

	mean := c.win.Mean()
	c.scratch = c.win.Values(c.scratch[:0])
	return []float64{cciValue(tp, mean, c.scratch)}, true
}

func (c *CCI) Peek(k model.Candle) ([]float64, bool) {
	if c.win.Len()+1 < c.period {
		return nil, false
	}
	tp := k.TypicalPrice()
	mean := c.win.PeekSum(tp) / float64(c.period)

	c.scratch = c.win.Values(c.scratch[:0])
	vals := c.scratch
	if len(vals) >= c.period {
		vals = vals[1:] // the oldest value falls out of the window
	}
	dev := math.Abs(tp - mean)
	for _, v := range vals {
		dev += math.Abs(v - mean)
	}
	dev /= float64(c.period)
	if dev == 0 {
		return []float64{0}, true
	}
	return []float64{(tp - mean) / (0.015 * dev)}, true
}

// Reset clears the CCI state for reuse.
func (c *CCI) Reset() {
	c.win.Reset()
	c.scratch = c.scratch[:0]
}

func cciValue(tp, mean float64, window []float64) float64 {
	dev := 0.0
	for _, v := range window {
		dev += math.Abs(v - mean)
	}
	dev /= float64(len(window))
	if dev == 0 {
		return 0.0
	}
	return (tp - mean) / (0.015 * dev)
}

type cciSnapshot struct {
	Window []float64 `json:"window"`
}

func (c *CCI) MarshalState() ([]byte, error) {
	return json.Marshal(cciSnapshot{Window: c.win.snapshot()})
}

func (c *CCI) UnmarshalState(data []byte) error {
	var snap cciSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	c.win.restore(snap.Window)
	return nil
}
