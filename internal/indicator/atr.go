package indicator

import (
	"encoding/json"
	"math"

	"charting-systemv1/internal/model"
)

// ATR calculates the Average True Range with Wilder smoothing, the same
// recurrence shape as RSI's average gain/loss:
//
//	TR[t]  = max(high-low, |high-prevClose|, |low-prevClose|)
//	seed   = mean of the first `period` true ranges
//	ATR[t] = (ATR[t-1]*(period-1) + TR[t]) / period
//
// True range needs a previous close, so the warm-up is period + 1 candles.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	value     float64
}

// NewATR creates a new ATR kernel state with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string      { return Spec{Kind: KindATR, Params: Params{Period: a.period}}.Name() }
func (a *ATR) Columns() []string { return []string{"value"} }
func (a *ATR) Warmup() int       { return a.period + 1 }
func (a *ATR) Ready() bool       { return a.count > a.period }

func (a *ATR) Update(c model.Candle) ([]float64, bool) {
	a.count++
	if a.count == 1 {
		a.prevClose = c.Close
		return nil, false
	}

	tr := trueRange(c, a.prevClose)
	a.prevClose = c.Close

	if a.count <= a.period+1 {
		a.sum += tr
		if a.count < a.period+1 {
			return nil, false
		}
		a.value = a.sum / float64(a.period)
		return []float64{a.value}, true
	}

	p := float64(a.period)
	a.value = (a.value*(p-1) + tr) / p
	return []float64{a.value}, true
}

func (a *ATR) Peek(c model.Candle) ([]float64, bool) {
	if a.count == 0 {
		return nil, false
	}
	tr := trueRange(c, a.prevClose)

	if a.count+1 <= a.period+1 {
		if a.count+1 < a.period+1 {
			return nil, false
		}
		return []float64{(a.sum + tr) / float64(a.period)}, true
	}
	p := float64(a.period)
	return []float64{(a.value*(p-1) + tr) / p}, true
}

// Reset clears the ATR state for reuse.
func (a *ATR) Reset() {
	a.count = 0
	a.prevClose = 0
	a.sum = 0
	a.value = 0
}

func trueRange(c model.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if hc := math.Abs(c.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(c.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}

type atrSnapshot struct {
	Count     int     `json:"count"`
	PrevClose float64 `json:"prev_close"`
	Sum       float64 `json:"sum"`
	Value     float64 `json:"value"`
}

func (a *ATR) MarshalState() ([]byte, error) {
	return json.Marshal(atrSnapshot{Count: a.count, PrevClose: a.prevClose, Sum: a.sum, Value: a.value})
}

func (a *ATR) UnmarshalState(data []byte) error {
	var snap atrSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	a.count = snap.Count
	a.prevClose = snap.PrevClose
	a.sum = snap.Sum
	a.value = snap.Value
	return nil
}
