package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// O(1) per update — no history scans.
//
// Degenerate windows never yield NaN: avgLoss == 0 maps to 100, and a fully
// flat window (avgGain == avgLoss == 0) maps to 50.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
}

// NewRSI creates a new RSI kernel state with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string      { return Spec{Kind: KindRSI, Params: Params{Period: r.period}}.Name() }
func (r *RSI) Columns() []string { return []string{"value"} }
func (r *RSI) Warmup() int       { return r.period + 1 }
func (r *RSI) Ready() bool       { return r.count > r.period }

func (r *RSI) Update(c model.Candle) ([]float64, bool) {
	price := c.Close
	r.count++

	if r.count == 1 {
		// First candle — just record price, no delta yet.
		r.prevClose = price
		return nil, false
	}

	gain, loss := gainLoss(price - r.prevClose)
	r.prevClose = price

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count < r.period+1 {
			return nil, false
		}
		r.avgGain /= float64(r.period)
		r.avgLoss /= float64(r.period)
		return []float64{rsiValue(r.avgGain, r.avgLoss)}, true
	}

	// Wilder's smoothing: avg = (prevAvg*(period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	return []float64{rsiValue(r.avgGain, r.avgLoss)}, true
}

func (r *RSI) Peek(c model.Candle) ([]float64, bool) {
	if r.count == 0 {
		return nil, false
	}
	gain, loss := gainLoss(c.Close - r.prevClose)

	if r.count+1 <= r.period+1 {
		ag := r.avgGain + gain
		al := r.avgLoss + loss
		if r.count+1 < r.period+1 {
			return nil, false
		}
		return []float64{rsiValue(ag/float64(r.period), al/float64(r.period))}, true
	}

	p := float64(r.period)
	ag := (r.avgGain*(p-1) + gain) / p
	al := (r.avgLoss*(p-1) + loss) / p
	return []float64{rsiValue(ag, al)}, true
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
}

func gainLoss(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0 // flat window
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

type rsiSnapshot struct {
	Count     int     `json:"count"`
	PrevClose float64 `json:"prev_close"`
	AvgGain   float64 `json:"avg_gain"`
	AvgLoss   float64 `json:"avg_loss"`
}

func (r *RSI) MarshalState() ([]byte, error) {
	return json.Marshal(rsiSnapshot{
		Count:     r.count,
		PrevClose: r.prevClose,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
	})
}

func (r *RSI) UnmarshalState(data []byte) error {
	var snap rsiSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	return nil
}
