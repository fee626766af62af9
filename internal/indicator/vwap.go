package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// VWAP calculates the cumulative volume-weighted average price from the
// start of the series:
//
//	VWAP[t] = Σ(typicalPrice[i] * volume[i]) / Σ(volume[i]),  i = 0…t
//
// There is no warm-up window, but while the cumulative volume is still zero
// the value is undefined and the point is omitted rather than emitted as NaN.
// VWAP is therefore the one sparse kernel in the registry.
type VWAP struct {
	count int
	cumPV float64
	cumV  float64
}

// NewVWAP creates a new VWAP kernel state.
func NewVWAP() *VWAP {
	return &VWAP{}
}

func (v *VWAP) Name() string      { return Spec{Kind: KindVWAP}.Name() }
func (v *VWAP) Columns() []string { return []string{"value"} }
func (v *VWAP) Warmup() int       { return 1 }
func (v *VWAP) Ready() bool       { return v.cumV > 0 }

func (v *VWAP) Update(c model.Candle) ([]float64, bool) {
	v.count++
	v.cumPV += c.TypicalPrice() * c.Volume
	v.cumV += c.Volume
	if v.cumV <= 0 {
		return nil, false // all-zero-volume prefix: undefined, omit
	}
	return []float64{v.cumPV / v.cumV}, true
}

func (v *VWAP) Peek(c model.Candle) ([]float64, bool) {
	pv := v.cumPV + c.TypicalPrice()*c.Volume
	vol := v.cumV + c.Volume
	if vol <= 0 {
		return nil, false
	}
	return []float64{pv / vol}, true
}

// Reset clears the VWAP state for reuse.
func (v *VWAP) Reset() {
	v.count = 0
	v.cumPV = 0
	v.cumV = 0
}

type vwapSnapshot struct {
	Count int     `json:"count"`
	CumPV float64 `json:"cum_pv"`
	CumV  float64 `json:"cum_v"`
}

func (v *VWAP) MarshalState() ([]byte, error) {
	return json.Marshal(vwapSnapshot{Count: v.count, CumPV: v.cumPV, CumV: v.cumV})
}

func (v *VWAP) UnmarshalState(data []byte) error {
	var snap vwapSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	v.count = snap.Count
	v.cumPV = snap.CumPV
	v.cumV = snap.CumV
	return nil
}
