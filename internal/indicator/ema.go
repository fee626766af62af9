package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// emaCore is the scalar EMA recurrence shared by EMA and MACD. The seed is
// SMA(period) of the first `period` inputs; after that
// v[t] = (x[t] - v[t-1]) * 2/(period+1) + v[t-1].
type emaCore struct {
	Period int     `json:"period"`
	Mult   float64 `json:"mult"`
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Value  float64 `json:"value"`
}

func newEMACore(period int) emaCore {
	return emaCore{Period: period, Mult: 2.0 / float64(period+1)}
}

func (e *emaCore) step(x float64) (float64, bool) {
	e.Count++
	if e.Count <= e.Period {
		e.Sum += x
		if e.Count == e.Period {
			e.Value = e.Sum / float64(e.Period)
			return e.Value, true
		}
		return 0, false
	}
	e.Value = (x-e.Value)*e.Mult + e.Value
	return e.Value, true
}

func (e *emaCore) peek(x float64) (float64, bool) {
	switch {
	case e.Count+1 < e.Period:
		return (e.Sum + x) / float64(e.Count+1), false
	case e.Count+1 == e.Period:
		return (e.Sum + x) / float64(e.Period), true
	default:
		return (x-e.Value)*e.Mult + e.Value, true
	}
}

func (e *emaCore) ready() bool { return e.Count >= e.Period }

func (e *emaCore) reset() {
	e.Count = 0
	e.Sum = 0
	e.Value = 0
}

// EMA calculates the Exponential Moving Average of closes.
// The incremental update is identical to the batch recurrence — this kernel
// is streaming-native by construction.
type EMA struct {
	core emaCore
}

// NewEMA creates a new EMA kernel state with the given period.
func NewEMA(period int) *EMA {
	return &EMA{core: newEMACore(period)}
}

func (e *EMA) Name() string {
	return Spec{Kind: KindEMA, Params: Params{Period: e.core.Period}}.Name()
}
func (e *EMA) Columns() []string { return []string{"value"} }
func (e *EMA) Warmup() int       { return e.core.Period }
func (e *EMA) Ready() bool       { return e.core.ready() }

func (e *EMA) Update(c model.Candle) ([]float64, bool) {
	v, ok := e.core.step(c.Close)
	if !ok {
		return nil, false
	}
	return []float64{v}, true
}

func (e *EMA) Peek(c model.Candle) ([]float64, bool) {
	v, ok := e.core.peek(c.Close)
	return []float64{v}, ok
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() { e.core.reset() }

func (e *EMA) MarshalState() ([]byte, error) {
	return json.Marshal(&e.core)
}

func (e *EMA) UnmarshalState(data []byte) error {
	return json.Unmarshal(data, &e.core)
}
