package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// MACD calculates Moving Average Convergence Divergence:
//
//	macdLine  = EMA(fast) - EMA(slow)
//	signal    = EMA(signalPeriod) of macdLine
//	histogram = macdLine - signal
//
// The signal EMA only starts consuming once the slow EMA is seeded, so the
// first full output appears after slow + signal - 1 candles. All three lines
// share that single alignment offset — there is no per-line slicing.
type MACD struct {
	fast   emaCore
	slow   emaCore
	signal emaCore
}

// NewMACD creates a new MACD kernel state (typically 12, 26, 9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   newEMACore(fastPeriod),
		slow:   newEMACore(slowPeriod),
		signal: newEMACore(signalPeriod),
	}
}

func (m *MACD) Name() string {
	return Spec{Kind: KindMACD, Params: Params{
		Fast: m.fast.Period, Slow: m.slow.Period, Signal: m.signal.Period,
	}}.Name()
}
func (m *MACD) Columns() []string { return []string{"macd", "signal", "histogram"} }
func (m *MACD) Warmup() int       { return m.slow.Period + m.signal.Period - 1 }
func (m *MACD) Ready() bool       { return m.signal.ready() }

func (m *MACD) Update(c model.Candle) ([]float64, bool) {
	x := c.Close
	fv, _ := m.fast.step(x)
	sv, sok := m.slow.step(x)
	if !sok {
		// fast < slow, so the fast EMA is always seeded before the slow one;
		// until then the macd line does not exist yet.
		return nil, false
	}

	macd := fv - sv
	sig, ok := m.signal.step(macd)
	if !ok {
		return nil, false
	}
	return []float64{macd, sig, macd - sig}, true
}

func (m *MACD) Peek(c model.Candle) ([]float64, bool) {
	x := c.Close
	fv, _ := m.fast.peek(x)
	sv, sok := m.slow.peek(x)
	if !sok {
		return nil, false
	}
	macd := fv - sv
	sig, ok := m.signal.peek(macd)
	if !ok {
		return nil, false
	}
	return []float64{macd, sig, macd - sig}, true
}

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.reset()
	m.slow.reset()
	m.signal.reset()
}

type macdSnapshot struct {
	Fast   emaCore `json:"fast"`
	Slow   emaCore `json:"slow"`
	Signal emaCore `json:"signal"`
}

func (m *MACD) MarshalState() ([]byte, error) {
	return json.Marshal(macdSnapshot{Fast: m.fast, Slow: m.slow, Signal: m.signal})
}

func (m *MACD) UnmarshalState(data []byte) error {
	var snap macdSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.fast = snap.Fast
	m.slow = snap.Slow
	m.signal = snap.Signal
	return nil
}
