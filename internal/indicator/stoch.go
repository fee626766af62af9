package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// Stoch calculates the Stochastic oscillator:
//
//	%K = (close - lowestLow(kPeriod)) / (highestHigh(kPeriod) - lowestLow(kPeriod)) * 100
//	%D = SMA(dPeriod) of %K
//
// A zero high-low range (flat market) defines %K as 50 instead of dividing
// by zero. The kernel emits both lines together once %D is ready, so its
// warm-up is kPeriod + dPeriod - 1.
type Stoch struct {
	kPeriod int
	dPeriod int
	highs   *Window
	lows    *Window
	dWin    *Window // rolling SMA window over %K
}

// NewStoch creates a new Stochastic kernel state.
func NewStoch(kPeriod, dPeriod int) *Stoch {
	return &Stoch{
		kPeriod: kPeriod,
		dPeriod: dPeriod,
		highs:   NewWindow(kPeriod),
		lows:    NewWindow(kPeriod),
		dWin:    NewWindow(dPeriod),
	}
}

func (s *Stoch) Name() string {
	return Spec{Kind: KindStoch, Params: Params{Period: s.kPeriod, DPeriod: s.dPeriod}}.Name()
}
func (s *Stoch) Columns() []string { return []string{"k", "d"} }
func (s *Stoch) Warmup() int       { return s.kPeriod + s.dPeriod - 1 }
func (s *Stoch) Ready() bool       { return s.dWin.Ready() }

func (s *Stoch) Update(c model.Candle) ([]float64, bool) {
	s.highs.Push(c.High)
	s.lows.Push(c.Low)
	if !s.highs.Ready() {
		return nil, false
	}

	k := stochK(c.Close, s.highs.Max(), s.lows.Min())
	s.dWin.Push(k)
	if !s.dWin.Ready() {
		return nil, false
	}
	return []float64{k, s.dWin.Mean()}, true
}

func (s *Stoch) Peek(c model.Candle) ([]float64, bool) {
	if s.highs.Len()+1 < s.kPeriod {
		return nil, false
	}
	k := stochK(c.Close, s.highs.PeekMax(c.High), s.lows.PeekMin(c.Low))

	dSum := s.dWin.PeekSum(k)
	if n := s.dWin.Len() + 1; n < s.dPeriod {
		return []float64{k, dSum / float64(n)}, false
	}
	return []float64{k, dSum / float64(s.dPeriod)}, true
}

// Reset clears the Stochastic state for reuse.
func (s *Stoch) Reset() {
	s.highs.Reset()
	s.lows.Reset()
	s.dWin.Reset()
}

func stochK(close, hh, ll float64) float64 {
	if hh == ll {
		return 50.0 // flat market, avoid division by zero
	}
	return (close - ll) / (hh - ll) * 100.0
}

type stochSnapshot struct {
	Highs []float64 `json:"highs"`
	Lows  []float64 `json:"lows"`
	KVals []float64 `json:"k_vals"`
}

func (s *Stoch) MarshalState() ([]byte, error) {
	return json.Marshal(stochSnapshot{
		Highs: s.highs.snapshot(),
		Lows:  s.lows.snapshot(),
		KVals: s.dWin.snapshot(),
	})
}

func (s *Stoch) UnmarshalState(data []byte) error {
	var snap stochSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.highs.restore(snap.Highs)
	s.lows.restore(snap.Lows)
	s.dWin.restore(snap.KVals)
	return nil
}
