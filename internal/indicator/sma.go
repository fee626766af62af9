package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// SMA calculates the Simple Moving Average over a rolling window of closes.
// O(1) per update via the shared ring-buffer window.
type SMA struct {
	period int
	win    *Window
}

// NewSMA creates a new SMA kernel state with the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, win: NewWindow(period)}
}

func (s *SMA) Name() string      { return Spec{Kind: KindSMA, Params: Params{Period: s.period}}.Name() }
func (s *SMA) Columns() []string { return []string{"value"} }
func (s *SMA) Warmup() int       { return s.period }
func (s *SMA) Ready() bool       { return s.win.Ready() }

func (s *SMA) Update(c model.Candle) ([]float64, bool) {
	s.win.Push(c.Close)
	if !s.win.Ready() {
		return nil, false
	}
	return []float64{s.win.Mean()}, true
}

// Peek previews the next value without mutating state. While warming up it
// returns the partial average over the values seen so far plus c.
func (s *SMA) Peek(c model.Candle) ([]float64, bool) {
	sum := s.win.PeekSum(c.Close)
	n := s.win.Len() + 1
	if n >= s.period {
		return []float64{sum / float64(s.period)}, true
	}
	return []float64{sum / float64(n)}, false
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() { s.win.Reset() }

type smaSnapshot struct {
	Window []float64 `json:"window"`
}

func (s *SMA) MarshalState() ([]byte, error) {
	return json.Marshal(smaSnapshot{Window: s.win.snapshot()})
}

func (s *SMA) UnmarshalState(data []byte) error {
	var snap smaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.win.restore(snap.Window)
	return nil
}
