package indicator

import (
	"encoding/json"

	"charting-systemv1/internal/model"
)

// COG calculates the center-of-gravity (linearly-weighted) mean of closes:
// the most recent close carries weight `period`, decreasing to 1 for the
// oldest in the window. O(1) per update via the window's weighted sum.
type COG struct {
	period int
	denom  float64 // 1 + 2 + … + period
	win    *Window
}

// NewCOG creates a new COG kernel state with the given period.
func NewCOG(period int) *COG {
	return &COG{
		period: period,
		denom:  float64(period) * float64(period+1) / 2.0,
		win:    NewWindow(period),
	}
}

func (g *COG) Name() string      { return Spec{Kind: KindCOG, Params: Params{Period: g.period}}.Name() }
func (g *COG) Columns() []string { return []string{"value"} }
func (g *COG) Warmup() int       { return g.period }
func (g *COG) Ready() bool       { return g.win.Ready() }

func (g *COG) Update(c model.Candle) ([]float64, bool) {
	g.win.Push(c.Close)
	if !g.win.Ready() {
		return nil, false
	}
	return []float64{g.win.WeightedSum() / g.denom}, true
}

func (g *COG) Peek(c model.Candle) ([]float64, bool) {
	n := g.win.Len()
	switch {
	case n >= g.period: // full window, pushing evicts the oldest
		ws := g.win.WeightedSum() - g.win.Sum() + float64(g.period)*c.Close
		return []float64{ws / g.denom}, true
	case n+1 == g.period:
		ws := g.win.WeightedSum() + float64(g.period)*c.Close
		return []float64{ws / g.denom}, true
	default:
		ws := g.win.WeightedSum() + float64(n+1)*c.Close
		denom := float64(n+1) * float64(n+2) / 2.0
		return []float64{ws / denom}, false
	}
}

// Reset clears the COG state for reuse.
func (g *COG) Reset() { g.win.Reset() }

type cogSnapshot struct {
	Window []float64 `json:"window"`
}

func (g *COG) MarshalState() ([]byte, error) {
	return json.Marshal(cogSnapshot{Window: g.win.snapshot()})
}

func (g *COG) UnmarshalState(data []byte) error {
	var snap cogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	g.win.restore(snap.Window)
	return nil
}
