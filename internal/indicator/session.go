package indicator

import (
	"fmt"

	"charting-systemv1/internal/model"
)

// Session owns one mutable kernel state per subscribed indicator for a
// single (symbol, timeframe) pair. Append is the only mutating entry point.
//
// Sessions are single-writer: callers must serialize Append calls (the
// engine runs each session on one goroutine). Concurrent appends are a
// caller error the session does not attempt to resolve.
type Session struct {
	symbol string
	tf     int
	lastTS int64
	specs  []Spec
	states []State
}

// NewSession creates kernel states for every spec.
func NewSession(symbol string, tf int, specs []Spec) (*Session, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	states := make([]State, len(specs))
	for i, spec := range specs {
		st, err := NewState(spec)
		if err != nil {
			return nil, err
		}
		states[i] = st
	}
	return &Session{symbol: symbol, tf: tf, specs: specs, states: states}, nil
}

func (s *Session) Symbol() string { return s.symbol }
func (s *Session) TF() int        { return s.tf }
func (s *Session) LastTS() int64  { return s.lastTS }

// Append feeds one finalized candle through every kernel and returns the new
// aligned points — zero or one per indicator (zero only while that kernel is
// still inside its warm-up window).
//
// A candle whose timestamp is not strictly greater than the last appended
// one is rejected with ErrOutOfOrderAppend and mutates nothing.
func (s *Session) Append(c model.Candle) ([]model.IndicatorUpdate, error) {
	if c.Symbol != s.symbol || c.TF != s.tf {
		return nil, fmt.Errorf("candle %s routed to session %s:%d", c.Key(), s.symbol, s.tf)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.TS <= s.lastTS {
		return nil, fmt.Errorf("%w: ts=%d not after last=%d", ErrOutOfOrderAppend, c.TS, s.lastTS)
	}
	s.lastTS = c.TS

	updates := make([]model.IndicatorUpdate, 0, len(s.states))
	for _, st := range s.states {
		vals, ok := st.Update(c)
		if !ok {
			continue
		}
		updates = append(updates, model.IndicatorUpdate{
			Name:    st.Name(),
			Symbol:  s.symbol,
			TF:      s.tf,
			TS:      c.TS,
			Columns: st.Columns(),
			Values:  vals,
			Ready:   true,
		})
	}
	return updates, nil
}

// Peek computes preview updates for a forming candle WITHOUT mutating any
// kernel state. Not-yet-ready kernels report partial values with Ready=false
// where they can, or are skipped entirely.
func (s *Session) Peek(c model.Candle) []model.IndicatorUpdate {
	updates := make([]model.IndicatorUpdate, 0, len(s.states))
	for _, st := range s.states {
		vals, ok := st.Peek(c)
		if vals == nil {
			continue
		}
		updates = append(updates, model.IndicatorUpdate{
			Name:    st.Name(),
			Symbol:  s.symbol,
			TF:      s.tf,
			TS:      c.TS,
			Columns: st.Columns(),
			Values:  vals,
			Ready:   ok,
			Live:    true,
		})
	}
	return updates
}

// Reset clears every kernel state and the append cursor.
func (s *Session) Reset() {
	s.lastTS = 0
	for _, st := range s.states {
		st.Reset()
	}
}
