package indicator

import (
	"context"

	"charting-systemv1/internal/model"
)

// Engine computes the configured indicator set across many (symbol,
// timeframe) pairs, creating a streaming session lazily on the first candle
// for each pair. Designed for single-goroutine usage — no locks needed.
type Engine struct {
	specs    []Spec
	sessions map[string]*Session // key: "symbol:tf"
}

// NewEngine creates an engine applying the given indicator set to every
// (symbol, timeframe) it encounters.
func NewEngine(specs []Spec) *Engine {
	return &Engine{
		specs:    specs,
		sessions: make(map[string]*Session, 64),
	}
}

// Specs returns the currently configured indicator set.
func (e *Engine) Specs() []Spec { return e.specs }

// SessionCount returns the number of live (symbol, timeframe) sessions.
func (e *Engine) SessionCount() int { return len(e.sessions) }

// Process appends a finalized candle to its session and returns the new
// aligned indicator points.
func (e *Engine) Process(c model.Candle) ([]model.IndicatorUpdate, error) {
	key := c.Key()
	sess, ok := e.sessions[key]
	if !ok {
		var err error
		sess, err = NewSession(c.Symbol, c.TF, e.specs)
		if err != nil {
			return nil, err
		}
		e.sessions[key] = sess
	}
	return sess.Append(c)
}

// ProcessPeek computes live preview values for a forming candle without
// mutating any state. Returns nil for a pair that has never been seen —
// callers seed sessions with completed candles first.
func (e *Engine) ProcessPeek(c model.Candle) []model.IndicatorUpdate {
	sess, ok := e.sessions[c.Key()]
	if !ok {
		return nil
	}
	return sess.Peek(c)
}

// Run consumes finalized candles and emits indicator updates.
// Blocks until ctx is done or candleCh closes. Forming candles are routed
// through ProcessPeek so they never mutate kernel state.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle, out chan<- model.IndicatorUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			var updates []model.IndicatorUpdate
			if c.Forming {
				updates = e.ProcessPeek(c)
			} else {
				updates, _ = e.Process(c)
			}
			for _, u := range updates {
				select {
				case out <- u:
				default:
					// drop if channel full
				}
			}
		}
	}
}
