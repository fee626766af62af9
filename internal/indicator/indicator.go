// Package indicator provides technical indicator calculations over candle data.
//
// Each indicator family is implemented as a streaming kernel state: it
// consumes one finalized candle per Update in O(1)-to-O(period) time and
// emits at most one aligned output point. Batch computation over a full
// candle series replays the same kernel from a fresh state, so the batch
// and streaming paths are identical by construction.
package indicator

import (
	"errors"

	"charting-systemv1/internal/model"
)

// ErrOutOfOrderAppend marks a streamed candle whose timestamp is not
// strictly greater than the session's last. This is a logical caller error —
// retrying with the same data will fail again.
var ErrOutOfOrderAppend = errors.New("out-of-order append")

// State is the mutable kernel state of one indicator instance.
//
// States are single-writer: exactly one Update call may be in flight at a
// time. Callers that share a state across goroutines must serialize access
// themselves; the kernels hold no locks.
type State interface {
	// Name returns the instance id, e.g. "SMA_20" or "MACD_12_26_9".
	Name() string

	// Columns returns the output value names, e.g. ["upper","middle","lower"].
	Columns() []string

	// Warmup returns the number of candles consumed before the first output.
	Warmup() int

	// Update feeds the next closed candle. It returns the output values and
	// true once the warm-up window is filled, or (nil, false) before that.
	Update(c model.Candle) ([]float64, bool)

	// Peek computes what Update would emit for this candle WITHOUT mutating
	// internal state. Used for live previews from forming candles; the
	// returned bool mirrors Ready() after such an update.
	Peek(c model.Candle) ([]float64, bool)

	// Ready reports whether the warm-up window has been filled.
	Ready() bool

	// Reset clears all internal state.
	Reset()
}

// Snapshottable is implemented by states that support checkpoint persistence.
// All registry kernels implement it.
type Snapshottable interface {
	State

	// MarshalState serializes the internal state as JSON.
	MarshalState() ([]byte, error)

	// UnmarshalState restores the internal state from MarshalState output.
	// The state must have been constructed with the same params.
	UnmarshalState(data []byte) error
}
